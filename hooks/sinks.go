package hooks

// FeedbackNotificationHook returns a Hook that, after a successful
// KindAddFeedback action, enqueues the action to sink via dispatcher.
// It is a no-op for every other action kind.
func FeedbackNotificationHook(dispatcher *Dispatcher, sink Sink) Hook {
	return func(next func() error, action Action) error {
		if err := next(); err != nil {
			return err
		}
		if action.Kind == KindAddFeedback {
			dispatcher.Enqueue(action, sink)
		}
		return nil
	}
}

// MetadataEventHook returns a Hook that enqueues every metadata
// mutation (KindUpdate, KindDelete) to sink after it succeeds.
func MetadataEventHook(dispatcher *Dispatcher, sink Sink) Hook {
	return func(next func() error, action Action) error {
		if err := next(); err != nil {
			return err
		}
		switch action.Kind {
		case KindUpdate, KindDelete:
			dispatcher.Enqueue(action, sink)
		}
		return nil
	}
}

// MetadataPushHook returns a Hook that enqueues metadata mutations
// (KindUpdate, KindDelete) to sink after they succeed. It is intended
// to pair with a MetadataPushSink driving a live viewer connection; the
// hook itself is identical in shape to MetadataEventHook and exists so
// the two destinations can be wired and disabled independently.
func MetadataPushHook(dispatcher *Dispatcher, sink Sink) Hook {
	return func(next func() error, action Action) error {
		if err := next(); err != nil {
			return err
		}
		switch action.Kind {
		case KindUpdate, KindDelete:
			dispatcher.Enqueue(action, sink)
		}
		return nil
	}
}
