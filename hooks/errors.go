package hooks

import "errors"

var (
	// ErrAlreadyStarted is returned by Dispatcher.Start when called twice.
	ErrAlreadyStarted = errors.New("hooks: dispatcher already started")
	// ErrNotStarted is returned by Dispatcher.Stop before Start has run.
	ErrNotStarted = errors.New("hooks: dispatcher not started")
	// ErrQueueFull reports a saturated delivery queue. Enqueue drops and
	// logs rather than returning it; it is exported for sinks that want
	// to surface the same condition from their own buffering.
	ErrQueueFull = errors.New("hooks: delivery queue full")
)
