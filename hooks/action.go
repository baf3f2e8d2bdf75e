// Package hooks implements the session manager's notification pipeline:
// a closed set of actions describing what changed, and a dispatcher that
// delivers them to registered sinks off the caller's goroutine.
package hooks

// ActionKind identifies which variant an Action holds. Treat Action as a
// closed sum type: switch on Kind, never on the zero values of the
// unused fields.
type ActionKind string

const (
	// KindUpdate reports that metadata keys were merged into a session.
	KindUpdate ActionKind = "update"
	// KindDelete reports that metadata keys were removed from a session.
	KindDelete ActionKind = "delete"
	// KindGet reports that a session's metadata was read.
	KindGet ActionKind = "get"
	// KindAddFeedback reports that a feedback entry was appended.
	KindAddFeedback ActionKind = "add_feedback"
)

// Action describes one event a hook may react to. Only the fields
// relevant to Kind are populated.
type Action struct {
	Kind ActionKind

	// SessionID is set for every action kind.
	SessionID string

	// MetadataKeys holds the keys written (KindUpdate), removed
	// (KindDelete), or read (KindGet).
	MetadataKeys []string

	// MetadataValues holds the key/value pairs written, for KindUpdate.
	MetadataValues map[string]any

	// Rating and Comment are populated for KindAddFeedback.
	Rating  *string
	Comment string
}

// NewUpdateAction builds a KindUpdate action.
func NewUpdateAction(sessionID string, values map[string]any) Action {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	return Action{Kind: KindUpdate, SessionID: sessionID, MetadataKeys: keys, MetadataValues: values}
}

// NewDeleteAction builds a KindDelete action.
func NewDeleteAction(sessionID string, keys []string) Action {
	return Action{Kind: KindDelete, SessionID: sessionID, MetadataKeys: keys}
}

// NewGetAction builds a KindGet action.
func NewGetAction(sessionID string, keys []string) Action {
	return Action{Kind: KindGet, SessionID: sessionID, MetadataKeys: keys}
}

// NewAddFeedbackAction builds a KindAddFeedback action.
func NewAddFeedbackAction(sessionID string, rating *string, comment string) Action {
	return Action{Kind: KindAddFeedback, SessionID: sessionID, Rating: rating, Comment: comment}
}
