// Package store defines the persistence contract for session documents
// and a MongoDB-backed implementation of it.
package store

import (
	"context"
	"time"

	"github.com/iguinea/mongodb-session-manager/model"
)

// CreateSessionParams describes a new session document.
type CreateSessionParams struct {
	SessionID             string
	SessionType           string
	ApplicationName       *string
	SessionViewerPassword string
	Metadata              map[string]any
}

// UpdateMessageParams identifies the message an UpsertMessage call targets.
type UpdateMessageParams struct {
	SessionID string
	AgentID   string
	MessageID int64
	Message   model.Message
	Metrics   *model.EventLoopMetrics
}

// AddFeedbackParams describes one feedback append.
type AddFeedbackParams struct {
	SessionID string
	Rating    *string
	Comment   string
	Extra     map[string]any
}

// SearchParams filters and paginates Search. Query and every
// MetadataFilter value are matched as case-insensitive substrings; the
// caller is responsible for nothing else, since the store itself
// escapes regex metacharacters before building the query.
type SearchParams struct {
	Query           string
	MetadataFilter  map[string]string
	SessionType     string
	CreatedAtStart  time.Time
	CreatedAtEnd    time.Time
	Limit          int64
	Offset         int64
	OrderBy        string
	OrderAscending bool
}

// SearchResult is one row of a Search page.
type SearchResult struct {
	Session       model.Session
	AgentCount    int
	MessageCount  int
	FeedbackCount int
}

// Store is the persistence contract every session-manager component is
// built against. MongoStore is the production implementation; fakestore
// provides an in-memory double for unit tests.
type Store interface {
	// CreateSession inserts a new session document. It returns a
	// *ConflictError if a session with the same SessionID already exists.
	CreateSession(ctx context.Context, params CreateSessionParams) (*model.Session, error)

	// GetSession fetches the full session document. It returns a
	// *NotFoundError when no such session exists.
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)

	// GetSessionViewerPassword returns the session's viewer password,
	// reading only that field.
	GetSessionViewerPassword(ctx context.Context, sessionID string) (string, error)

	// GetApplicationName returns the session's application name, reading
	// only that field. The result is nil when the session was created
	// without one.
	GetApplicationName(ctx context.Context, sessionID string) (*string, error)

	// DeleteSession removes a session document entirely.
	DeleteSession(ctx context.Context, sessionID string) error

	// EnsureAgent creates the agent block if absent; it is a no-op
	// otherwise. agentData seeds agent_data on first creation only.
	EnsureAgent(ctx context.Context, sessionID, agentID string, agentData map[string]any) error

	// UpdateAgentData replaces an agent's agent_data sub-document.
	UpdateAgentData(ctx context.Context, sessionID, agentID string, agentData map[string]any) error

	// UpdateAgentFields merges the given keys into an agent's agent_data
	// sub-document, leaving every other key untouched. Used to update
	// model/system_prompt in isolation, without disturbing the rest of
	// the SDK state snapshot.
	UpdateAgentFields(ctx context.Context, sessionID, agentID string, fields map[string]any) error

	// GetAgentData returns an agent's SDK-level state snapshot, stripping
	// the derived model/system_prompt fields the store adds on sync.
	GetAgentData(ctx context.Context, sessionID, agentID string) (map[string]any, error)

	// UpsertMessage inserts a message with the given MessageID if absent,
	// or overwrites the matching element in place if it already exists.
	// An overwrite preserves the entry's original created_at.
	UpsertMessage(ctx context.Context, params UpdateMessageParams) error

	// GetMessage returns the message with the given MessageID within the
	// agent's message sequence, with event_loop_metrics stripped so the
	// result matches the SDK-level message shape.
	GetMessage(ctx context.Context, sessionID, agentID string, messageID int64) (*model.MessageEntry, error)

	// ListMessages returns the agent's messages sorted ascending by
	// created_at, paginated as [offset, offset+limit). A limit <= 0
	// returns everything from offset onward.
	ListMessages(ctx context.Context, sessionID, agentID string, limit, offset int64) ([]model.MessageEntry, error)

	// GetMetadata returns the session's full metadata map.
	GetMetadata(ctx context.Context, sessionID string) (map[string]any, error)

	// UpdateMetadata merges the given keys into the session's metadata.
	UpdateMetadata(ctx context.Context, sessionID string, metadata map[string]any) error

	// DeleteMetadataKeys removes the named keys from the session's metadata.
	DeleteMetadataKeys(ctx context.Context, sessionID string, keys []string) error

	// AddFeedback appends one feedback entry to the session.
	AddFeedback(ctx context.Context, params AddFeedbackParams) error

	// ListFeedback returns all feedback entries recorded for a session.
	ListFeedback(ctx context.Context, sessionID string) ([]model.FeedbackEntry, error)

	// Search returns a page of sessions matching params, most-recent
	// first unless OrderBy picks another sort field or OrderAscending
	// reverses the direction.
	Search(ctx context.Context, params SearchParams) ([]SearchResult, int64, error)

	// DistinctMetadataValues returns the distinct values stored under
	// metadata.<key> across all sessions, up to limit entries.
	DistinctMetadataValues(ctx context.Context, key string, limit int64) ([]any, error)

	// Touch updates a session's updated_at timestamp without altering
	// any other field.
	Touch(ctx context.Context, sessionID string, at time.Time) error

	// EnsureIndexes creates the indexes the store's query paths rely on.
	// It is safe to call repeatedly; index creation is idempotent.
	EnsureIndexes(ctx context.Context) error

	// ListIndexedFields reports the indexed field names a viewer may
	// filter or infer types on, excluding internal fields (_id, full-text
	// index components) and index names beginning with an underscore.
	ListIndexedFields(ctx context.Context) ([]string, error)

	// SampleFieldValues returns up to limit non-null values observed for
	// field across sampled documents, used by the viewer's type inference.
	SampleFieldValues(ctx context.Context, field string, limit int64) ([]any, error)
}
