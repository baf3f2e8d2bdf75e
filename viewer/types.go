package viewer

import (
	"time"

	"github.com/iguinea/mongodb-session-manager/model"
)

// SessionSummary is one row of a session listing.
type SessionSummary struct {
	SessionID       string         `json:"session_id"`
	SessionType     string         `json:"session_type"`
	ApplicationName *string        `json:"application_name,omitempty"`
	Metadata        map[string]any `json:"metadata"`
	AgentCount      int            `json:"agent_count"`
	MessageCount    int            `json:"message_count"`
	FeedbackCount   int            `json:"feedback_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// SearchResult is a page of session summaries plus pagination metadata.
type SearchResult struct {
	Sessions   []SessionSummary `json:"sessions"`
	TotalCount int64            `json:"total_count"`
	Limit      int64            `json:"limit"`
	Offset     int64            `json:"offset"`
	HasMore    bool             `json:"has_more"`
}

// SearchParams filters and paginates a session listing. Query and every
// MetadataFilter value are matched as case-insensitive substrings;
// CreatedAtStart/CreatedAtEnd form an inclusive range on the session's
// created_at, either end of which may be left zero to leave that bound
// open.
type SearchParams struct {
	Query          string
	SessionType    string
	MetadataFilter map[string]string
	CreatedAtStart time.Time
	CreatedAtEnd   time.Time
	Limit          int64
	Offset         int64
	OrderBy        string
	OrderAscending bool
}

// AgentSummary is the per-agent slice of a session detail: message
// count, the derived model/system prompt, and both timestamps.
type AgentSummary struct {
	AgentID      string    `json:"agent_id"`
	MessageCount int       `json:"message_count"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionDetail is the full view of one session, including a summary of
// each participating agent and the chronologically-merged timeline.
type SessionDetail struct {
	Session      model.Session         `json:"session"`
	AgentCount   int                   `json:"agent_count"`
	MessageCount int                   `json:"message_count"`
	Agents       []AgentSummary        `json:"agents"`
	Timeline     []model.TimelineEntry `json:"timeline"`
}

// FieldKind classifies a metadata field's inferred value type.
type FieldKind string

const (
	FieldBoolean FieldKind = "boolean"
	FieldNumber  FieldKind = "number"
	FieldDate    FieldKind = "date"
	FieldString  FieldKind = "string"
	FieldEnum    FieldKind = "enum"
)

// FieldInfo describes one indexed field for the viewer's filter-builder
// UI: its name, inferred type, and (for enum-promoted fields) the
// sorted set of distinct values it can take.
type FieldInfo struct {
	Field  string    `json:"field"`
	Type   FieldKind `json:"type"`
	Values []any     `json:"values,omitempty"`
}
