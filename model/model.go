// Package model defines the data shapes shared by the storage, hook,
// and viewer layers of the session store.
package model

import "time"

// Session is the top-level persistent record keyed by SessionID. The
// document's primary key equals SessionID; the session_id field repeats
// it for indexed search.
type Session struct {
	ID                    string                 `bson:"_id" json:"-"`
	SessionID             string                 `bson:"session_id" json:"session_id"`
	SessionType           string                 `bson:"session_type" json:"session_type"`
	ApplicationName       *string                `bson:"application_name" json:"application_name,omitempty"`
	SessionViewerPassword string                 `bson:"session_viewer_password" json:"-"`
	CreatedAt             time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt             time.Time              `bson:"updated_at" json:"updated_at"`
	Metadata              map[string]any         `bson:"metadata" json:"metadata"`
	Agents                map[string]*AgentBlock `bson:"agents" json:"agents"`
	Feedbacks             []FeedbackEntry        `bson:"feedbacks" json:"feedbacks"`
}

// AgentBlock holds one participating agent's SDK state and messages.
type AgentBlock struct {
	AgentData map[string]any `bson:"agent_data" json:"agent_data"`
	Messages  []MessageEntry `bson:"messages" json:"messages"`
	CreatedAt time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at" json:"updated_at"`
}

// MessageEntry is a single turn's message, keyed within its agent by MessageID.
type MessageEntry struct {
	MessageID        int64             `bson:"message_id" json:"message_id"`
	Message          Message           `bson:"message" json:"message"`
	CreatedAt        time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time         `bson:"updated_at" json:"updated_at"`
	EventLoopMetrics *EventLoopMetrics `bson:"event_loop_metrics,omitempty" json:"event_loop_metrics,omitempty"`
}

// Message is the SDK-shaped role/content pair. Content is opaque to the store.
type Message struct {
	Role    string `bson:"role" json:"role"`
	Content []any  `bson:"content" json:"content"`
}

// FeedbackEntry is one append-only feedback record.
type FeedbackEntry struct {
	Rating    *string        `bson:"rating" json:"rating"`
	Comment   string         `bson:"comment" json:"comment"`
	CreatedAt time.Time      `bson:"created_at" json:"created_at"`
	Extra     map[string]any `bson:"extra,inline" json:"-"`
}

// EventLoopMetrics is written to a message only when the turn's latency
// was non-zero; it captures the four sub-objects described by the turn
// metrics summary.
type EventLoopMetrics struct {
	AccumulatedMetrics AccumulatedMetrics        `bson:"accumulated_metrics" json:"accumulated_metrics"`
	AccumulatedUsage   AccumulatedUsage          `bson:"accumulated_usage" json:"accumulated_usage"`
	CycleMetrics       CycleMetrics              `bson:"cycle_metrics" json:"cycle_metrics"`
	ToolUsage          map[string]ToolUsageStats `bson:"tool_usage" json:"tool_usage"`
}

// AccumulatedUsage mirrors the agent SDK's token accounting for one turn.
type AccumulatedUsage struct {
	InputTokens           int `bson:"inputTokens" json:"inputTokens"`
	OutputTokens          int `bson:"outputTokens" json:"outputTokens"`
	TotalTokens           int `bson:"totalTokens" json:"totalTokens"`
	CacheReadInputTokens  int `bson:"cacheReadInputTokens" json:"cacheReadInputTokens"`
	CacheWriteInputTokens int `bson:"cacheWriteInputTokens" json:"cacheWriteInputTokens"`
}

// AccumulatedMetrics mirrors the agent SDK's latency accounting for one turn.
type AccumulatedMetrics struct {
	LatencyMs         int `bson:"latencyMs" json:"latencyMs"`
	TimeToFirstByteMs int `bson:"timeToFirstByteMs" json:"timeToFirstByteMs"`
}

// CycleMetrics captures the event-loop cycle counters for one turn.
type CycleMetrics struct {
	TotalCycles      int     `bson:"total_cycles" json:"total_cycles"`
	TotalDuration    float64 `bson:"total_duration" json:"total_duration"`
	AverageCycleTime float64 `bson:"average_cycle_time" json:"average_cycle_time"`
}

// ToolUsageStats is the execution_stats subset of a tool's usage record.
// tool_info is deliberately not represented here: it is dropped on capture
// to keep the stored object flat.
type ToolUsageStats struct {
	CallCount    int     `bson:"call_count" json:"call_count"`
	SuccessCount int     `bson:"success_count" json:"success_count"`
	ErrorCount   int     `bson:"error_count" json:"error_count"`
	TotalTime    float64 `bson:"total_time" json:"total_time"`
	AverageTime  float64 `bson:"average_time" json:"average_time"`
	SuccessRate  float64 `bson:"success_rate" json:"success_rate"`
}

// RawToolUsage is the shape a turn summary reports per tool, before
// tool_info is stripped.
type RawToolUsage struct {
	ToolInfo       map[string]any
	ExecutionStats ToolUsageStats
}

// TurnSummary is the structured metrics summary read from the agent once
// per sync_agent call.
type TurnSummary struct {
	AccumulatedUsage   AccumulatedUsage
	AccumulatedMetrics AccumulatedMetrics
	TotalCycles        int
	TotalDuration      float64
	AverageCycleTime   float64
	ToolUsage          map[string]RawToolUsage
}

// ModelRef captures the several shapes an agent's model attribute can take,
// used to resolve the model identifier in a fixed fallback order.
type ModelRef struct {
	Config  map[string]any
	ModelID string
	Raw     string
}

// Resolve returns the model identifier using the order: Config["model_id"],
// then ModelID, then Raw.
func (m ModelRef) Resolve() string {
	if m.Config != nil {
		if v, ok := m.Config["model_id"]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	if m.ModelID != "" {
		return m.ModelID
	}
	return m.Raw
}

// AgentSnapshot is the agent-SDK state handed to SyncAgent.
type AgentSnapshot struct {
	State        map[string]any
	Model        ModelRef
	SystemPrompt string
}

// AgentConfig is the minimal public view of an agent's model/system prompt.
type AgentConfig struct {
	AgentID      string `json:"agent_id"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
}

// TimelineEntryType distinguishes timeline entries.
type TimelineEntryType string

const (
	TimelineMessage  TimelineEntryType = "message"
	TimelineFeedback TimelineEntryType = "feedback"
)

// TimelineEntry is one chronologically-merged unit in a session's timeline.
type TimelineEntry struct {
	Type      TimelineEntryType `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	AgentID   string            `json:"agent_id,omitempty"`
	Role      string            `json:"role,omitempty"`
	Content   []any             `json:"content,omitempty"`
	MessageID int64             `json:"message_id,omitempty"`
	Metrics   *EventLoopMetrics `json:"metrics,omitempty"`
	Rating    *string           `json:"rating,omitempty"`
	Comment   string            `json:"comment,omitempty"`
}
