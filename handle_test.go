package sessionmanager

import (
	"context"
	"errors"
	"testing"

	"github.com/iguinea/mongodb-session-manager/hooks"
	"github.com/iguinea/mongodb-session-manager/internal/fakestore"
	"github.com/iguinea/mongodb-session-manager/model"
	"github.com/iguinea/mongodb-session-manager/store"
)

func TestHandle_CreateAndRead(t *testing.T) {
	ctx := context.Background()
	st := fakestore.New()

	h, err := newHandle(ctx, st, "s1", WithSessionType("chat"), WithApplicationName("demo"))
	if err != nil {
		t.Fatalf("newHandle failed: %v", err)
	}

	session, err := st.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.SessionID != "s1" {
		t.Errorf("expected session_id s1, got %q", session.SessionID)
	}
	if session.ID != session.SessionID {
		t.Errorf("expected the document key to equal session_id, got %q", session.ID)
	}
	if len(session.SessionViewerPassword) < 30 || len(session.SessionViewerPassword) > 34 {
		t.Errorf("expected a ~32-char viewer password, got %d chars", len(session.SessionViewerPassword))
	}
	if len(session.Metadata) != 0 {
		t.Errorf("expected empty metadata, got %v", session.Metadata)
	}
	if len(session.Agents) != 0 {
		t.Errorf("expected no agents, got %v", session.Agents)
	}
	if len(session.Feedbacks) != 0 {
		t.Errorf("expected no feedbacks, got %v", session.Feedbacks)
	}
	_ = h.Close(ctx)
}

func TestHandle_SyncAgent_Metrics(t *testing.T) {
	ctx := context.Background()
	st := fakestore.New()
	h, err := newHandle(ctx, st, "s2")
	if err != nil {
		t.Fatalf("newHandle failed: %v", err)
	}

	summary := &model.TurnSummary{
		AccumulatedUsage: model.AccumulatedUsage{
			InputTokens: 500, OutputTokens: 200, TotalTokens: 700,
			CacheReadInputTokens: 450, CacheWriteInputTokens: 50,
		},
		AccumulatedMetrics: model.AccumulatedMetrics{LatencyMs: 1500},
		TotalCycles:        3,
		ToolUsage: map[string]model.RawToolUsage{
			"search": {
				ToolInfo: map[string]any{"description": "a search tool"},
				ExecutionStats: model.ToolUsageStats{
					CallCount: 5, SuccessCount: 4, ErrorCount: 1,
					TotalTime: 2.5, AverageTime: 0.5, SuccessRate: 0.8,
				},
			},
		},
	}

	snapshot := model.AgentSnapshot{
		State:        map[string]any{"foo": "bar"},
		Model:        model.ModelRef{ModelID: "claude-x"},
		SystemPrompt: "be helpful",
	}
	msg := model.Message{Role: "assistant", Content: []any{"hi"}}

	if err := h.SyncAgent(ctx, "agent-a", snapshot, 1, msg, summary); err != nil {
		t.Fatalf("SyncAgent failed: %v", err)
	}

	session, err := st.GetSession(ctx, "s2")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	agent, ok := session.Agents["agent-a"]
	if !ok {
		t.Fatal("expected agent-a to be created")
	}
	if agent.AgentData["model"] != "claude-x" {
		t.Errorf("expected model claude-x, got %v", agent.AgentData["model"])
	}
	if agent.AgentData["system_prompt"] != "be helpful" {
		t.Errorf("expected system_prompt set, got %v", agent.AgentData["system_prompt"])
	}

	if len(agent.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(agent.Messages))
	}
	last := agent.Messages[len(agent.Messages)-1]
	if last.EventLoopMetrics == nil {
		t.Fatal("expected event_loop_metrics to be set")
	}
	if last.EventLoopMetrics.AccumulatedUsage.TotalTokens != 700 {
		t.Errorf("expected total_tokens 700, got %d", last.EventLoopMetrics.AccumulatedUsage.TotalTokens)
	}
	stats, ok := last.EventLoopMetrics.ToolUsage["search"]
	if !ok {
		t.Fatal("expected tool_usage to include search")
	}
	if stats.CallCount != 5 || stats.SuccessRate != 0.8 {
		t.Errorf("unexpected tool usage stats: %+v", stats)
	}

	// Calling SyncAgent again with identical metrics must be idempotent.
	if err := h.SyncAgent(ctx, "agent-a", snapshot, 1, msg, summary); err != nil {
		t.Fatalf("second SyncAgent failed: %v", err)
	}
	session, _ = st.GetSession(ctx, "s2")
	agent = session.Agents["agent-a"]
	if len(agent.Messages) != 1 {
		t.Fatalf("expected sync_agent to stay idempotent on message count, got %d", len(agent.Messages))
	}
}

func TestHandle_SyncAgent_ZeroLatencySkipsMetrics(t *testing.T) {
	ctx := context.Background()
	st := fakestore.New()
	h, err := newHandle(ctx, st, "s3")
	if err != nil {
		t.Fatalf("newHandle failed: %v", err)
	}

	summary := &model.TurnSummary{} // LatencyMs defaults to 0
	snapshot := model.AgentSnapshot{Model: model.ModelRef{ModelID: "claude-y"}, SystemPrompt: "p"}
	msg := model.Message{Role: "assistant", Content: []any{"hi"}}

	if err := h.SyncAgent(ctx, "agent-a", snapshot, 1, msg, summary); err != nil {
		t.Fatalf("SyncAgent failed: %v", err)
	}

	session, _ := st.GetSession(ctx, "s3")
	agent := session.Agents["agent-a"]
	if agent.AgentData["model"] != "claude-y" {
		t.Errorf("expected model to still be captured, got %v", agent.AgentData["model"])
	}
	if len(agent.Messages) != 1 {
		t.Fatalf("expected message to still be appended, got %d", len(agent.Messages))
	}
	if agent.Messages[0].EventLoopMetrics != nil {
		t.Error("expected no event_loop_metrics when latencyMs == 0")
	}

	// Latency alone gates the metrics write: a multi-cycle turn that
	// reports duration but zero latency still skips them.
	busySummary := &model.TurnSummary{TotalCycles: 3, TotalDuration: 4.2}
	if err := h.SyncAgent(ctx, "agent-a", snapshot, 2, msg, busySummary); err != nil {
		t.Fatalf("SyncAgent failed: %v", err)
	}
	session, _ = st.GetSession(ctx, "s3")
	agent = session.Agents["agent-a"]
	if len(agent.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(agent.Messages))
	}
	if agent.Messages[1].EventLoopMetrics != nil {
		t.Error("expected no event_loop_metrics for nonzero total_duration with latencyMs == 0")
	}
}

func TestHandle_MetadataPartialUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	st := fakestore.New()
	h, err := newHandle(ctx, st, "s4", WithMetadata(map[string]any{"a": "1", "b": "2", "c": "3"}))
	if err != nil {
		t.Fatalf("newHandle failed: %v", err)
	}

	if err := h.UpdateMetadata(ctx, map[string]any{"b": "20"}); err != nil {
		t.Fatalf("UpdateMetadata failed: %v", err)
	}
	if err := h.DeleteMetadataKeys(ctx, []string{"a"}); err != nil {
		t.Fatalf("DeleteMetadataKeys failed: %v", err)
	}

	got, err := h.GetMetadata(ctx)
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	want := map[string]any{"b": "20", "c": "3"}
	if len(got) != len(want) || got["b"] != "20" || got["c"] != "3" {
		t.Errorf("expected metadata %v, got %v", want, got)
	}
}

// failingFeedbackStore wraps fakestore.Store but fails every AddFeedback
// call, used to verify hooks never fire on a failed write.
type failingFeedbackStore struct {
	*fakestore.Store
}

func (f failingFeedbackStore) AddFeedback(ctx context.Context, params store.AddFeedbackParams) error {
	return &store.StorageError{Op: "AddFeedback", Err: errors.New("connection refused")}
}

func TestHandle_HookRunsAfterSuccessfulWriteOnly(t *testing.T) {
	ctx := context.Background()
	count := 0
	hook := func(next func() error, action hooks.Action) error {
		if err := next(); err != nil {
			return err
		}
		if action.Kind == hooks.KindAddFeedback {
			count++
		}
		return nil
	}

	good := fakestore.New()
	h, err := newHandle(ctx, good, "s5", WithHooks(hook))
	if err != nil {
		t.Fatalf("newHandle failed: %v", err)
	}
	if err := h.AddFeedback(ctx, nil, "nice"); err != nil {
		t.Fatalf("AddFeedback failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected hook to run once after success, ran %d times", count)
	}

	bad := failingFeedbackStore{Store: fakestore.New()}
	h2, err := newHandle(ctx, bad, "s6", WithHooks(hook))
	if err != nil {
		t.Fatalf("newHandle failed: %v", err)
	}
	if err := h2.AddFeedback(ctx, nil, "nice"); err == nil {
		t.Fatal("expected AddFeedback to fail against the unreachable store")
	}
	if count != 1 {
		t.Fatalf("expected hook to stay at 1 after a failed write, got %d", count)
	}
}

func TestHandle_AgentCreatedAtPreservedAcrossUpdates(t *testing.T) {
	ctx := context.Background()
	st := fakestore.New()
	h, err := newHandle(ctx, st, "s7")
	if err != nil {
		t.Fatalf("newHandle failed: %v", err)
	}

	snapshot := model.AgentSnapshot{Model: model.ModelRef{ModelID: "m1"}}
	msg := model.Message{Role: "assistant", Content: []any{"hi"}}
	if err := h.SyncAgent(ctx, "agent-a", snapshot, 1, msg, nil); err != nil {
		t.Fatalf("first SyncAgent failed: %v", err)
	}
	session, _ := st.GetSession(ctx, "s7")
	firstCreated := session.Agents["agent-a"].CreatedAt

	snapshot.Model = model.ModelRef{ModelID: "m2"}
	if err := h.SyncAgent(ctx, "agent-a", snapshot, 2, msg, nil); err != nil {
		t.Fatalf("second SyncAgent failed: %v", err)
	}
	session, _ = st.GetSession(ctx, "s7")
	if !session.Agents["agent-a"].CreatedAt.Equal(firstCreated) {
		t.Errorf("expected agent created_at to be preserved, got %v vs %v", session.Agents["agent-a"].CreatedAt, firstCreated)
	}
}
