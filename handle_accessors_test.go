package sessionmanager

import (
	"context"
	"testing"

	"github.com/iguinea/mongodb-session-manager/internal/fakestore"
	"github.com/iguinea/mongodb-session-manager/model"
)

func syncMessage(t *testing.T, h *Handle, agentID string, messageID int64, summary *model.TurnSummary) {
	t.Helper()
	snapshot := model.AgentSnapshot{
		State:        map[string]any{"conversation_state": "active"},
		Model:        model.ModelRef{ModelID: "claude-x"},
		SystemPrompt: "be helpful",
	}
	msg := model.Message{Role: "assistant", Content: []any{"hi"}}
	if err := h.SyncAgent(context.Background(), agentID, snapshot, messageID, msg, summary); err != nil {
		t.Fatalf("SyncAgent(%d) failed: %v", messageID, err)
	}
}

func TestHandle_ListMessagesPagination(t *testing.T) {
	ctx := context.Background()
	st := fakestore.New()
	h, err := newHandle(ctx, st, "s1")
	if err != nil {
		t.Fatalf("newHandle failed: %v", err)
	}

	for id := int64(1); id <= 3; id++ {
		syncMessage(t, h, "agent-a", id, nil)
	}

	all, err := h.ListMessages(ctx, "agent-a", 0, 0)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.Before(all[i-1].CreatedAt) {
			t.Fatal("expected messages sorted ascending by created_at")
		}
	}

	page, err := h.ListMessages(ctx, "agent-a", 2, 1)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(page) != 2 || page[0].MessageID != all[1].MessageID {
		t.Fatalf("expected the [1,3) window, got %+v", page)
	}

	empty, err := h.ListMessages(ctx, "agent-a", 2, 10)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected an empty page past the end, got %d entries", len(empty))
	}
}

func TestHandle_GetMessageStripsMetrics(t *testing.T) {
	ctx := context.Background()
	st := fakestore.New()
	h, err := newHandle(ctx, st, "s1")
	if err != nil {
		t.Fatalf("newHandle failed: %v", err)
	}

	summary := &model.TurnSummary{AccumulatedMetrics: model.AccumulatedMetrics{LatencyMs: 100}}
	syncMessage(t, h, "agent-a", 1, summary)

	entry, err := h.GetMessage(ctx, "agent-a", 1)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if entry.MessageID != 1 || entry.Message.Role != "assistant" {
		t.Errorf("unexpected message: %+v", entry)
	}
	if entry.EventLoopMetrics != nil {
		t.Error("expected event_loop_metrics to be stripped from the SDK-shaped read")
	}

	// The stored entry still carries them.
	session, _ := st.GetSession(ctx, "s1")
	if session.Agents["agent-a"].Messages[0].EventLoopMetrics == nil {
		t.Error("expected the persisted entry to keep its metrics")
	}

	if _, err := h.GetMessage(ctx, "agent-a", 99); err == nil {
		t.Error("expected an error for an unknown message id")
	}
}

func TestHandle_GetAgentStateStripsDerivedFields(t *testing.T) {
	ctx := context.Background()
	st := fakestore.New()
	h, err := newHandle(ctx, st, "s1")
	if err != nil {
		t.Fatalf("newHandle failed: %v", err)
	}
	syncMessage(t, h, "agent-a", 1, nil)

	state, err := h.GetAgentState(ctx, "agent-a")
	if err != nil {
		t.Fatalf("GetAgentState failed: %v", err)
	}
	if state["conversation_state"] != "active" {
		t.Errorf("expected SDK state to survive, got %v", state)
	}
	if _, ok := state["model"]; ok {
		t.Error("expected the derived model field to be stripped")
	}
	if _, ok := state["system_prompt"]; ok {
		t.Error("expected the derived system_prompt field to be stripped")
	}
}

func TestHandle_SessionScalarReads(t *testing.T) {
	ctx := context.Background()
	st := fakestore.New()
	h, err := newHandle(ctx, st, "s1", WithApplicationName("demo"))
	if err != nil {
		t.Fatalf("newHandle failed: %v", err)
	}

	password, err := h.GetSessionViewerPassword(ctx)
	if err != nil {
		t.Fatalf("GetSessionViewerPassword failed: %v", err)
	}
	if len(password) < 30 {
		t.Errorf("expected a generated viewer password, got %q", password)
	}

	name, err := h.GetApplicationName(ctx)
	if err != nil {
		t.Fatalf("GetApplicationName failed: %v", err)
	}
	if name == nil || *name != "demo" {
		t.Errorf("expected application name demo, got %v", name)
	}
}

func TestHandle_UpdateAgentConfigPartial(t *testing.T) {
	ctx := context.Background()
	st := fakestore.New()
	h, err := newHandle(ctx, st, "s1")
	if err != nil {
		t.Fatalf("newHandle failed: %v", err)
	}
	syncMessage(t, h, "agent-a", 1, nil)

	newModel := "claude-y"
	if err := h.UpdateAgentConfig(ctx, "agent-a", &newModel, nil); err != nil {
		t.Fatalf("UpdateAgentConfig failed: %v", err)
	}

	cfg, err := h.AgentConfig(ctx, "agent-a")
	if err != nil {
		t.Fatalf("AgentConfig failed: %v", err)
	}
	if cfg.Model != "claude-y" {
		t.Errorf("expected the model to be updated, got %q", cfg.Model)
	}
	if cfg.SystemPrompt != "be helpful" {
		t.Errorf("expected the omitted system_prompt to be untouched, got %q", cfg.SystemPrompt)
	}
}
