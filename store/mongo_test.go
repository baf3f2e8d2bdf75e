package store

import (
	"context"
	"testing"

	"github.com/iguinea/mongodb-session-manager/internal/testutil"
	"github.com/iguinea/mongodb-session-manager/model"
)

func TestIntegration_MongoStore_SessionLifecycle(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.CleanCollections(ctx); err != nil {
		t.Fatalf("failed to clean collections: %v", err)
	}

	s := NewMongoStore(db.Database)
	if err := s.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}

	metadata := map[string]any{"env": "test"}
	appName := "integration-app"
	session, err := s.CreateSession(ctx, CreateSessionParams{
		SessionID:       "session-1",
		SessionType:     "agent",
		ApplicationName: &appName,
		Metadata:        metadata,
	})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if session.SessionID != "session-1" {
		t.Errorf("expected session_id 'session-1', got %q", session.SessionID)
	}

	if _, err := s.CreateSession(ctx, CreateSessionParams{SessionID: "session-1"}); err == nil {
		t.Fatal("expected ConflictError on duplicate CreateSession")
	} else if _, ok := err.(*ConflictError); !ok {
		t.Errorf("expected *ConflictError, got %T", err)
	}

	fetched, err := s.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if fetched.Metadata["env"] != "test" {
		t.Errorf("expected metadata env 'test', got %v", fetched.Metadata["env"])
	}

	if err := s.EnsureAgent(ctx, "session-1", "agent-a", map[string]any{"model": "x"}); err != nil {
		t.Fatalf("EnsureAgent failed: %v", err)
	}
	// Calling again must be a no-op, not an overwrite.
	if err := s.EnsureAgent(ctx, "session-1", "agent-a", map[string]any{"model": "y"}); err != nil {
		t.Fatalf("EnsureAgent (second call) failed: %v", err)
	}

	fetched, err = s.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if fetched.Agents["agent-a"].AgentData["model"] != "x" {
		t.Errorf("EnsureAgent should not overwrite existing agent_data")
	}

	if _, err := s.GetSession(ctx, "missing"); err == nil {
		t.Fatal("expected NotFoundError for missing session")
	} else if _, ok := err.(*NotFoundError); !ok {
		t.Errorf("expected *NotFoundError, got %T", err)
	}
}

func TestIntegration_MongoStore_MessageAndFeedback(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.CleanCollections(ctx); err != nil {
		t.Fatalf("failed to clean collections: %v", err)
	}

	s := NewMongoStore(db.Database)
	if _, err := s.CreateSession(ctx, CreateSessionParams{SessionID: "session-2"}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := s.EnsureAgent(ctx, "session-2", "agent-a", nil); err != nil {
		t.Fatalf("EnsureAgent failed: %v", err)
	}

	msg := model.Message{Role: "assistant", Content: []any{"hello"}}
	if err := s.UpsertMessage(ctx, UpdateMessageParams{
		SessionID: "session-2",
		AgentID:   "agent-a",
		MessageID: 1,
		Message:   msg,
	}); err != nil {
		t.Fatalf("UpsertMessage failed: %v", err)
	}

	updated := model.Message{Role: "assistant", Content: []any{"hello again"}}
	if err := s.UpsertMessage(ctx, UpdateMessageParams{
		SessionID: "session-2",
		AgentID:   "agent-a",
		MessageID: 1,
		Message:   updated,
	}); err != nil {
		t.Fatalf("UpsertMessage (overwrite) failed: %v", err)
	}

	session, err := s.GetSession(ctx, "session-2")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	messages := session.Agents["agent-a"].Messages
	if len(messages) != 1 {
		t.Fatalf("expected 1 message after overwrite, got %d", len(messages))
	}

	rating := "good"
	if err := s.AddFeedback(ctx, AddFeedbackParams{SessionID: "session-2", Rating: &rating, Comment: "nice"}); err != nil {
		t.Fatalf("AddFeedback failed: %v", err)
	}
	feedback, err := s.ListFeedback(ctx, "session-2")
	if err != nil {
		t.Fatalf("ListFeedback failed: %v", err)
	}
	if len(feedback) != 1 || feedback[0].Comment != "nice" {
		t.Errorf("expected one feedback entry with comment 'nice', got %+v", feedback)
	}
}

func TestIntegration_MongoStore_MessageReadsAndScalars(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.CleanCollections(ctx); err != nil {
		t.Fatalf("failed to clean collections: %v", err)
	}

	s := NewMongoStore(db.Database)
	appName := "reader-app"
	if _, err := s.CreateSession(ctx, CreateSessionParams{
		SessionID:             "session-3",
		ApplicationName:       &appName,
		SessionViewerPassword: "viewer-pass",
	}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	password, err := s.GetSessionViewerPassword(ctx, "session-3")
	if err != nil || password != "viewer-pass" {
		t.Fatalf("expected the stored viewer password, got %q (err %v)", password, err)
	}
	name, err := s.GetApplicationName(ctx, "session-3")
	if err != nil || name == nil || *name != "reader-app" {
		t.Fatalf("expected application name reader-app, got %v (err %v)", name, err)
	}

	if err := s.EnsureAgent(ctx, "session-3", "agent-a", map[string]any{
		"state": "x", "model": "m", "system_prompt": "p",
	}); err != nil {
		t.Fatalf("EnsureAgent failed: %v", err)
	}

	state, err := s.GetAgentData(ctx, "session-3", "agent-a")
	if err != nil {
		t.Fatalf("GetAgentData failed: %v", err)
	}
	if state["state"] != "x" {
		t.Errorf("expected SDK state to survive, got %v", state)
	}
	if _, ok := state["model"]; ok {
		t.Error("expected the derived model field to be stripped")
	}

	metrics := &model.EventLoopMetrics{
		AccumulatedMetrics: model.AccumulatedMetrics{LatencyMs: 1200},
	}
	for id := int64(1); id <= 2; id++ {
		if err := s.UpsertMessage(ctx, UpdateMessageParams{
			SessionID: "session-3",
			AgentID:   "agent-a",
			MessageID: id,
			Message:   model.Message{Role: "assistant", Content: []any{"m"}},
			Metrics:   metrics,
		}); err != nil {
			t.Fatalf("UpsertMessage(%d) failed: %v", id, err)
		}
	}

	session, err := s.GetSession(ctx, "session-3")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	firstCreated := session.Agents["agent-a"].Messages[0].CreatedAt

	// Overwriting message 1 must preserve its created_at.
	if err := s.UpsertMessage(ctx, UpdateMessageParams{
		SessionID: "session-3",
		AgentID:   "agent-a",
		MessageID: 1,
		Message:   model.Message{Role: "assistant", Content: []any{"edited"}},
	}); err != nil {
		t.Fatalf("UpsertMessage (overwrite) failed: %v", err)
	}
	session, err = s.GetSession(ctx, "session-3")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	var overwritten *model.MessageEntry
	for i := range session.Agents["agent-a"].Messages {
		if session.Agents["agent-a"].Messages[i].MessageID == 1 {
			overwritten = &session.Agents["agent-a"].Messages[i]
		}
	}
	if overwritten == nil {
		t.Fatal("expected message 1 to still exist after overwrite")
	}
	if !overwritten.CreatedAt.Equal(firstCreated) {
		t.Errorf("expected created_at to be preserved across overwrite, got %v vs %v", overwritten.CreatedAt, firstCreated)
	}
	if overwritten.EventLoopMetrics == nil {
		t.Error("expected an overwrite without metrics to leave the stored metrics in place")
	}

	messages, err := s.ListMessages(ctx, "session-3", "agent-a", 0, 0)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].CreatedAt.After(messages[1].CreatedAt) {
		t.Error("expected messages sorted ascending by created_at")
	}

	entry, err := s.GetMessage(ctx, "session-3", "agent-a", 2)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if entry.EventLoopMetrics != nil {
		t.Error("expected GetMessage to strip event_loop_metrics")
	}
}
