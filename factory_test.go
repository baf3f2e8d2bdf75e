package sessionmanager

import (
	"context"
	"testing"

	"github.com/iguinea/mongodb-session-manager/hooks"
	"github.com/iguinea/mongodb-session-manager/internal/fakestore"
)

func newTestFactory(st *fakestore.Store) *Factory {
	return &Factory{
		store:                  st,
		dispatcher:             hooks.NewDispatcher(1, 4, nil),
		instanceID:             "test-instance",
		defaultApplicationName: "default-app",
		defaultSessionType:     "support",
	}
}

func TestFactory_CreateSessionManagerAppliesDefaults(t *testing.T) {
	ctx := context.Background()
	st := fakestore.New()
	f := newTestFactory(st)

	h, err := f.CreateSessionManager(ctx, "s1")
	if err != nil {
		t.Fatalf("CreateSessionManager failed: %v", err)
	}
	defer h.Close(ctx)

	session, err := st.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.SessionType != "support" {
		t.Errorf("expected factory default session_type, got %q", session.SessionType)
	}
	if session.ApplicationName == nil || *session.ApplicationName != "default-app" {
		t.Errorf("expected factory default application_name, got %v", session.ApplicationName)
	}
}

func TestFactory_CreateSessionManagerOverridesWin(t *testing.T) {
	ctx := context.Background()
	st := fakestore.New()
	f := newTestFactory(st)

	h, err := f.CreateSessionManager(ctx, "s2",
		WithSessionType("chat"),
		WithApplicationName("override-app"),
	)
	if err != nil {
		t.Fatalf("CreateSessionManager failed: %v", err)
	}
	defer h.Close(ctx)

	session, err := st.GetSession(ctx, "s2")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.SessionType != "chat" {
		t.Errorf("expected the per-call session_type to win, got %q", session.SessionType)
	}
	if session.ApplicationName == nil || *session.ApplicationName != "override-app" {
		t.Errorf("expected the per-call application_name to win, got %v", session.ApplicationName)
	}
}

func TestFactory_HandlesShareOneStore(t *testing.T) {
	ctx := context.Background()
	st := fakestore.New()
	f := newTestFactory(st)

	h1, err := f.CreateSessionManager(ctx, "s3")
	if err != nil {
		t.Fatalf("CreateSessionManager failed: %v", err)
	}
	h2, err := f.CreateSessionManager(ctx, "s4")
	if err != nil {
		t.Fatalf("CreateSessionManager failed: %v", err)
	}

	if err := h1.UpdateMetadata(ctx, map[string]any{"k": "v"}); err != nil {
		t.Fatalf("UpdateMetadata failed: %v", err)
	}
	// Both handles write through the same store: s4 sees its own doc,
	// not s3's metadata.
	got, err := h2.GetMetadata(ctx)
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected s4's metadata to stay empty, got %v", got)
	}
}

func TestGlobal_UninitializedFails(t *testing.T) {
	if _, err := Global(); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized from an uninitialized Global, got %v", err)
	}
}
