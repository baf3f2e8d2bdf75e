package viewer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/iguinea/mongodb-session-manager/internal/fakestore"
	"github.com/iguinea/mongodb-session-manager/store"
)

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestAuthenticator_GlobalPassword(t *testing.T) {
	auth := NewAuthenticator(fakestore.New(), "secret")

	if !auth.CheckGlobalPassword(digest("secret")) {
		t.Error("expected the correct digest to be accepted")
	}
	if auth.CheckGlobalPassword(digest("wrong")) {
		t.Error("expected an incorrect digest to be rejected")
	}
}

func TestAuthenticator_SessionPasswordScope(t *testing.T) {
	ctx := context.Background()
	st := fakestore.New()
	session, err := st.CreateSession(ctx, store.CreateSessionParams{
		SessionID:             "s3",
		SessionViewerPassword: "session-secret",
	})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	auth := NewAuthenticator(st, "global-secret")

	result, err := auth.CheckSessionPassword(ctx, session.SessionID, digest("session-secret"))
	if err != nil {
		t.Fatalf("CheckSessionPassword failed: %v", err)
	}
	if !result.Valid || result.UsedGlobal {
		t.Fatalf("expected the session password to validate without falling back, got %+v", result)
	}

	if _, err := st.CreateSession(ctx, store.CreateSessionParams{SessionID: "s4"}); err != nil {
		t.Fatalf("CreateSession(s4) failed: %v", err)
	}
	result, err = auth.CheckSessionPassword(ctx, "s4", digest("session-secret"))
	if err != nil {
		t.Fatalf("CheckSessionPassword failed: %v", err)
	}
	if result.Valid {
		t.Fatal("expected a session password scoped to s3 to be rejected for s4")
	}
}

func TestAuthenticator_LegacySessionFallsBackToGlobal(t *testing.T) {
	ctx := context.Background()
	st := fakestore.New()
	// A session created with no per-session password (legacy document).
	if _, err := st.CreateSession(ctx, store.CreateSessionParams{SessionID: "legacy"}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	auth := NewAuthenticator(st, "global-secret")
	result, err := auth.CheckSessionPassword(ctx, "legacy", digest("global-secret"))
	if err != nil {
		t.Fatalf("CheckSessionPassword failed: %v", err)
	}
	if !result.Valid || !result.UsedGlobal {
		t.Fatalf("expected legacy session to fall back to the global password, got %+v", result)
	}
}
