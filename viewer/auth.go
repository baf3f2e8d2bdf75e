package viewer

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/iguinea/mongodb-session-manager/store"
)

// AuthResult reports the outcome of a session-scoped password check.
type AuthResult struct {
	// Valid reports whether the supplied digest matched.
	Valid bool

	// UsedGlobal reports that the session carries no per-session
	// password (a legacy document) and the check fell back to the
	// server's global password.
	UsedGlobal bool
}

// Authenticator gates viewer access behind a global password (required
// everywhere except /health and the password-check endpoints) and an
// optional per-session password scoped to one session's detail view.
//
// Clients send the SHA-256 hex digest of their password, never the
// password itself; the configured global password is hashed once, when
// the Authenticator is built, and compared with a constant-time
// comparator.
type Authenticator struct {
	globalPasswordHash string
	store              store.Store
}

// NewAuthenticator builds an Authenticator. globalPassword is the
// server's configured plaintext viewer password (hashed once here, not
// per request).
func NewAuthenticator(st store.Store, globalPassword string) *Authenticator {
	return &Authenticator{globalPasswordHash: hashHex(globalPassword), store: st}
}

// CheckGlobalPassword reports whether passwordHash (a SHA-256 hex
// digest supplied by the client) matches the configured global
// password. Used by both /api/v1/check_password and the X-Password
// gate on every other authenticated endpoint.
func (a *Authenticator) CheckGlobalPassword(passwordHash string) bool {
	return constantTimeEqual(passwordHash, a.globalPasswordHash)
}

// CheckSessionPassword reports whether passwordHash matches sessionID's
// session_viewer_password. If the session predates per-session
// passwords (the field is empty), the check falls back to the global
// password and reports UsedGlobal.
func (a *Authenticator) CheckSessionPassword(ctx context.Context, sessionID, passwordHash string) (AuthResult, error) {
	session, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return AuthResult{}, err
	}
	if session.SessionViewerPassword == "" {
		return AuthResult{Valid: a.CheckGlobalPassword(passwordHash), UsedGlobal: true}, nil
	}
	return AuthResult{Valid: constantTimeEqual(passwordHash, hashHex(session.SessionViewerPassword))}, nil
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// constantTimeEqual compares two hex digests in time independent of
// where they first differ, avoiding a timing side-channel on password
// comparison. Digests of differing length are rejected outright (a
// length mismatch already leaks nothing a timing attack could exploit).
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
