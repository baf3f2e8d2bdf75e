package viewer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/iguinea/mongodb-session-manager/internal/fakestore"
	"github.com/iguinea/mongodb-session-manager/store"
)

func newTestRouter(t *testing.T, st *fakestore.Store) http.Handler {
	t.Helper()
	v := New(st, Config{})
	auth := NewAuthenticator(st, "global-secret")
	return NewRouter(RouterConfig{Viewer: v, Auth: auth})
}

func TestRouter_HealthNeedsNoAuth(t *testing.T) {
	router := newTestRouter(t, fakestore.New())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", rec.Code)
	}
}

func TestRouter_SessionPasswordScope(t *testing.T) {
	ctx := context.Background()
	st := fakestore.New()
	for _, params := range []store.CreateSessionParams{
		{SessionID: "s3", SessionViewerPassword: "s3-secret"},
		{SessionID: "s4", SessionViewerPassword: "s4-secret"},
	} {
		if _, err := st.CreateSession(ctx, params); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}
	router := newTestRouter(t, st)

	s3Digest := digest("s3-secret")

	// The right session: 200.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/sessions/s3", nil)
	req.Header.Set("X-Session-Password", s3Digest)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for s3's own password, got %d", rec.Code)
	}

	// Another session: scope violation, 403.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/v1/sessions/s4", nil)
	req.Header.Set("X-Session-Password", s3Digest)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for s3's password against s4, got %d", rec.Code)
	}

	// No credentials at all: 401.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/sessions/s3", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without credentials, got %d", rec.Code)
	}

	// A session password cannot open a global endpoint: 403.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/v1/sessions/search", nil)
	req.Header.Set("X-Session-Password", s3Digest)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a session password on a global endpoint, got %d", rec.Code)
	}

	// The global password works everywhere.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/v1/sessions/s4", nil)
	req.Header.Set("X-Password", digest("global-secret"))
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with the global password, got %d", rec.Code)
	}
}

func TestRouter_CheckSessionPassword(t *testing.T) {
	ctx := context.Background()
	st := fakestore.New()
	if _, err := st.CreateSession(ctx, store.CreateSessionParams{
		SessionID:             "s1",
		SessionViewerPassword: "s1-secret",
	}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	router := newTestRouter(t, st)

	body := strings.NewReader(`{"password_hash":"` + digest("s1-secret") + `"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/sessions/s1/check_password", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Valid      bool `json:"valid"`
		UsedGlobal bool `json:"used_global"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if !resp.Valid || resp.UsedGlobal {
		t.Errorf("expected a direct session-password match, got %+v", resp)
	}
}

func TestRouter_SearchLimitZeroReturnsEmptyPage(t *testing.T) {
	ctx := context.Background()
	st := fakestore.New()
	if _, err := st.CreateSession(ctx, store.CreateSessionParams{SessionID: "s1"}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	router := newTestRouter(t, st)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/sessions/search?limit=0", nil)
	req.Header.Set("X-Password", digest("global-secret"))
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for limit=0, got %d", rec.Code)
	}

	var resp SearchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if len(resp.Sessions) != 0 || resp.HasMore {
		t.Errorf("expected an empty page with has_more=false, got %+v", resp)
	}
}

func TestRouter_UnknownSessionIs404(t *testing.T) {
	router := newTestRouter(t, fakestore.New())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/sessions/missing", nil)
	req.Header.Set("X-Password", digest("global-secret"))
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing session, got %d", rec.Code)
	}
}
