package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/iguinea/mongodb-session-manager/store"
)

// Logger is the structured logging interface the router reports
// recovered panics and request failures through. A nil Logger discards
// output.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// HealthStatus is the body of a GET /health response.
type HealthStatus struct {
	Status         string `json:"status"`
	MongoDB        string `json:"mongodb"`
	ConnectionPool any    `json:"connection_pool"`
}

// RouterConfig wires a Router to its dependencies.
type RouterConfig struct {
	Viewer *Viewer
	Auth   *Authenticator
	Logger Logger

	// Health reports the current database/pool health for GET /health.
	// If nil, /health always reports {"status":"ok"}.
	Health func(ctx context.Context) HealthStatus
}

// NewRouter builds the viewer's REST surface: GET /health, the two
// check_password endpoints, GET /api/v1/metadata-fields, GET
// /api/v1/sessions/search, and GET /api/v1/sessions/{sid}. Routing uses
// net/http.ServeMux's method-and-wildcard patterns directly.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", cfg.handleHealth)
	mux.HandleFunc("POST /api/v1/check_password", cfg.handleCheckPassword)
	mux.HandleFunc("POST /api/v1/sessions/{sid}/check_password", cfg.handleCheckSessionPassword)
	mux.HandleFunc("GET /api/v1/metadata-fields", cfg.withGlobalAuth(cfg.handleMetadataFields))
	mux.HandleFunc("GET /api/v1/sessions/search", cfg.withGlobalAuth(cfg.handleSearch))
	mux.HandleFunc("GET /api/v1/sessions/{sid}", cfg.withSessionAuth(cfg.handleSessionDetail))

	return recoveryMiddleware(jsonMiddleware(mux), cfg.Logger)
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func recoveryMiddleware(next http.Handler, logger Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if logger != nil {
					logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				}
				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withGlobalAuth requires a valid X-Password header before calling next.
// A session-scoped password presented here is a scope violation, not a
// missing credential, and is rejected with 403.
func (cfg RouterConfig) withGlobalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Auth.CheckGlobalPassword(r.Header.Get("X-Password")) {
			next(w, r)
			return
		}
		if r.Header.Get("X-Password") == "" && r.Header.Get("X-Session-Password") != "" {
			writeError(w, http.StatusForbidden, "forbidden", "a session password is only valid for that session's detail endpoint")
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid X-Password")
	}
}

// withSessionAuth accepts either X-Password (global) or X-Session-Password
// (scoped to the {sid} in the path) before calling next. A session
// password that does not match this session is a scope violation (403);
// absent credentials are 401.
func (cfg RouterConfig) withSessionAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid := r.PathValue("sid")

		if global := r.Header.Get("X-Password"); global != "" {
			if cfg.Auth.CheckGlobalPassword(global) {
				next(w, r)
				return
			}
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid X-Password")
			return
		}

		if sessionPw := r.Header.Get("X-Session-Password"); sessionPw != "" {
			result, err := cfg.Auth.CheckSessionPassword(r.Context(), sid, sessionPw)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			if !result.Valid {
				writeError(w, http.StatusForbidden, "forbidden", "X-Session-Password does not grant access to this session")
				return
			}
			next(w, r)
			return
		}

		writeError(w, http.StatusUnauthorized, "unauthorized", "missing X-Password or X-Session-Password")
	}
}

func (cfg RouterConfig) handleHealth(w http.ResponseWriter, r *http.Request) {
	if cfg.Health == nil {
		writeJSON(w, http.StatusOK, HealthStatus{Status: "ok"})
		return
	}
	writeJSON(w, http.StatusOK, cfg.Health(r.Context()))
}

type passwordRequest struct {
	PasswordHash string `json:"password_hash"`
}

func (cfg RouterConfig) handleCheckPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": cfg.Auth.CheckGlobalPassword(req.PasswordHash)})
}

func (cfg RouterConfig) handleCheckSessionPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	sid := r.PathValue("sid")
	result, err := cfg.Auth.CheckSessionPassword(r.Context(), sid, req.PasswordHash)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": result.Valid, "used_global": result.UsedGlobal})
}

func (cfg RouterConfig) handleMetadataFields(w http.ResponseWriter, r *http.Request) {
	fields, err := cfg.Viewer.ListIndexedFields(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": fields})
}

func (cfg RouterConfig) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := SearchParams{
		Query: q.Get("session_id"),
	}
	if filtersRaw := q.Get("filters"); filtersRaw != "" {
		var filters map[string]string
		if err := json.Unmarshal([]byte(filtersRaw), &filters); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "filters must be a JSON object of string values")
			return
		}
		params.MetadataFilter = filters
	}
	if startRaw := q.Get("created_at_start"); startRaw != "" {
		start, err := time.Parse(time.RFC3339, startRaw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "created_at_start must be RFC3339")
			return
		}
		params.CreatedAtStart = start
	}
	if endRaw := q.Get("created_at_end"); endRaw != "" {
		end, err := time.Parse(time.RFC3339, endRaw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "created_at_end must be RFC3339")
			return
		}
		params.CreatedAtEnd = end
	}
	if limitRaw := q.Get("limit"); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 64)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		// An explicit limit of 0 is an empty page, not "use the default".
		if limit == 0 {
			writeJSON(w, http.StatusOK, &SearchResult{Sessions: []SessionSummary{}, Limit: 0})
			return
		}
		params.Limit = limit
	}
	if offsetRaw := q.Get("offset"); offsetRaw != "" {
		offset, err := strconv.ParseInt(offsetRaw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "offset must be an integer")
			return
		}
		params.Offset = offset
	}

	result, err := cfg.Viewer.Search(r.Context(), params)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (cfg RouterConfig) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	detail, err := cfg.Viewer.GetSessionDetail(r.Context(), sid)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// writeStoreError maps a store-layer error to an HTTP status without
// leaking internal detail, attaching a short request-id for log
// correlation on 500s.
func writeStoreError(w http.ResponseWriter, err error) {
	var notFound *store.NotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, "not_found", "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error (ref "+requestRef()+")")
}

// requestRef is a correlation token attached to 500 responses so an
// operator can find the matching server-side log line without the
// response body leaking any internal detail.
func requestRef() string {
	return uuid.NewString()
}
