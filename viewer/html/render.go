// Package html is a minimal, read-only HTML front end over the viewer
// query engine: a session search page and a session detail/timeline
// page, rendered server-side with html/template. Message content
// passed through the markdown template func is parsed with goldmark
// and sanitized with bluemonday before being marked template.HTML.
package html

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/iguinea/mongodb-session-manager/viewer"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Logger is the structured logging interface the handler reports
// recovered panics through. A nil Logger discards output.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config wires a Handler to its dependencies.
type Config struct {
	Viewer *viewer.Viewer
	Auth   *viewer.Authenticator
	// BasePath is prefixed onto every link the templates emit.
	BasePath string
	Logger   Logger
}

type handler struct {
	cfg  Config
	tmpl *template.Template
}

// NewHandler builds the read-only HTML inspector: GET {BasePath}/
// (search) and GET {BasePath}/sessions/{sid} (detail+timeline). Both
// routes read the password digest from the "pw" query parameter, since
// a browser navigation can't set a custom header: the search page
// requires the global password, and the detail page accepts either the
// global password or that session's own password. A failed check
// answers 401.
func NewHandler(cfg Config) http.Handler {
	tmpl := template.Must(template.New("").Funcs(templateFuncs()).ParseFS(templatesFS, "templates/*.html"))
	h := &handler{cfg: cfg, tmpl: tmpl}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleSearch)
	mux.HandleFunc("GET /sessions/{sid}", h.handleDetail)

	return recoveryMiddleware(mux, cfg.Logger)
}

func recoveryMiddleware(next http.Handler, logger Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if logger != nil {
					logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				}
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *handler) checkGlobal(w http.ResponseWriter, r *http.Request) bool {
	pw := r.URL.Query().Get("pw")
	if h.cfg.Auth.CheckGlobalPassword(pw) {
		return true
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
	return false
}

type searchPageData struct {
	BasePath string
	Password string
	Result   *viewer.SearchResult
	Query    string
}

func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !h.checkGlobal(w, r) {
		return
	}
	q := r.URL.Query()

	params := viewer.SearchParams{Query: q.Get("q")}
	if limitRaw := q.Get("limit"); limitRaw != "" {
		if limit, err := strconv.ParseInt(limitRaw, 10, 64); err == nil {
			params.Limit = limit
		}
	}

	result, err := h.cfg.Viewer.Search(r.Context(), params)
	if err != nil {
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}

	h.render(w, "search.html", searchPageData{
		BasePath: h.cfg.BasePath,
		Password: q.Get("pw"),
		Result:   result,
		Query:    params.Query,
	})
}

type detailPageData struct {
	BasePath string
	Password string
	Detail   *viewer.SessionDetail
}

func (h *handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	pw := r.URL.Query().Get("pw")

	if !h.cfg.Auth.CheckGlobalPassword(pw) {
		result, err := h.cfg.Auth.CheckSessionPassword(r.Context(), sid, pw)
		if err != nil || !result.Valid {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	detail, err := h.cfg.Viewer.GetSessionDetail(r.Context(), sid)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	h.render(w, "detail.html", detailPageData{
		BasePath: h.cfg.BasePath,
		Password: pw,
		Detail:   detail,
	})
}

func (h *handler) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.ExecuteTemplate(w, name, data); err != nil {
		http.Error(w, "render failed", http.StatusInternalServerError)
	}
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"markdown":    markdown,
		"safeHTML":    safeHTML,
		"formatTime":  formatTime,
		"contentText": contentText,
		"roleBadge":   roleBadge,
	}
}

var (
	mdParser   goldmark.Markdown
	mdSanitize *bluemonday.Policy
)

func init() {
	mdParser = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			gmhtml.WithHardWraps(),
			gmhtml.WithUnsafe(),
		),
	)
	mdSanitize = bluemonday.UGCPolicy()
	mdSanitize.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre", "span")
}

// markdown converts markdown text to sanitized HTML for a message
// bubble's text content.
func markdown(s string) template.HTML {
	var buf bytes.Buffer
	if err := mdParser.Convert([]byte(s), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(s))
	}
	return template.HTML(mdSanitize.SanitizeBytes(buf.Bytes()))
}

// safeHTML sanitizes a raw HTML fragment, used for anything not routed
// through markdown.
func safeHTML(s string) template.HTML {
	return template.HTML(mdSanitize.Sanitize(s))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

// contentText flattens a message's opaque content blocks into a single
// plain-text string for markdown rendering. Content elements are
// SDK-shaped maps (e.g. {"text": "..."}) or bare strings; anything else
// falls back to its JSON-ish %v form.
func contentText(content []any) string {
	var b strings.Builder
	for i, part := range content {
		if i > 0 {
			b.WriteString("\n")
		}
		switch v := part.(type) {
		case string:
			b.WriteString(v)
		case map[string]any:
			if text, ok := v["text"].(string); ok {
				b.WriteString(text)
				continue
			}
			b.WriteString(fmt.Sprintf("%v", v))
		default:
			b.WriteString(fmt.Sprintf("%v", v))
		}
	}
	return b.String()
}

// roleBadge maps a message role to a small CSS class.
func roleBadge(role string) string {
	switch role {
	case "user":
		return "badge-user"
	case "assistant":
		return "badge-assistant"
	case "tool":
		return "badge-tool"
	default:
		return "badge-default"
	}
}
