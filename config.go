package sessionmanager

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/iguinea/mongodb-session-manager/hooks"
	"github.com/iguinea/mongodb-session-manager/mongopool"
)

// Config describes how a Handle or Factory connects to MongoDB and
// behaves by default. Client takes precedence over ConnectionString
// when both are set.
type Config struct {
	// ConnectionString is a mongodb:// URI used to obtain a pooled
	// client when Client is nil.
	ConnectionString string

	// Database is the name of the database holding the sessions collection.
	Database string

	// Collection overrides the collection name. Defaults to "sessions".
	Collection string

	// Pool tunes the shared MongoDB client obtained from the process-wide
	// connection pool when Client is nil. Zero values use the pool's
	// defaults.
	Pool mongopool.Options

	// Logger receives structured diagnostics. A nil Logger discards output.
	Logger Logger

	// HookWorkers sets how many goroutines drain the hook dispatcher's
	// delivery queue. Defaults to 4.
	HookWorkers int

	// HookQueueSize bounds the number of pending hook deliveries; once the
	// queue is full, further deliveries are dropped and logged. Defaults
	// to 256.
	HookQueueSize int

	// MetadataFields lists metadata keys to pre-seed (as empty strings)
	// on every new session and index for the viewer's filter/search UI.
	MetadataFields []string

	// DefaultApplicationName seeds WithApplicationName for every Handle
	// a Factory creates, unless a per-call Option overrides it.
	DefaultApplicationName string

	// DefaultSessionType seeds WithSessionType for every Handle a
	// Factory creates, unless a per-call Option overrides it.
	DefaultSessionType string
}

func (c Config) validate() error {
	if c.ConnectionString == "" {
		return NewHandleError("Config.validate", ErrInvalidConfig).WithContext("reason", "missing connection string")
	}
	if c.Database == "" {
		return NewHandleError("Config.validate", ErrInvalidConfig).WithContext("reason", "missing database name")
	}
	return nil
}

type internalConfig struct {
	applicationName       string
	sessionType           string
	sessionViewerPassword string
	globalViewerPassword  string
	metadata              map[string]any
	hooks                 []hooks.Hook
	syncTimeout           time.Duration
}

func newInternalConfig() *internalConfig {
	return &internalConfig{
		sessionType: "agent",
		metadata:    map[string]any{},
		syncTimeout: 10 * time.Second,
	}
}

// Option configures a Handle at construction time.
type Option func(*internalConfig) error

// WithApplicationName labels the session with the name of the
// application creating it.
func WithApplicationName(name string) Option {
	return func(c *internalConfig) error {
		c.applicationName = name
		return nil
	}
}

// WithSessionType overrides the default "agent" session_type.
func WithSessionType(sessionType string) Option {
	return func(c *internalConfig) error {
		if sessionType == "" {
			return NewHandleError("WithSessionType", ErrInvalidConfig)
		}
		c.sessionType = sessionType
		return nil
	}
}

// WithSessionViewerPassword sets a per-session password gating access to
// this session in the viewer. The global viewer password still grants
// access to the session as well.
func WithSessionViewerPassword(password string) Option {
	return func(c *internalConfig) error {
		c.sessionViewerPassword = password
		return nil
	}
}

// WithMetadata seeds the session's metadata map at creation time.
func WithMetadata(metadata map[string]any) Option {
	return func(c *internalConfig) error {
		c.metadata = metadata
		return nil
	}
}

// WithHooks registers hooks to run around the resulting Handle's
// metadata and feedback operations: GetMetadata, UpdateMetadata,
// DeleteMetadataKeys and AddFeedback.
func WithHooks(h ...hooks.Hook) Option {
	return func(c *internalConfig) error {
		c.hooks = append(c.hooks, h...)
		return nil
	}
}

// WithSyncTimeout bounds how long one SyncAgent call waits for all of
// its writes together.
func WithSyncTimeout(d time.Duration) Option {
	return func(c *internalConfig) error {
		if d <= 0 {
			return NewHandleError("WithSyncTimeout", ErrInvalidConfig)
		}
		c.syncTimeout = d
		return nil
	}
}

// generateViewerPassword returns a 32-character URL-safe token suitable
// for session_viewer_password, auto-generated once at session creation.
func generateViewerPassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Logger is the structured logging interface accepted throughout the
// session manager. A default logrus-backed implementation is provided
// by NewDefaultLogger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
