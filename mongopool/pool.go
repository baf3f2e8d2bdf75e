// Package mongopool provides a process-wide, lazily-initialized client
// for MongoDB, mirroring the connection-pool singleton the session store
// core sits on top of. The client is not reference-counted: Close
// disconnects it however many callers obtained it.
package mongopool

import (
	"context"
	"reflect"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Logger is the structured logging interface injected by the host.
// A nil Logger discards all log output.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options tunes the underlying MongoDB client. Zero values are replaced
// with the package defaults in Initialize.
type Options struct {
	MaxPoolSize            uint64
	MinPoolSize            uint64
	MaxIdleTime            time.Duration
	WaitQueueTimeout       time.Duration
	ServerSelectionTimeout time.Duration
	ConnectTimeout         time.Duration
	SocketTimeout          time.Duration
	RetryWrites            *bool
	RetryReads             *bool
	Logger                 Logger
}

// Default client tuning values used when Options leaves a field zero.
const (
	DefaultMaxPoolSize            = 100
	DefaultMinPoolSize            = 10
	DefaultMaxIdleTime            = 30 * time.Second
	DefaultWaitQueueTimeout       = 5 * time.Second
	DefaultServerSelectionTimeout = 5 * time.Second
	DefaultConnectTimeout         = 10 * time.Second
	DefaultSocketTimeout          = 30 * time.Second
)

func (o Options) withDefaults() Options {
	if o.MaxPoolSize == 0 {
		o.MaxPoolSize = DefaultMaxPoolSize
	}
	if o.MinPoolSize == 0 {
		o.MinPoolSize = DefaultMinPoolSize
	}
	if o.MaxIdleTime == 0 {
		o.MaxIdleTime = DefaultMaxIdleTime
	}
	if o.WaitQueueTimeout == 0 {
		o.WaitQueueTimeout = DefaultWaitQueueTimeout
	}
	if o.ServerSelectionTimeout == 0 {
		o.ServerSelectionTimeout = DefaultServerSelectionTimeout
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.SocketTimeout == 0 {
		o.SocketTimeout = DefaultSocketTimeout
	}
	if o.RetryWrites == nil {
		t := true
		o.RetryWrites = &t
	}
	if o.RetryReads == nil {
		t := true
		o.RetryReads = &t
	}
	return o
}

// equal reports whether two Options describe the same client
// configuration, used to decide whether Initialize can reuse the
// existing client. The Logger is diagnostic, not part of the client's
// identity, so it is excluded from the comparison.
func (o Options) equal(other Options) bool {
	o.Logger, other.Logger = nil, nil
	return reflect.DeepEqual(o, other)
}

// Stats summarizes the pool's current state for health reporting.
type Stats struct {
	Status       string `json:"status"`
	ServerVersion string `json:"server_version"`
	PoolConfig   Options `json:"-"`
}

// Pool is a re-initializable holder of a *mongo.Client. It keeps no count
// of its users; Close disconnects the client for all of them.
// The zero value is usable; Pool is safe for concurrent use.
type Pool struct {
	mu               sync.Mutex
	client           *mongo.Client
	connectionString string
	options          Options
}

// New returns an empty, uninitialized Pool.
func New() *Pool {
	return &Pool{}
}

// Initialize returns a client for the given connection string and options.
// If the pool is already initialized with an identical (connectionString,
// options) pair, the existing client is returned unchanged. Otherwise any
// existing client is closed (a warning is logged — this is an
// operator-level event, not a per-request one) and a new client is created
// and pinged.
func (p *Pool) Initialize(ctx context.Context, connectionString string, opts Options) (*mongo.Client, error) {
	opts = opts.withDefaults()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.connectionString == connectionString && p.options.equal(opts) {
		if opts.Logger != nil {
			opts.Logger.Debug("reusing existing mongodb client from pool")
		}
		return p.client, nil
	}

	if p.client != nil {
		if opts.Logger != nil {
			opts.Logger.Warn("connection parameters changed, recreating mongodb client")
		}
		_ = p.client.Disconnect(ctx)
		p.client = nil
	}

	retryWrites := opts.RetryWrites != nil && *opts.RetryWrites
	retryReads := opts.RetryReads != nil && *opts.RetryReads

	clientOpts := options.Client().
		ApplyURI(connectionString).
		SetMaxPoolSize(opts.MaxPoolSize).
		SetMinPoolSize(opts.MinPoolSize).
		SetMaxConnIdleTime(opts.MaxIdleTime).
		SetServerSelectionTimeout(opts.ServerSelectionTimeout).
		SetConnectTimeout(opts.ConnectTimeout).
		SetSocketTimeout(opts.SocketTimeout).
		SetRetryWrites(retryWrites).
		SetRetryReads(retryReads)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, &InitError{Op: "connect", Err: err}
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.ServerSelectionTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, &InitError{Op: "ping", Err: err}
	}

	p.client = client
	p.connectionString = connectionString
	p.options = opts

	if opts.Logger != nil {
		opts.Logger.Info("mongodb connection pool initialized",
			"max_pool_size", opts.MaxPoolSize,
			"min_pool_size", opts.MinPoolSize,
		)
	}

	return p.client, nil
}

// Get returns the current client, or nil if the pool has not been initialized.
func (p *Pool) Get() *mongo.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

// Close releases the pool's client. Close is idempotent.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Disconnect(ctx)
	p.client = nil
	return err
}

// Stats reports the pool's current status and configuration.
func (p *Pool) Stats(ctx context.Context) Stats {
	p.mu.Lock()
	client := p.client
	opts := p.options
	p.mu.Unlock()

	if client == nil {
		return Stats{Status: "not_initialized"}
	}

	var buildInfo bson.M
	version := "unknown"
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&buildInfo); err == nil {
		if v, ok := buildInfo["version"].(string); ok {
			version = v
		}
	}

	status := "connected"
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		status = "unreachable"
	}

	return Stats{Status: status, ServerVersion: version, PoolConfig: opts}
}

// InitError wraps a failure occurring during Initialize.
type InitError struct {
	Op  string
	Err error
}

func (e *InitError) Error() string {
	return "mongopool: " + e.Op + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error { return e.Err }
