package sessionmanager

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/iguinea/mongodb-session-manager/hooks"
	"github.com/iguinea/mongodb-session-manager/mongopool"
	"github.com/iguinea/mongodb-session-manager/store"
)

// Factory owns one MongoDB client, one Store, and the hook dispatcher
// every Handle it creates shares. Construct one Factory per process (or
// use the Global convenience wrapper) rather than one per session.
type Factory struct {
	client     *mongo.Client
	database   string
	store      store.Store
	dispatcher *hooks.Dispatcher
	logger     Logger

	// instanceID identifies this Factory in logs when multiple process
	// instances write to the same database, e.g. several replicas of
	// the same service behind a load balancer.
	instanceID string

	defaultApplicationName string
	defaultSessionType     string

	// ownsPool records whether this Factory obtained its client from the
	// process-wide pool (and should release it on Close) or was handed
	// an externally managed client. Set once at construction.
	ownsPool bool

	started atomic.Bool
	mu      sync.Mutex
}

// FactoryStats summarizes a Factory's connection pool status for health
// reporting.
type FactoryStats struct {
	Pool mongopool.Stats `json:"pool"`
}

// NewFactory connects to MongoDB via the process-wide connection pool
// and returns a Factory ready to Start.
func NewFactory(ctx context.Context, cfg Config) (*Factory, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	poolOpts := cfg.Pool
	if poolOpts.Logger == nil {
		poolOpts.Logger = cfg.Logger
	}
	client, err := mongopool.Global().Initialize(ctx, cfg.ConnectionString, poolOpts)
	if err != nil {
		return nil, NewHandleError("NewFactory", err)
	}

	f := NewFactoryWithClient(client, cfg.Database, cfg.Logger, cfg.HookWorkers, cfg.HookQueueSize)
	f.store = store.NewMongoStoreWithOptions(client.Database(cfg.Database), store.Options{
		Collection:     cfg.Collection,
		MetadataFields: cfg.MetadataFields,
	})
	f.defaultApplicationName = cfg.DefaultApplicationName
	f.defaultSessionType = cfg.DefaultSessionType
	f.ownsPool = true
	return f, nil
}

// NewFactoryWithClient builds a Factory around an already-connected client.
func NewFactoryWithClient(client *mongo.Client, database string, logger Logger, hookWorkers, hookQueueSize int) *Factory {
	var dispatcherLogger hooks.Logger
	if logger != nil {
		dispatcherLogger = logger
	}
	return &Factory{
		client:     client,
		database:   database,
		store:      store.NewMongoStore(client.Database(database)),
		dispatcher: hooks.NewDispatcher(hookWorkers, hookQueueSize, dispatcherLogger),
		logger:     logger,
		instanceID: uuid.NewString(),
	}
}

// InstanceID identifies this Factory instance, generated once at
// construction time. Useful for correlating logs across replicas of
// the same service writing to the same database.
func (f *Factory) InstanceID() string {
	return f.instanceID
}

// Start launches the hook dispatcher's worker pool and ensures the
// store's indexes exist.
func (f *Factory) Start(ctx context.Context) error {
	if !f.started.CompareAndSwap(false, true) {
		return NewHandleError("Factory.Start", ErrAlreadyStarted)
	}
	if err := f.store.EnsureIndexes(ctx); err != nil {
		f.started.Store(false)
		return NewHandleError("Factory.Start", err)
	}
	if err := f.dispatcher.Start(ctx); err != nil {
		f.started.Store(false)
		return NewHandleError("Factory.Start", err)
	}
	if f.logger != nil {
		f.logger.Info("factory started", "instance_id", f.instanceID, "database", f.database)
	}
	return nil
}

// Stop stops the hook dispatcher. It does not close the underlying
// client, which the connection pool owns.
func (f *Factory) Stop() error {
	if !f.started.Load() {
		return NewHandleError("Factory.Stop", ErrNotStarted)
	}
	err := f.dispatcher.Stop()
	f.started.Store(false)
	if err != nil {
		return NewHandleError("Factory.Stop", err)
	}
	return nil
}

// Dispatcher exposes the Factory's hook dispatcher so callers can build
// Sink-backed hooks (hooks.FeedbackNotificationHook and friends) bound
// to it before passing them to CreateSessionManager via WithHooks.
func (f *Factory) Dispatcher() *hooks.Dispatcher {
	return f.dispatcher
}

// Store exposes the underlying Store, primarily so a viewer can be
// constructed against the same collection a Factory writes to.
func (f *Factory) Store() store.Store {
	return f.store
}

// CreateSessionManager returns a Handle for sessionID, creating the
// session document on first use.
func (f *Factory) CreateSessionManager(ctx context.Context, sessionID string, opts ...Option) (*Handle, error) {
	var defaults []Option
	if f.defaultApplicationName != "" {
		defaults = append(defaults, WithApplicationName(f.defaultApplicationName))
	}
	if f.defaultSessionType != "" {
		defaults = append(defaults, WithSessionType(f.defaultSessionType))
	}
	// Factory defaults are applied first so per-call opts, applied
	// after, take precedence; a nil-valued override is simply an Option
	// the caller never passed, leaving the default in place.
	all := append(defaults, opts...)

	h, err := newHandle(ctx, f.store, sessionID, all...)
	if err != nil {
		return nil, err
	}
	h.logger = f.logger
	return h, nil
}

// Stats reports the connection pool's current health when this Factory
// owns the pool. A Factory built around an externally managed client
// reports a sentinel status instead, since the owner's pool is not ours
// to introspect.
func (f *Factory) Stats(ctx context.Context) FactoryStats {
	if !f.ownsPool {
		return FactoryStats{Pool: mongopool.Stats{Status: "externally_managed"}}
	}
	return FactoryStats{Pool: mongopool.Global().Stats(ctx)}
}

// Close stops the hook dispatcher and, when this Factory owns its
// client, releases the shared connection pool. A Factory built around
// an externally managed client leaves that client untouched.
func (f *Factory) Close(ctx context.Context) error {
	if f.started.Load() {
		if err := f.Stop(); err != nil {
			return err
		}
	}
	if f.ownsPool {
		return mongopool.Global().Close(ctx)
	}
	return nil
}

var (
	globalMu      sync.RWMutex
	globalFactory *Factory
)

// InitializeGlobal builds a Factory from cfg, starts it, and installs it
// as the process-wide Global factory. Re-initialization stops and
// replaces any previously installed Factory; this is an operator-level
// event and is logged as a warning.
func InitializeGlobal(ctx context.Context, cfg Config) (*Factory, error) {
	f, err := NewFactory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := f.Start(ctx); err != nil {
		return nil, err
	}

	globalMu.Lock()
	previous := globalFactory
	globalFactory = f
	globalMu.Unlock()

	if previous != nil {
		if cfg.Logger != nil {
			cfg.Logger.Warn("replacing previously initialized global factory", "previous_instance_id", previous.InstanceID())
		}
		_ = previous.Stop()
	}

	return f, nil
}

// Global returns the process-wide Factory installed by InitializeGlobal.
// It returns ErrNotInitialized if no Factory has been installed yet.
func Global() (*Factory, error) {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalFactory == nil {
		return nil, ErrNotInitialized
	}
	return globalFactory, nil
}

// CloseGlobal stops the Global factory, if one was installed, and
// releases the shared connection pool.
func CloseGlobal(ctx context.Context) error {
	globalMu.Lock()
	f := globalFactory
	globalFactory = nil
	globalMu.Unlock()

	if f != nil {
		_ = f.Stop()
	}
	return mongopool.CloseGlobal(ctx)
}
