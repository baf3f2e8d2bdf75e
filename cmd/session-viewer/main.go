// Command session-viewer serves the read-only session viewer: the JSON
// API under /api/v1/ and the HTML inspector under /ui/, both backed by
// the same MongoDB sessions collection the agent runtime writes to.
//
// Configuration is environment-driven; see settingsFromEnv for the
// recognized variables. Run with:
//
//	MONGODB_CONNECTION_STRING=mongodb://localhost:27017/ \
//	DATABASE_NAME=sessions BACKEND_PASSWORD=change-me go run ./cmd/session-viewer
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	sessionmanager "github.com/iguinea/mongodb-session-manager"
	"github.com/iguinea/mongodb-session-manager/mongopool"
	"github.com/iguinea/mongodb-session-manager/store"
	"github.com/iguinea/mongodb-session-manager/viewer"
	viewerhtml "github.com/iguinea/mongodb-session-manager/viewer/html"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("session-viewer exited")
	}
}

func run() error {
	cfg, err := settingsFromEnv(os.Getenv)
	if err != nil {
		return err
	}

	base := logrus.New()
	base.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		base.SetLevel(level)
	}
	logger := sessionmanager.NewDefaultLogger(base)

	if cfg.BackendPasswordGenerated {
		// Development convenience only: a generated password is useless
		// unless the operator can see it.
		logger.Warn("BACKEND_PASSWORD not set, generated an ephemeral one", "password", cfg.BackendPassword)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mongopool.New()
	client, err := pool.Initialize(ctx, cfg.ConnectionString, mongopool.Options{
		MaxPoolSize: cfg.MaxPoolSize,
		MinPoolSize: cfg.MinPoolSize,
		MaxIdleTime: cfg.MaxIdleTime,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer pool.Close(context.Background())

	st := store.NewMongoStoreWithOptions(client.Database(cfg.DatabaseName), store.Options{
		Collection:     cfg.CollectionName,
		MetadataFields: cfg.MetadataFields,
	})
	if err := st.EnsureIndexes(ctx); err != nil {
		return err
	}

	v := viewer.New(st, viewer.Config{
		PageSize:      cfg.DefaultPageSize,
		EnumFields:    cfg.EnumFields,
		EnumMaxValues: cfg.EnumMaxValues,
	})
	auth := viewer.NewAuthenticator(st, cfg.BackendPassword)

	api := viewer.NewRouter(viewer.RouterConfig{
		Viewer: v,
		Auth:   auth,
		Logger: logger,
		Health: func(ctx context.Context) viewer.HealthStatus {
			stats := pool.Stats(ctx)
			status := "ok"
			if stats.Status != "connected" {
				status = "degraded"
			}
			return viewer.HealthStatus{Status: status, MongoDB: stats.Status, ConnectionPool: stats}
		},
	})

	ui := viewerhtml.NewHandler(viewerhtml.Config{
		Viewer:   v,
		Auth:     auth,
		BasePath: "/ui",
		Logger:   logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/", api)
	mux.Handle("/ui/", http.StripPrefix("/ui", ui))

	addr := net.JoinHostPort(cfg.BackendHost, strconv.Itoa(cfg.BackendPort))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("session viewer listening", "addr", addr, "database", cfg.DatabaseName, "collection", cfg.CollectionName)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
