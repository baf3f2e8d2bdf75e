// Package testutil provides test utilities for the session manager.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TestDB wraps a MongoDB connection for integration testing.
type TestDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// NewTestDB creates a test database connection from the MONGODB_TEST_URI
// env var. It skips the calling test if the variable is not set.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set, skipping integration test")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("failed to connect to mongodb: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		t.Fatalf("failed to ping mongodb: %v", err)
	}

	dbName := os.Getenv("MONGODB_TEST_DB")
	if dbName == "" {
		dbName = "session_manager_test"
	}

	return &TestDB{Client: client, Database: client.Database(dbName)}
}

// Close disconnects the test client.
func (db *TestDB) Close() {
	if db.Client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Client.Disconnect(ctx)
	}
}

// CleanCollections drops the sessions collection for test isolation.
func (db *TestDB) CleanCollections(ctx context.Context) error {
	return db.Database.Collection("sessions").Drop(ctx)
}

// RequireIntegration skips the calling test unless MONGODB_TEST_URI is set.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("MONGODB_TEST_URI") == "" {
		t.Skip("skipping integration test: MONGODB_TEST_URI not set")
	}
}
