package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// settings holds the viewer service's environment-driven configuration.
type settings struct {
	ConnectionString string
	DatabaseName     string
	CollectionName   string

	MaxPoolSize uint64
	MinPoolSize uint64
	MaxIdleTime time.Duration

	BackendHost string
	BackendPort int

	// BackendPassword gates the viewer. When the environment leaves it
	// empty an ephemeral one is generated and logged, which is only
	// acceptable for development.
	BackendPassword          string
	BackendPasswordGenerated bool

	DefaultPageSize int64
	EnumFields      []string
	EnumMaxValues   int64
	MetadataFields  []string

	LogLevel string
}

// mongoSecret is the JSON shape of MONGODB_SECRET_JSON, used to build a
// connection string when MONGODB_CONNECTION_STRING is not set directly.
type mongoSecret struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
}

func (s mongoSecret) connectionString() (string, error) {
	if s.Host == "" {
		return "", fmt.Errorf("mongodb secret is missing host")
	}
	port := s.Port
	if port == 0 {
		port = 27017
	}
	if s.Username == "" {
		return fmt.Sprintf("mongodb://%s:%d/", s.Host, port), nil
	}
	userinfo := url.UserPassword(s.Username, s.Password)
	return fmt.Sprintf("mongodb://%s@%s:%d/", userinfo.String(), s.Host, port), nil
}

// settingsFromEnv reads the recognized environment variables, applying
// development defaults where the deployment leaves them unset.
func settingsFromEnv(getenv func(string) string) (*settings, error) {
	s := &settings{
		ConnectionString: getenv("MONGODB_CONNECTION_STRING"),
		DatabaseName:     envOr(getenv, "DATABASE_NAME", "sessions"),
		CollectionName:   envOr(getenv, "COLLECTION_NAME", "sessions"),
		BackendHost:      envOr(getenv, "BACKEND_HOST", "0.0.0.0"),
		BackendPassword:  getenv("BACKEND_PASSWORD"),
		LogLevel:         envOr(getenv, "LOG_LEVEL", "info"),
	}

	if s.ConnectionString == "" {
		secretRaw := getenv("MONGODB_SECRET_JSON")
		if secretRaw == "" {
			return nil, fmt.Errorf("either MONGODB_CONNECTION_STRING or MONGODB_SECRET_JSON must be set")
		}
		var secret mongoSecret
		if err := json.Unmarshal([]byte(secretRaw), &secret); err != nil {
			return nil, fmt.Errorf("MONGODB_SECRET_JSON is not valid JSON: %w", err)
		}
		dsn, err := secret.connectionString()
		if err != nil {
			return nil, err
		}
		s.ConnectionString = dsn
	}

	var err error
	if s.MaxPoolSize, err = envUint(getenv, "MAX_POOL_SIZE", 100); err != nil {
		return nil, err
	}
	if s.MinPoolSize, err = envUint(getenv, "MIN_POOL_SIZE", 10); err != nil {
		return nil, err
	}
	idleMs, err := envInt(getenv, "MAX_IDLE_TIME_MS", 30000)
	if err != nil {
		return nil, err
	}
	s.MaxIdleTime = time.Duration(idleMs) * time.Millisecond

	port, err := envInt(getenv, "BACKEND_PORT", 8882)
	if err != nil {
		return nil, err
	}
	s.BackendPort = int(port)

	if s.DefaultPageSize, err = envInt(getenv, "DEFAULT_PAGE_SIZE", 20); err != nil {
		return nil, err
	}
	if s.EnumMaxValues, err = envInt(getenv, "ENUM_MAX_VALUES", 50); err != nil {
		return nil, err
	}
	s.EnumFields = splitFields(getenv("ENUM_FIELDS"))
	s.MetadataFields = splitFields(getenv("METADATA_FIELDS"))

	if s.BackendPassword == "" {
		s.BackendPassword, err = generatePassword()
		if err != nil {
			return nil, fmt.Errorf("generating fallback backend password: %w", err)
		}
		s.BackendPasswordGenerated = true
	}

	return s, nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(getenv func(string) string, key string, fallback int64) (int64, error) {
	raw := getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	return v, nil
}

func envUint(getenv func(string) string, key string, fallback uint64) (uint64, error) {
	raw := getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, raw)
	}
	return v, nil
}

// splitFields parses a comma-separated field list, trimming whitespace
// and dropping empty entries.
func splitFields(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	fields := make([]string, 0, len(parts))
	for _, p := range parts {
		if f := strings.TrimSpace(p); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

func generatePassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
