// Package config loads the prover node's configuration. Primary
// configuration is environment-variable driven, in the teacher's
// flat-struct-plus-getEnv-helpers idiom; an optional secondary YAML file
// (pipeline_config.go) overrides sync/batch tuning parameters.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// PersistenceBackend selects which storage.KV implementation the node
// constructs at startup.
type PersistenceBackend string

const (
	PersistenceEmbedded PersistenceBackend = "embedded"
	PersistencePostgres PersistenceBackend = "postgres"
)

// DABackend selects which da.Adapter implementation the node constructs
// at startup.
type DABackend string

const (
	DAMemory    DABackend = "memory"
	DAFirestore DABackend = "firestore"
)

// Config holds the prover node's environment-derived configuration.
type Config struct {
	// Node role flags
	ProverEnabled    bool
	BatcherEnabled   bool
	WebserverEnabled bool

	// Signing key
	SigningKeyPath string

	// Sync
	StartHeight uint64

	// Persistence
	PersistenceBackend PersistenceBackend
	DatabaseURL        string
	DataDir            string

	// DA
	DABackend                DABackend
	FirestoreProjectID       string
	FirestoreCredentialsFile string
	FirestoreCollection      string
	FirestorePollInterval    time.Duration
	DASubmitRetries          int
	DASubmitBackoff          time.Duration

	// Batch
	BatchMaxSize int

	// Network
	MetricsAddr   string
	WebserverAddr string

	LogLevel string
}

// Load reads configuration from environment variables. Call Validate
// after Load to ensure the selected backends have their required fields.
func Load() (*Config, error) {
	cfg := &Config{
		ProverEnabled:    getEnvBool("PROVER_ENABLED", true),
		BatcherEnabled:   getEnvBool("BATCHER_ENABLED", true),
		WebserverEnabled: getEnvBool("WEBSERVER_ENABLED", true),

		SigningKeyPath: getEnv("SIGNING_KEY_PATH", "./data/signing_key.hex"),

		StartHeight: getEnvUint64("START_HEIGHT", 1),

		PersistenceBackend: PersistenceBackend(getEnv("PERSISTENCE_BACKEND", string(PersistenceEmbedded))),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		DataDir:            getEnv("DATA_DIR", "./data"),

		DABackend:                DABackend(getEnv("DA_BACKEND", string(DAMemory))),
		FirestoreProjectID:       getEnv("FIRESTORE_PROJECT_ID", ""),
		FirestoreCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		FirestoreCollection:      getEnv("FIRESTORE_COLLECTION", "da_heights"),
		FirestorePollInterval:    getEnvDuration("FIRESTORE_POLL_INTERVAL", 2*time.Second),
		DASubmitRetries:          getEnvInt("DA_SUBMIT_RETRIES", 1),
		DASubmitBackoff:          getEnvDuration("DA_SUBMIT_BACKOFF", 0),

		BatchMaxSize: getEnvInt("BATCH_MAX_SIZE", 0),

		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		WebserverAddr: getEnv("WEBSERVER_ADDR", ":8080"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate checks that the fields required by the selected backends are
// present.
func (c *Config) Validate() error {
	var errs []string

	switch c.PersistenceBackend {
	case PersistenceEmbedded:
	case PersistencePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when PERSISTENCE_BACKEND=postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown PERSISTENCE_BACKEND %q", c.PersistenceBackend))
	}

	switch c.DABackend {
	case DAMemory:
	case DAFirestore:
		if c.FirestoreProjectID == "" {
			errs = append(errs, "FIRESTORE_PROJECT_ID is required when DA_BACKEND=firestore")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown DA_BACKEND %q", c.DABackend))
	}

	if c.SigningKeyPath == "" {
		errs = append(errs, "SIGNING_KEY_PATH is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
