// Package config loads process configuration from environment variables,
// following the exact variable names spec'd for this system (no prefix),
// unlike the envconfig-prefixed style this package is adapted from.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Config holds process-wide configuration. Every field maps to one of the
// environment variables named in spec §6, plus internal knobs that the
// original system hardcoded but this implementation makes tunable.
type Config struct {
	Hostname string `envconfig:"HOSTNAME" default:""`
	Port     int    `envconfig:"PORT" default:"3000"`

	WorkerMode bool   `envconfig:"WORKER_MODE" default:"false"`
	WorkerID   string `envconfig:"WORKER_ID" default:""`
	Partitions string `envconfig:"PARTITIONS" default:""` // comma-separated partition ids

	OllamaURL   string `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	OllamaModel string `envconfig:"OLLAMA_MODEL" default:"llava"`

	MinioEndpoint  string `envconfig:"MINIO_ENDPOINT" default:"localhost"`
	MinioPort      int    `envconfig:"MINIO_PORT" default:"9000"`
	MinioUseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
	MinioAccessKey string `envconfig:"MINIO_ACCESS_KEY" default:"minioadmin"`
	MinioSecretKey string `envconfig:"MINIO_SECRET_KEY" default:"minioadmin"`

	RedisURL string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`

	APIEndpoint string `envconfig:"API_ENDPOINT" default:""`

	// Internal knobs not named by spec §6 but required to construct the
	// partitioner, shard store, and worker pool.
	NumPartitions     int    `envconfig:"NUM_PARTITIONS" default:"8"`
	ReplicationFactor int    `envconfig:"REPLICATION_FACTOR" default:"2"`
	WorkerPoolSize    int    `envconfig:"WORKER_POOL_SIZE" default:"4"`
	MaxPartitionBytes int64  `envconfig:"MAX_PARTITION_BYTES" default:"0"`
	AuditDSN          string `envconfig:"AUDIT_DSN" default:""`
}

// New parses environment variables into a Config and validates it.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Int("port", cfg.Port).
		Bool("worker_mode", cfg.WorkerMode).
		Str("worker_id", cfg.WorkerID).
		Str("partitions", cfg.Partitions).
		Int("num_partitions", cfg.NumPartitions).
		Int("replication_factor", cfg.ReplicationFactor).
		Int("worker_pool_size", cfg.WorkerPoolSize).
		Msg("configuration loaded")

	return &cfg, nil
}

// Validate mirrors the partitioner's own construction-time checks so
// misconfiguration fails at startup rather than on the first request.
func (c *Config) Validate() error {
	if c.NumPartitions <= 0 {
		return fmt.Errorf("NUM_PARTITIONS must be positive, got %d", c.NumPartitions)
	}
	if c.ReplicationFactor <= 0 {
		return fmt.Errorf("REPLICATION_FACTOR must be positive, got %d", c.ReplicationFactor)
	}
	if c.ReplicationFactor > c.NumPartitions {
		return fmt.Errorf("REPLICATION_FACTOR (%d) cannot exceed NUM_PARTITIONS (%d)", c.ReplicationFactor, c.NumPartitions)
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("WORKER_POOL_SIZE must be positive, got %d", c.WorkerPoolSize)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ParsedPartitions splits the comma-separated PARTITIONS env var into ints.
// Returns nil when unset; a lease worker given an empty set leases from no
// partition.
func (c *Config) ParsedPartitions() ([]int, error) {
	return parsePartitionList(c.Partitions)
}

// parsePartitionList parses a comma-separated list of partition ids, e.g.
// "0,1,2". Blank entries from stray whitespace or a trailing comma are
// skipped. An empty input yields a nil slice.
func parsePartitionList(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid partition id %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}
