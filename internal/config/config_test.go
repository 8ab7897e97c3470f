package config

import (
	"os"
	"testing"
)

func unsetAllEnv() {
	for _, k := range []string{
		"PORT", "WORKER_MODE", "WORKER_ID", "PARTITIONS",
		"NUM_PARTITIONS", "REPLICATION_FACTOR", "WORKER_POOL_SIZE",
		"AUDIT_DSN", "REDIS_URL",
	} {
		_ = os.Unsetenv(k)
	}
}

func TestConfigLoad_Defaults(t *testing.T) {
	unsetAllEnv()
	defer unsetAllEnv()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.Port != 3000 {
		t.Fatalf("expected default port 3000, got %d", cfg.Port)
	}
	if cfg.NumPartitions != 8 {
		t.Fatalf("expected default num_partitions 8, got %d", cfg.NumPartitions)
	}
	if cfg.WorkerMode {
		t.Fatalf("expected worker mode to default false")
	}
}

func TestConfigLoad_EnvOverride(t *testing.T) {
	unsetAllEnv()
	defer unsetAllEnv()

	_ = os.Setenv("PORT", "8080")
	_ = os.Setenv("WORKER_MODE", "true")
	_ = os.Setenv("PARTITIONS", "0,2,4")

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected overridden port 8080, got %d", cfg.Port)
	}
	if !cfg.WorkerMode {
		t.Fatalf("expected worker mode true")
	}

	parsed, err := cfg.ParsedPartitions()
	if err != nil {
		t.Fatalf("parse partitions: %v", err)
	}
	if len(parsed) != 3 || parsed[0] != 0 || parsed[1] != 2 || parsed[2] != 4 {
		t.Fatalf("unexpected parsed partitions: %v", parsed)
	}
}

func TestValidate_ReplicationFactorExceedsPartitions(t *testing.T) {
	cfg := &Config{NumPartitions: 4, ReplicationFactor: 5, WorkerPoolSize: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error when replication factor exceeds partitions")
	}
}

func TestValidate_ZeroPartitions(t *testing.T) {
	cfg := &Config{NumPartitions: 0, ReplicationFactor: 1, WorkerPoolSize: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for zero partitions")
	}
}

func TestParsePartitionList_Empty(t *testing.T) {
	parsed, err := parsePartitionList("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed != nil {
		t.Fatalf("expected nil for empty input, got %v", parsed)
	}
}

func TestParsePartitionList_Invalid(t *testing.T) {
	if _, err := parsePartitionList("0,x,2"); err == nil {
		t.Fatalf("expected error for non-numeric partition id")
	}
}
