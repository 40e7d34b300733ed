// Package config loads runtime configuration for the sync core: mirror
// and cache base paths, database connectivity, pool sizing, and the
// tunables §5/§7 call out (heartbeat staleness, chunk size, subject
// fallback). Mirrors the teacher's Load/LoadFromEnv split: a YAML file
// supplies defaults, environment variables (optionally sourced from a
// local .env via godotenv) override them for deployment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the sync core.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Cache     CacheConfig     `yaml:"cache"`
	Queue     QueueConfig     `yaml:"queue"`
	Threading ThreadingConfig `yaml:"threading"`
	Server    ServerConfig    `yaml:"server"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// DatabaseConfig holds Postgres connectivity and pool sizing.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"` // spec §5: support ≥6 concurrent writers per chunk + control plane
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// MirrorConfig locates git mirrors populated by the external mirror tool
// (spec §6): <mirror_base>/<slug>/git/<epoch>.git.
type MirrorConfig struct {
	BasePath string `yaml:"base_path"`
}

// CacheConfig locates the per-mailing-list threading cache on disk
// (spec §4.4/§6) and, optionally, a mirrored S3 prefix for operators
// running ephemeral local disks.
type CacheConfig struct {
	BasePath  string `yaml:"base_path"`
	S3Bucket  string `yaml:"s3_bucket"`
	S3Prefix  string `yaml:"s3_prefix"`
	S3Region  string `yaml:"s3_region"`
}

// S3Enabled reports whether the S3 cache mirror is configured.
func (c CacheConfig) S3Enabled() bool { return c.S3Bucket != "" }

// QueueConfig tunes the job queue and dispatcher (spec §4.1/§4.7).
type QueueConfig struct {
	HeartbeatStaleSeconds int `yaml:"heartbeat_stale_seconds"` // default 300 (≥2x longest phase step)
	ChunkSize             int `yaml:"chunk_size"`              // default 25000
	CancelCheckEveryN     int `yaml:"cancel_check_every_n"`    // default 5 chunks
}

// StaleAfter returns the heartbeat staleness threshold as a Duration.
func (c QueueConfig) StaleAfter() time.Duration {
	if c.HeartbeatStaleSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.HeartbeatStaleSeconds) * time.Second
}

// ChunkSizeOrDefault returns the configured import chunk size, defaulting
// to the 25k spec.md calls out in §4.5/§5/§7.
func (c QueueConfig) ChunkSizeOrDefault() int {
	if c.ChunkSize <= 0 {
		return 25000
	}
	return c.ChunkSize
}

// CancelCheckEveryNOrDefault returns how many chunks pass between
// cancellation polls during import (spec §4.7).
func (c QueueConfig) CancelCheckEveryNOrDefault() int {
	if c.CancelCheckEveryN <= 0 {
		return 5
	}
	return c.CancelCheckEveryN
}

// ThreadingConfig exposes the Open Question 3 flag: whether subject
// fallback (Phase D) runs.
type ThreadingConfig struct {
	SubjectFallbackEnabled bool `yaml:"subject_fallback_enabled"`
}

// ServerConfig holds the thin status-endpoint HTTP server's bind address.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// NotifyConfig names the pub/sub channel the downstream event contract
// publisher (spec §6) publishes ChangeEvents on. Publishing itself is
// optional: it only happens when the dispatcher is given a Redis client.
type NotifyConfig struct {
	Channel string `yaml:"channel"`
}

// ChannelOrDefault returns the configured notify channel, or the
// default if unset.
func (c NotifyConfig) ChannelOrDefault() string {
	if c.Channel == "" {
		return "lore:changes"
	}
	return c.Channel
}

// Load reads and parses the configuration file, applying defaults for
// anything left zero-valued.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Queue.HeartbeatStaleSeconds == 0 {
		cfg.Queue.HeartbeatStaleSeconds = 300
	}
	if cfg.Queue.ChunkSize == 0 {
		cfg.Queue.ChunkSize = 25000
	}
	if cfg.Queue.CancelCheckEveryN == 0 {
		cfg.Queue.CancelCheckEveryN = 5
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env
// vars, so secrets can live in .env locally and in real env vars in
// production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("MIRROR_BASE_PATH"); v != "" {
		cfg.Mirror.BasePath = v
	}
	if v := os.Getenv("CACHE_BASE_PATH"); v != "" {
		cfg.Cache.BasePath = v
	}
	if v := os.Getenv("CACHE_S3_BUCKET"); v != "" {
		cfg.Cache.S3Bucket = v
	}
	if v := os.Getenv("CACHE_S3_PREFIX"); v != "" {
		cfg.Cache.S3Prefix = v
	}
	if v := os.Getenv("CACHE_S3_REGION"); v != "" {
		cfg.Cache.S3Region = v
	}
	if v := os.Getenv("DB_POOL_SIZE"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			cfg.Database.MaxOpenConns = n
		}
	}

	return cfg, nil
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscan(s, &n); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("not positive: %d", n)
	}
	return n, nil
}
