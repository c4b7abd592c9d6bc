// Package config loads regcache's runtime configuration from environment
// variables and the storage-backend subcommand given on the command line.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// StorageBackend picks which cache.Store implementation to construct.
type StorageBackend string

const (
	BackendS3         StorageBackend = "s3"
	BackendFilesystem StorageBackend = "filesystem"
)

// Config is the process-wide configuration, assembled from environment
// variables plus the storage subcommand chosen on the command line.
type Config struct {
	Listen           string
	DefaultNamespace string
	CheckCacheDigest bool

	BlobChunkReadTimeout  time.Duration
	BlobChunkWriteTimeout time.Duration

	UpstreamConfigFile  string
	UpstreamCredentials string

	Backend StorageBackend

	S3Host      string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3Bucket    string

	FilesystemRoot string

	LogLevel slog.Level
}

// Load reads the environment and parses the storage backend from args
// (typically os.Args[1:]): the first argument must be "s3" or
// "filesystem", selecting which backend-specific environment variables
// get validated.
func Load(args []string) (Config, error) {
	if len(args) == 0 {
		return Config{}, fmt.Errorf("missing storage subcommand: expected %q or %q", BackendS3, BackendFilesystem)
	}

	cfg := Config{
		Listen:                envOr("LISTEN", "0.0.0.0:80"),
		DefaultNamespace:      envOr("DEFAULT_NAMESPACE", "docker.io"),
		CheckCacheDigest:      envOr("CHECK_CACHE_DIGEST", "false") == "true",
		BlobChunkReadTimeout:  parseDurationOr("BLOB_CHUNK_READ_TIMEOUT", 30*time.Second),
		BlobChunkWriteTimeout: parseDurationOr("BLOB_CHUNK_WRITE_TIMEOUT", 30*time.Second),
		UpstreamConfigFile:    os.Getenv("UPSTREAM_CONFIG_FILE"),
		UpstreamCredentials:   envOr("UPSTREAM_CREDENTIALS", "{}"),
		LogLevel:              parseLogLevel(envOr("LOG_LEVEL", "info")),
	}

	switch StorageBackend(args[0]) {
	case BackendS3:
		cfg.Backend = BackendS3
		cfg.S3Host = os.Getenv("S3_HOST")
		cfg.S3AccessKey = os.Getenv("S3_ACCESS_KEY")
		cfg.S3SecretKey = os.Getenv("S3_SECRET_KEY")
		cfg.S3Region = envOr("S3_REGION", "us-east-1")
		cfg.S3Bucket = os.Getenv("S3_BUCKET")
		if cfg.S3Bucket == "" {
			return Config{}, fmt.Errorf("S3_BUCKET is required for the s3 storage backend")
		}
	case BackendFilesystem:
		cfg.Backend = BackendFilesystem
		cfg.FilesystemRoot = os.Getenv("FILESYSTEM_ROOT")
		if cfg.FilesystemRoot == "" {
			return Config{}, fmt.Errorf("FILESYSTEM_ROOT is required for the filesystem storage backend")
		}
	default:
		return Config{}, fmt.Errorf("unknown storage subcommand %q: expected %q or %q", args[0], BackendS3, BackendFilesystem)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
