package storage

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned when an object key does not exist
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore stores opaque blobs by key
type ObjectStore interface {
	PutObject(ctx context.Context, key string, content []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	Ping(ctx context.Context) error
}

// Config for storage backends
type Config struct {
	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs []string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	// PostgresMaintenanceURL connects as a BYPASSRLS role for cross-tenant jobs
	PostgresMaintenanceURL string

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	// S3CreateBucket creates the bucket on startup when missing (local MinIO)
	S3CreateBucket bool

	// FilesystemRoot is used for reports when S3Bucket is empty
	FilesystemRoot string
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		S3Region:         "us-east-1",
	}
}

// NewObjectStore returns an S3 client when a bucket is configured, a
// filesystem store when only a root directory is set, and nil otherwise
func NewObjectStore(ctx context.Context, cfg Config) (ObjectStore, error) {
	switch {
	case cfg.S3Bucket != "":
		client, err := NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	case cfg.FilesystemRoot != "":
		fs, err := NewFileSystemStore(cfg.FilesystemRoot)
		if err != nil {
			return nil, err
		}
		return fs, nil
	default:
		return nil, nil
	}
}
