// SPDX-License-Identifier: MIT

// Package objstore abstracts the artifact bucket. The s3 backend speaks to
// AWS S3 or any S3-compatible endpoint (MinIO); the memory backend serves
// tests and single-node development.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eventkiosk/cardforge/internal/config"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the artifact bucket surface the ledger and handlers build on.
type Store interface {
	// Put writes an object. Metadata keys are stored lowercase.
	Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error
	// Get reads an object in full, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Head returns object metadata without the body, or ErrNotFound.
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	// List returns all objects under prefix in lexicographic key order.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// CopyFrom server-side copies an object, possibly across buckets.
	CopyFrom(ctx context.Context, srcBucket, srcKey, dstKey string) error
	// PresignGet returns a time-limited GET URL for the object.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Ping verifies the bucket is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and parameterizes a backend.
type Config struct {
	Backend   string
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// New creates a Store for the configured backend.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return NewMemoryStore(cfg.Bucket), nil
	case config.BackendS3:
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown object store backend: %s", cfg.Backend)
	}
}
