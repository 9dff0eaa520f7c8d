// Package storage defines the blob abstraction that holds attachment bytes
// and export backups, with local file-system and S3 implementations.
package storage

import (
	"context"
	"time"
)

// Object describes one stored blob.
type Object struct {
	Key     string    `json:"key"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Provider is the interface for blob operations. Keys are slash-separated
// and relative to the provider root. Get on a missing key returns an error
// wrapping apperr.ErrNotFound.
type Provider interface {
	// Put atomically stores data under key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error
	// Get returns the bytes stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns every object whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Object, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
