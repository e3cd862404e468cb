// Package blobstore abstracts the object storage holding file contents and
// produced export archives.
package blobstore

import (
	"context"
	"io"
)

// Store is the minimal object-storage contract the export pipeline consumes.
type Store interface {
	// Exists probes whether an object is present under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Fetch opens the object body for streaming. Returns
	// common.ErrorNotFound when the object is absent. The caller owns the
	// returned reader and must close it.
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)

	// Upload writes body under key with the given string metadata. Large
	// payloads are written in parts; body is consumed exactly once.
	Upload(ctx context.Context, key string, body io.Reader, metadata map[string]string) error

	// Delete removes the object under key. Deleting an absent object is
	// not an error.
	Delete(ctx context.Context, key string) error
}
