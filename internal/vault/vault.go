// Package vault stores archived file-version content outside the primary
// database. Objects are content-addressed: the key is derived from the
// content hash, so storing the same object twice is always safe.
package vault

import (
	"context"
	"io"
)

// Vault is an archive object store.
type Vault interface {
	// PutObject stores an object under key. Idempotent for a given key.
	PutObject(ctx context.Context, key string, r io.Reader, size int64) error

	// GetObject retrieves an object by key and writes it to w.
	GetObject(ctx context.Context, key string, w io.Writer) error

	// ValidateSetup verifies the backend is reachable and writable.
	ValidateSetup(ctx context.Context) error
}
