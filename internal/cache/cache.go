// Package cache implements the content-addressed storage backend
// contract (filesystem and S3-compatible object store) that the request
// handlers read cached manifests and blobs from and write them back to.
// A cache hit means the object exists and isn't older than the caller's
// max age, not merely that it exists.
package cache

import (
	"context"
	"io"
	"time"

	"github.com/regcache/regcache/internal/apierr"
)

// ReadStream is the result of a successful Read: a known content length
// paired with a single-consumer, restartable-only-by-calling-Read-again
// byte stream.
type ReadStream struct {
	Length int64
	Body   io.ReadCloser
}

// Store is the storage backend contract. Implementations are filesystem
// (Filesystem) and S3-compatible object store (S3).
type Store interface {
	// Init prepares the backend for use (creating the root directory,
	// probing bucket access, and the like). Called once at startup.
	Init(ctx context.Context) error

	// Read succeeds only if path exists and its age is <= maxAge;
	// otherwise it fails with an *apierr.Error of KindNotFound or
	// KindTooOld.
	Read(ctx context.Context, path string, maxAge time.Duration) (*ReadStream, error)

	// Write creates any parent directories/prefixes needed and writes
	// body to path. expectedLength may be -1 when unknown; backends that
	// require a length (object-store PUT) use it directly. On any
	// mid-stream error the backend removes the partial object before
	// returning.
	Write(ctx context.Context, path string, body io.Reader, expectedLength int64) error

	// Delete removes path. The filesystem backend reports a missing
	// object as KindNotFound; the S3 backend does not check for the
	// object first and reports success for a missing key. Callers that
	// want idempotent delete semantics collapse KindNotFound themselves.
	Delete(ctx context.Context, path string) error

	// DeleteOld enumerates every object whose key begins with prefix and
	// deletes those with mtime before olderThan, logging and continuing
	// past per-entry failures. It returns the number of objects deleted.
	DeleteOld(ctx context.Context, prefix string, olderThan time.Time) (int, error)
}

func errNotFound(path string, cause error) error {
	return apierr.Wrap(apierr.KindNotFound, "object not found: "+path, cause)
}

func errTooOld(path string) error {
	return apierr.New(apierr.KindTooOld, "cached object too old: "+path)
}

func errStorage(message string, cause error) error {
	return apierr.Wrap(apierr.KindStorage, message, cause)
}
