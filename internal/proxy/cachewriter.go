package proxy

import (
	"context"
	"io"

	"github.com/regcache/regcache/internal/cache"
)

// cacheWriter is the fan-out cache subscriber: an io.WriteCloser backed
// by a pipe whose reader end feeds cache.Store.Write in a background
// goroutine. If the store write fails partway through, the pipe is
// drained rather than left to block the writer side, so a failing cache
// write can never stall the client's stream.
type cacheWriter struct {
	pw   *io.PipeWriter
	done chan struct{}
	err  error
}

func newCacheWriter(ctx context.Context, store cache.Store, path string, expectedLength int64) *cacheWriter {
	pr, pw := io.Pipe()
	cw := &cacheWriter{pw: pw, done: make(chan struct{})}

	go func() {
		defer close(cw.done)
		err := store.Write(ctx, path, pr, expectedLength)
		if err != nil {
			io.Copy(io.Discard, pr)
		}
		cw.err = err
	}()

	return cw
}

func (c *cacheWriter) Write(p []byte) (int, error) {
	return c.pw.Write(p)
}

func (c *cacheWriter) Close() error {
	c.pw.Close()
	<-c.done
	return c.err
}

// CloseWithError aborts the pipe with err instead of a clean EOF, so the
// backing store.Write sees err on its next pipe read instead of blocking
// for data that will never arrive. Used when the fan-out never engaged
// this subscriber at all (a first-chunk read timeout or error upstream).
func (c *cacheWriter) CloseWithError(err error) error {
	c.pw.CloseWithError(err)
	<-c.done
	return c.err
}

// result blocks until the underlying store write has finished and
// reports its outcome. Safe to call after Close, or instead of it,
// since both read from the same completion signal.
func (c *cacheWriter) result() error {
	<-c.done
	return c.err
}
