package sweeper

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/regcache/regcache/internal/cache"
)

type call struct {
	prefix    string
	olderThan time.Time
}

// recordingStore is a minimal cache.Store fake that records DeleteOld
// calls and optionally fails for one prefix.
type recordingStore struct {
	calls    []call
	toReturn int
	failOn   string
}

func (r *recordingStore) Init(context.Context) error { return nil }

func (r *recordingStore) Read(context.Context, string, time.Duration) (*cache.ReadStream, error) {
	return nil, errors.New("not implemented")
}
func (r *recordingStore) Write(context.Context, string, io.Reader, int64) error {
	return errors.New("not implemented")
}
func (r *recordingStore) Delete(context.Context, string) error {
	return errors.New("not implemented")
}

func (r *recordingStore) DeleteOld(_ context.Context, prefix string, olderThan time.Time) (int, error) {
	r.calls = append(r.calls, call{prefix: prefix, olderThan: olderThan})
	if prefix == r.failOn {
		return 0, errors.New("boom")
	}
	return r.toReturn, nil
}

func TestSweeperTickDeletesBlobsThenNamespaceManifests(t *testing.T) {
	rec := &recordingStore{toReturn: 2}
	sw := New(rec, time.Hour, []NamespaceTTL{
		{Namespace: "docker.io", TTL: 14 * 24 * time.Hour},
		{Namespace: "gcr.io", TTL: time.Hour},
	})

	sw.tick(context.Background())

	if len(rec.calls) != 3 {
		t.Fatalf("expected 3 DeleteOld calls (1 blob + 2 manifest), got %d", len(rec.calls))
	}
	if rec.calls[0].prefix != "blobs/" {
		t.Fatalf("expected first call to sweep blobs/, got %s", rec.calls[0].prefix)
	}
	if rec.calls[1].prefix != "manifests/docker.io" || rec.calls[2].prefix != "manifests/gcr.io" {
		t.Fatalf("unexpected manifest sweep order: %+v", rec.calls)
	}
}

func TestSweeperTickContinuesPastNamespaceErrors(t *testing.T) {
	rec := &recordingStore{failOn: "manifests/docker.io"}
	sw := New(rec, time.Hour, []NamespaceTTL{
		{Namespace: "docker.io", TTL: time.Hour},
		{Namespace: "gcr.io", TTL: time.Hour},
	})

	sw.tick(context.Background())

	if len(rec.calls) != 3 {
		t.Fatalf("expected all 3 prefixes attempted despite one failing, got %d calls", len(rec.calls))
	}
}

func TestSweeperRunStopsOnContextCancel(t *testing.T) {
	rec := &recordingStore{}
	sw := New(rec, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	if len(rec.calls) == 0 {
		t.Fatal("expected a final sweep pass on shutdown")
	}
}
