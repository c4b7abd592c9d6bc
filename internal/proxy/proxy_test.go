package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regcache/regcache/internal/apierr"
	"github.com/regcache/regcache/internal/cache"
	"github.com/regcache/regcache/internal/upstream"
)

// memStore is an in-memory cache.Store double: good enough to exercise
// the TTL-gated read/write/delete contract without touching a
// filesystem or network backend.
type memStore struct {
	mu      sync.Mutex
	objects map[string]memObject
}

type memObject struct {
	data      []byte
	writtenAt time.Time
}

func newMemStore() *memStore {
	return &memStore{objects: map[string]memObject{}}
}

func (m *memStore) Init(context.Context) error { return nil }

func (m *memStore) Read(_ context.Context, path string, maxAge time.Duration) (*cache.ReadStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[path]
	if !ok {
		return nil, apierr.New(apierr.KindNotFound, "no such object: "+path)
	}
	if time.Since(obj.writtenAt) > maxAge {
		return nil, apierr.New(apierr.KindTooOld, "object too old: "+path)
	}
	return &cache.ReadStream{Length: int64(len(obj.data)), Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (m *memStore) Write(_ context.Context, path string, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return apierr.Wrap(apierr.KindStorage, "reading write body", err)
	}
	m.mu.Lock()
	m.objects[path] = memObject{data: data, writtenAt: time.Now()}
	m.mu.Unlock()
	return nil
}

func (m *memStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[path]; !ok {
		return apierr.New(apierr.KindNotFound, "no such object: "+path)
	}
	delete(m.objects, path)
	return nil
}

func (m *memStore) DeleteOld(context.Context, string, time.Time) (int, error) {
	return 0, nil
}

func (m *memStore) has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok
}

// newTestHandler builds a Handler whose single configured namespace
// points at an httptest registry server.
func newTestHandler(t *testing.T, registry http.Handler) (*Handler, *memStore) {
	t.Helper()
	server := httptest.NewServer(registry)
	t.Cleanup(server.Close)

	host := strings.TrimPrefix(server.URL, "http://")
	tlsOff := false

	store := newMemStore()
	pool := upstream.NewPool(map[string]upstream.NamespaceConfig{
		"test": {Namespace: "test", Host: host, TLS: &tlsOff},
	}, "test")

	return &Handler{
		Store:                  store,
		Pool:                   pool,
		DefaultNamespace:       "test",
		FirstChunkReadTimeout:  time.Second,
		FirstChunkWriteTimeout: time.Second,
	}, store
}

func TestManifestCacheMissThenHit(t *testing.T) {
	var upstreamCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/library/busybox/manifests/latest", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upstreamCalls, 1)
		w.Header().Set("Content-Type", "application/vnd.docker.distribution.manifest.v2+json")
		w.Header().Set("Docker-Content-Digest", "sha256:deadbeef")
		w.Write([]byte(`{"schemaVersion":2}`))
	})

	h, _ := newTestHandler(t, mux)
	router := h.Router()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v2/library/busybox/manifests/latest", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equalf(t, http.StatusOK, rec.Code, "call %d body: %s", i, rec.Body.String())
		assert.Equal(t, `{"schemaVersion":2}`, rec.Body.String())
		assert.Equal(t, "registry/2.0", rec.Header().Get("Docker-Distribution-API-Version"))
		assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	}

	assert.EqualValues(t, 1, atomic.LoadInt32(&upstreamCalls), "expected exactly one upstream fetch")
}

func TestBlobMissStreamsAndCaches(t *testing.T) {
	digest := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" // sha256("hello")
	var upstreamCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/library/busybox/blobs/sha256:"+digest, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upstreamCalls, 1)
		w.Header().Set("Content-Length", "5")
		w.Write([]byte("hello"))
	})

	h, store := newTestHandler(t, mux)
	router := h.Router()

	req := httptest.NewRequest(http.MethodGet, "/v2/library/busybox/blobs/sha256:"+digest, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equalf(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	assert.Equal(t, "hello", rec.Body.String())
	assert.True(t, store.has(cache.BlobPath("sha256", digest)), "expected blob to be persisted to cache after a miss")

	// Second request should be served from cache, no further upstream calls.
	req2 := httptest.NewRequest(http.MethodGet, "/v2/library/busybox/blobs/sha256:"+digest, nil)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)

	assert.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, "hello", rec2.Body.String())
	assert.EqualValues(t, 1, atomic.LoadInt32(&upstreamCalls), "expected exactly one upstream fetch across both requests")
}

func TestBlobRejectsInvalidDigest(t *testing.T) {
	h, _ := newTestHandler(t, http.NewServeMux())
	router := h.Router()

	for _, digest := range []string{"sha1:abcd", "sha256:not-hex", "sha256:abc"} {
		req := httptest.NewRequest(http.MethodGet, "/v2/library/busybox/blobs/"+digest, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equalf(t, http.StatusNotFound, rec.Code, "digest %q", digest)
	}
}

func TestBlobMissingContentLengthFails(t *testing.T) {
	digest := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/library/busybox/blobs/sha256:"+digest, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("Content-Length")
		flusher, _ := w.(http.Flusher)
		w.Write([]byte("he"))
		if flusher != nil {
			flusher.Flush()
		}
		w.Write([]byte("llo"))
	})

	h, store := newTestHandler(t, mux)
	router := h.Router()

	req := httptest.NewRequest(http.MethodGet, "/v2/library/busybox/blobs/sha256:"+digest, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code, "a missing Content-Length should fail the request")
	assert.False(t, store.has(cache.BlobPath("sha256", digest)), "no partial object should have been persisted")
}

func TestAdminDeleteManifest(t *testing.T) {
	h, store := newTestHandler(t, http.NewServeMux())
	router := h.Router()

	path := cache.ManifestPath("test", "library/busybox", "latest")
	require.NoError(t, store.Write(context.Background(), path, strings.NewReader(`{}`), 2))

	req := httptest.NewRequest(http.MethodDelete, "/_admin/library/busybox/manifests/latest", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, store.has(path), "expected manifest to be deleted")

	req2 := httptest.NewRequest(http.MethodDelete, "/_admin/library/busybox/manifests/latest", nil)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusNotFound, rec2.Code, "deleting an already-absent manifest")
}

func TestLiveness(t *testing.T) {
	h, _ := newTestHandler(t, http.NewServeMux())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
