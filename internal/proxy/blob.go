package proxy

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/regcache/regcache/internal/apierr"
	"github.com/regcache/regcache/internal/cache"
	"github.com/regcache/regcache/internal/digeststream"
	"github.com/regcache/regcache/internal/fanout"
	"github.com/regcache/regcache/internal/imageref"
	"github.com/regcache/regcache/internal/metrics"
	"github.com/regcache/regcache/internal/upstream"
)

// validateDigest rejects anything but a well-formed "sha256:<64 hex>"
// digest before any cache or upstream work happens.
func validateDigest(s string) (hexTail string, err error) {
	hexTail, parseErr := imageref.ValidateDigestString(s)
	if parseErr != nil {
		return "", apierr.Wrap(apierr.KindInvalidDigest, "invalid digest", parseErr)
	}
	return hexTail, nil
}

// handleBlob serves GET /v2/{image}/blobs/{digest}.
func (h *Handler) handleBlob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	hexDigest, err := validateDigest(vars["digest"])
	if err != nil {
		writeErr(w, err)
		return
	}

	namespace, image := h.resolveNamespaceImage(r.URL.Query().Get("ns"), vars["image"])
	path := cache.BlobPath("sha256", hexDigest)
	client := h.Pool.Get(namespace)

	if h.serveFromCache(w, r, namespace, path, hexDigest, client.BlobTTL()) {
		return
	}

	h.serveFromUpstream(w, r, namespace, image, path, hexDigest)
}

// serveFromCache attempts the hit path, including the optional digest
// re-check. It reports whether the request was fully handled (hit or a
// hit-path failure that shouldn't fall through to upstream); false means
// the caller should proceed to the miss path.
func (h *Handler) serveFromCache(w http.ResponseWriter, r *http.Request, namespace, path, hexDigest string, ttl time.Duration) bool {
	stream, err := h.Store.Read(r.Context(), path, ttl)
	if err != nil {
		if !apierr.Is(err, apierr.KindNotFound) && !apierr.Is(err, apierr.KindTooOld) {
			slog.Warn("reading cached blob failed, treating as miss", "path", path, "error", err)
		}
		return false
	}

	if h.CheckCacheDigest {
		checked := digeststream.New(stream.Body, hexDigest)
		_, verifyErr := io.Copy(io.Discard, checked)
		checked.Close()
		if verifyErr != nil && !apierr.Is(verifyErr, apierr.KindDigestMismatch) {
			slog.Warn("cache digest re-check failed", "path", path, "error", verifyErr)
		}
		if apierr.Is(verifyErr, apierr.KindDigestMismatch) {
			slog.Warn("cached blob digest mismatch, purging", "path", path)
			if err := h.Store.Delete(r.Context(), path); err != nil {
				slog.Warn("deleting mismatched blob failed", "path", path, "error", err)
			}
			metrics.BlobCacheMisses.WithLabelValues(namespace).Inc()
			return false
		}

		fresh, err := h.Store.Read(r.Context(), path, ttl)
		if err != nil {
			return false
		}
		stream = fresh
	}

	w.Header().Set("Content-Length", strconv.FormatInt(stream.Length, 10))
	w.Header().Set("Docker-Content-Digest", "sha256:"+hexDigest)

	runErr := fanout.Run(r.Context(), stream.Body, []fanout.Subscriber{
		{Name: "client", Writer: w, Required: true},
	}, fanout.Options{
		FirstChunkReadTimeout:  h.FirstChunkReadTimeout,
		FirstChunkWriteTimeout: h.FirstChunkWriteTimeout,
		Hooks:                  h.hitHooks(namespace),
	})
	stream.Body.Close()
	if runErr != nil {
		slog.Debug("blob hit streaming error", "path", path, "error", runErr)
		writeErr(w, runErr)
		return true
	}

	metrics.BlobCacheHits.WithLabelValues(namespace).Inc()
	return true
}

func (h *Handler) serveFromUpstream(w http.ResponseWriter, r *http.Request, namespace, image, path, hexDigest string) {
	resp, err := h.Pool.FetchWithFallback(r.Context(), namespace, upstream.Request{
		Method: http.MethodGet,
		Path:   image + "/blobs/sha256:" + hexDigest,
		Image:  image,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		writeOCIError(w, resp.StatusCode, "BLOB_UNKNOWN", "upstream returned "+resp.Status)
		return
	}
	if resp.ContentLength < 0 {
		writeErr(w, apierr.New(apierr.KindMissingContentLength, "upstream did not provide a Content-Length for this blob"))
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	w.Header().Set("Docker-Content-Digest", "sha256:"+hexDigest)

	checked := digeststream.New(resp.Body, hexDigest)
	cw := newCacheWriter(r.Context(), h.Store, path, resp.ContentLength)

	runErr := fanout.Run(r.Context(), checked, []fanout.Subscriber{
		{Name: "client", Writer: w, Required: true},
		{Name: "cache", Writer: cw, Required: false},
	}, fanout.Options{
		FirstChunkReadTimeout:  h.FirstChunkReadTimeout,
		FirstChunkWriteTimeout: h.FirstChunkWriteTimeout,
		Hooks:                  h.missHooks(namespace),
	})
	checked.Close()

	if writeErr := cw.result(); writeErr != nil {
		slog.Error("cache write failed for blob, deleting partial object", "path", path, "error", writeErr)
		if delErr := h.Store.Delete(context.Background(), path); delErr != nil && !apierr.Is(delErr, apierr.KindNotFound) {
			slog.Warn("deleting partial blob failed", "path", path, "error", delErr)
		}
	}

	if runErr != nil {
		slog.Debug("blob miss streaming error", "path", path, "error", runErr)
		writeErr(w, runErr)
		return
	}

	metrics.BlobCacheMisses.WithLabelValues(namespace).Inc()
}

func (h *Handler) handleDeleteBlob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	hexDigest, err := validateDigest(vars["digest"])
	if err != nil {
		writeErr(w, err)
		return
	}

	path := cache.BlobPath("sha256", hexDigest)
	if err := h.Store.Delete(r.Context(), path); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) hitHooks(namespace string) fanout.Hooks {
	return chunkHooks(namespace, true)
}

func (h *Handler) missHooks(namespace string) fanout.Hooks {
	return chunkHooks(namespace, false)
}

func chunkHooks(namespace string, hit bool) fanout.Hooks {
	label := metrics.HitLabel(hit)
	return fanout.Hooks{
		OnRead: func(_ int, elapsed time.Duration) {
			metrics.BlobChunkReadDuration.WithLabelValues(namespace, label).Observe(elapsed.Seconds())
		},
		OnChunk: func(_ string, _ int, elapsed time.Duration) {
			metrics.BlobChunkWriteDuration.WithLabelValues(namespace, label).Observe(elapsed.Seconds())
		},
		OnReadTimeout: func() {
			metrics.BlobFirstChunkReadTimeouts.WithLabelValues(namespace, label).Inc()
		},
		OnWriteTimeout: func(string) {
			metrics.BlobFirstChunkWriteTimeouts.WithLabelValues(namespace, label).Inc()
		},
	}
}
