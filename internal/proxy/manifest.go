package proxy

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/regcache/regcache/internal/apierr"
	"github.com/regcache/regcache/internal/cache"
	"github.com/regcache/regcache/internal/metrics"
	"github.com/regcache/regcache/internal/upstream"
)

// handleManifest serves GET/HEAD /v2/{image}/manifests/{reference}.
// HEAD shares the same logic as GET; net/http discards the body for HEAD
// requests at the transport layer, so no special-casing is needed here.
func (h *Handler) handleManifest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	namespace, image := h.resolveNamespaceImage(r.URL.Query().Get("ns"), vars["image"])
	reference := vars["reference"]

	path := cache.ManifestPath(namespace, image, reference)
	client := h.Pool.Get(namespace)

	if stream, err := h.Store.Read(r.Context(), path, client.ManifestTTL()); err == nil {
		defer stream.Body.Close()
		data, err := io.ReadAll(stream.Body)
		if err != nil {
			slog.Warn("reading cached manifest failed", "path", path, "error", err)
		} else {
			record, err := cache.UnmarshalManifestRecord(data)
			if err != nil {
				slog.Warn("parsing cached manifest failed", "path", path, "error", err)
			} else {
				writeManifestRecord(w, record)
				metrics.ManifestCacheHits.WithLabelValues(namespace).Inc()
				return
			}
		}
	} else if !apierr.Is(err, apierr.KindNotFound) && !apierr.Is(err, apierr.KindTooOld) {
		slog.Warn("reading cached manifest failed, treating as miss", "path", path, "error", err)
	}

	resp, err := h.Pool.FetchWithFallback(r.Context(), namespace, upstream.Request{
		Method: http.MethodGet,
		Path:   image + "/manifests/" + reference,
		Image:  image,
		Accept: r.Header.Get("Accept"),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		writeOCIError(w, resp.StatusCode, "MANIFEST_UNKNOWN", "upstream returned "+resp.Status)
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		writeOCIError(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "reading upstream manifest body: "+err.Error())
		return
	}

	record := cache.ManifestRecord{
		Bytes:     string(body),
		MediaType: resp.Header.Get("Content-Type"),
		Digest:    resp.Header.Get("Docker-Content-Digest"),
	}

	if data, err := cache.MarshalManifestRecord(record); err != nil {
		slog.Warn("serializing manifest record failed", "path", path, "error", err)
	} else if err := h.Store.Write(r.Context(), path, bytes.NewReader(data), int64(len(data))); err != nil {
		slog.Error("writing manifest to cache failed", "path", path, "error", err)
	}

	writeManifestRecord(w, record)
	metrics.ManifestCacheMisses.WithLabelValues(namespace).Inc()
}

func writeManifestRecord(w http.ResponseWriter, record cache.ManifestRecord) {
	if record.MediaType != "" {
		w.Header().Set("Content-Type", record.MediaType)
	}
	if record.Digest != "" {
		w.Header().Set("Docker-Content-Digest", record.Digest)
	}
	w.Write([]byte(record.Bytes))
}

func (h *Handler) handleDeleteManifest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	namespace, image := h.resolveNamespaceImage(r.URL.Query().Get("ns"), vars["image"])
	path := cache.ManifestPath(namespace, image, vars["reference"])

	if err := h.Store.Delete(r.Context(), path); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
