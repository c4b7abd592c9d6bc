// Package proxy implements the request handling layer: the two read
// endpoints (manifests, blobs), the two admin delete endpoints, and the
// /v2/ and / health endpoints, wired to the cache store, the upstream
// pool, and the fan-out engine.
package proxy

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/regcache/regcache/internal/apierr"
	"github.com/regcache/regcache/internal/cache"
	"github.com/regcache/regcache/internal/imageref"
	"github.com/regcache/regcache/internal/upstream"
)

// Handler wires the storage backend, upstream pool, and runtime settings
// the request state machine needs.
type Handler struct {
	Store            cache.Store
	Pool             *upstream.Pool
	DefaultNamespace string
	CheckCacheDigest bool

	FirstChunkReadTimeout  time.Duration
	FirstChunkWriteTimeout time.Duration
}

// Router builds the full route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(apiVersionMiddleware)
	r.Use(loggingMiddleware)

	r.HandleFunc("/v2/{image:.+}/manifests/{reference}", h.handleManifest).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/v2/{image:.+}/blobs/{digest}", h.handleBlob).Methods(http.MethodGet)
	r.HandleFunc("/_admin/{image:.+}/manifests/{reference}", h.handleDeleteManifest).Methods(http.MethodDelete)
	r.HandleFunc("/_admin/{image:.+}/blobs/{digest}", h.handleDeleteBlob).Methods(http.MethodDelete)
	r.HandleFunc("/v2/", h.handleV2Check).Methods(http.MethodGet)
	r.HandleFunc("/", h.handleLiveness).Methods(http.MethodGet)

	return r
}

// resolveNamespaceImage applies the docker.io-prefix-stripping policy
// before handing off to imageref.Split: a bare "docker.io/"-prefixed
// image with no explicit ns resolves to the docker.io namespace
// regardless of the configured default namespace.
func (h *Handler) resolveNamespaceImage(qsNamespace, image string) (namespace, resolvedImage string) {
	if qsNamespace == "" {
		if rest, ok := strings.CutPrefix(image, "docker.io/"); ok {
			return "docker.io", rest
		}
	}
	return imageref.Split(qsNamespace, image, h.DefaultNamespace)
}

func (h *Handler) handleV2Check(w http.ResponseWriter, r *http.Request) {
	client := h.Pool.Get(h.DefaultNamespace)
	resp, err := client.DoV2Check(r.Context(), http.MethodGet)
	if err != nil {
		writeOCIError(w, http.StatusBadGateway, "UNAVAILABLE", "upstream unreachable")
		return
	}
	defer resp.Body.Close()
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeOCIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]string{
			{"code": code, "message": message},
		},
	})
}

func writeErr(w http.ResponseWriter, err error) {
	status := apierr.StatusCode(err)
	code := "UNKNOWN"
	switch {
	case apierr.Is(err, apierr.KindNotFound), apierr.Is(err, apierr.KindInvalidDigest):
		code = "NAME_UNKNOWN"
	case apierr.Is(err, apierr.KindMissingContentLength):
		code = "SIZE_INVALID"
	case apierr.Is(err, apierr.KindDigestMismatch):
		code = "DIGEST_INVALID"
	case apierr.Is(err, apierr.KindFirstChunkReadTimeout), apierr.Is(err, apierr.KindFirstChunkWriteTimeout):
		code = "UPSTREAM_TIMEOUT"
	case apierr.Is(err, apierr.KindUpstream):
		code = "UPSTREAM_UNAVAILABLE"
	}
	writeOCIError(w, status, code, err.Error())
}

func apiVersionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v2") {
			w.Header().Set("Docker-Distribution-API-Version", "registry/2.0")
		}
		next.ServeHTTP(w, r)
	})
}
