// Command regcache is a pull-through caching proxy for OCI/Docker v2
// registries: it serves manifests and blobs from a content-addressed
// cache, falling back to the configured upstream registries on a miss.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/regcache/regcache/internal/cache"
	"github.com/regcache/regcache/internal/config"
	"github.com/regcache/regcache/internal/proxy"
	"github.com/regcache/regcache/internal/sweeper"
	"github.com/regcache/regcache/internal/upstream"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to create store", "backend", cfg.Backend, "error", err)
		os.Exit(1)
	}
	if err := store.Init(ctx); err != nil {
		slog.Error("failed to initialise store", "backend", cfg.Backend, "error", err)
		os.Exit(1)
	}

	namespaces, err := upstream.LoadNamespaceConfigs(cfg.UpstreamConfigFile)
	if err != nil {
		slog.Error("failed to load upstream config", "error", err)
		os.Exit(1)
	}
	if err := upstream.ApplyCredentialsOverride(namespaces, cfg.UpstreamCredentials); err != nil {
		slog.Error("failed to apply upstream credentials override", "error", err)
		os.Exit(1)
	}
	pool := upstream.NewPool(namespaces, cfg.DefaultNamespace)

	sw := sweeper.New(store, blobTTL(namespaces), namespaceTTLs(namespaces))
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sw.Run(ctx)
	}()

	handler := &proxy.Handler{
		Store:                  store,
		Pool:                   pool,
		DefaultNamespace:       cfg.DefaultNamespace,
		CheckCacheDigest:       cfg.CheckCacheDigest,
		FirstChunkReadTimeout:  cfg.BlobChunkReadTimeout,
		FirstChunkWriteTimeout: cfg.BlobChunkWriteTimeout,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	h2s := &http2.Server{}
	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: h2c.NewHandler(mux, h2s),
	}

	go func() {
		slog.Info("starting server", "addr", cfg.Listen, "backend", cfg.Backend, "default_namespace", cfg.DefaultNamespace)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	select {
	case <-sweeperDone:
	case <-shutdownCtx.Done():
		slog.Warn("sweeper did not finish its final pass within the shutdown grace period")
	}

	slog.Info("shutdown complete")
}

func newStore(ctx context.Context, cfg config.Config) (cache.Store, error) {
	switch cfg.Backend {
	case config.BackendS3:
		return cache.NewS3(ctx, cache.S3Config{
			Host:           cfg.S3Host,
			Region:         cfg.S3Region,
			Bucket:         cfg.S3Bucket,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			ForcePathStyle: cfg.S3Host != "",
		})
	case config.BackendFilesystem:
		return cache.NewFilesystem(cfg.FilesystemRoot), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Backend)
	}
}

// blobTTL is the max over every configured namespace's blob TTL, floored
// at 10s, per the invalidation config contract. An empty namespace map
// (no YAML file, synthesized-on-demand namespaces only) falls back to
// the default invalidation time.
func blobTTL(namespaces map[string]upstream.NamespaceConfig) time.Duration {
	const floor = 10 * time.Second
	if len(namespaces) == 0 {
		return upstream.NamespaceConfig{}.BlobTTL()
	}
	var max time.Duration
	for _, nc := range namespaces {
		if t := nc.BlobTTL(); t > max {
			max = t
		}
	}
	if max < floor {
		max = floor
	}
	return max
}

func namespaceTTLs(namespaces map[string]upstream.NamespaceConfig) []sweeper.NamespaceTTL {
	var out []sweeper.NamespaceTTL
	for ns, nc := range namespaces {
		if ns == "" {
			continue
		}
		out = append(out, sweeper.NamespaceTTL{Namespace: ns, TTL: nc.ManifestTTL()})
	}
	return out
}
