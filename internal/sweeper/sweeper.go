// Package sweeper runs the periodic cache-eviction tick: delete blobs
// older than the cross-namespace blob TTL, then delete manifests older
// than each configured namespace's manifest TTL.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/regcache/regcache/internal/cache"
)

const tickInterval = 300 * time.Second

// NamespaceTTL pairs a namespace with its manifest TTL.
type NamespaceTTL struct {
	Namespace string
	TTL       time.Duration
}

// Sweeper periodically evicts cache entries past their TTL.
type Sweeper struct {
	store      cache.Store
	blobTTL    time.Duration
	namespaces []NamespaceTTL
	log        *slog.Logger
}

// New builds a Sweeper. blobTTL should already be the max over all
// configured namespaces' blob TTLs, floored at 10s, per the invalidation
// config contract.
func New(store cache.Store, blobTTL time.Duration, namespaces []NamespaceTTL) *Sweeper {
	return &Sweeper{
		store:      store,
		blobTTL:    blobTTL,
		namespaces: namespaces,
		log:        slog.Default().With("component", "sweeper"),
	}
}

// Run ticks every 300 seconds until ctx is cancelled, sweeping once
// immediately on cancellation so a graceful shutdown gets a final pass
// in before the server's grace period expires. Callers join this
// goroutine as part of shutdown.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.tick(context.Background())
			return
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	now := time.Now()
	total := 0

	n, err := s.store.DeleteOld(ctx, "blobs/", now.Add(-s.blobTTL))
	if err != nil {
		s.log.Warn("blob sweep failed", "error", err)
	}
	total += n

	for _, ns := range s.namespaces {
		n, err := s.store.DeleteOld(ctx, "manifests/"+ns.Namespace, now.Add(-ns.TTL))
		if err != nil {
			s.log.Warn("manifest sweep failed", "namespace", ns.Namespace, "error", err)
			continue
		}
		total += n
	}

	if total > 0 {
		s.log.Warn("sweep deleted entries", "count", total)
	} else {
		s.log.Info("sweep completed", "count", total)
	}
}
