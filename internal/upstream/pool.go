package upstream

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/regcache/regcache/internal/apierr"
)

// Pool holds one Client per upstream namespace, synthesizing a default
// client on first use for any namespace that wasn't explicitly
// configured.
type Pool struct {
	mu               sync.RWMutex
	clients          map[string]*Client
	configured       map[string]NamespaceConfig
	defaultNamespace string
}

// NewPool builds a Pool from the given namespace configs. An empty-string
// key is inserted pointing at the default namespace's config, mirroring
// how requests with no namespace hint fall through to it.
func NewPool(configured map[string]NamespaceConfig, defaultNamespace string) *Pool {
	p := &Pool{
		clients:          map[string]*Client{},
		configured:       configured,
		defaultNamespace: defaultNamespace,
	}
	if _, ok := p.configured[""]; !ok {
		if dc, ok := p.configured[defaultNamespace]; ok {
			p.configured[""] = dc
		}
	}
	return p
}

// Get returns the Client for namespace, synthesizing and caching one on
// first use if it wasn't explicitly configured. The lock-then-clone
// -then-release discipline keeps the common case of an
// already-synthesized client on a shared read lock, released before the
// caller does any network I/O.
func (p *Pool) Get(namespace string) *Client {
	p.mu.RLock()
	c, ok := p.clients[namespace]
	p.mu.RUnlock()
	if ok {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[namespace]; ok {
		return c
	}

	cfg, explicit := p.configured[namespace]
	if !explicit {
		logger().Warn("synthesizing default client for unconfigured namespace", "namespace", namespace)
		cfg = NamespaceConfig{Namespace: namespace, Host: namespace}
	}

	c = NewClient(cfg)
	p.clients[namespace] = c
	return c
}

// FetchWithFallback performs req against namespace with an
// "ns=<namespace>" query parameter appended, then, if that attempt fails
// with a network error, an unexpected status, or a structured client
// error, retries exactly once against the same host without the ns
// parameter. Some pull-through setups behind a shared host require that
// parameter to disambiguate which upstream a request is really meant
// for; the retry costs nothing when it isn't needed because the first
// attempt already succeeded.
func (p *Pool) FetchWithFallback(ctx context.Context, namespace string, req Request) (*http.Response, error) {
	client := p.Get(namespace)

	primary := req
	sep := "?"
	if strings.Contains(primary.Path, "?") {
		sep = "&"
	}
	primary.Path = primary.Path + sep + "ns=" + namespace

	resp, err := client.Do(ctx, primary)
	if err == nil && resp.StatusCode < 400 {
		return resp, nil
	}
	if err == nil {
		resp.Body.Close()
	}

	resp2, err2 := client.Do(ctx, req)
	if err2 != nil {
		if err != nil {
			return nil, apierr.Wrap(apierr.KindUpstream, "upstream request failed on both attempts", err2)
		}
		return nil, apierr.Wrap(apierr.KindUpstream, "fallback request without ns= failed", err2)
	}
	return resp2, nil
}
