package upstream

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Client talks to a single upstream registry namespace.
type Client struct {
	httpClient  *http.Client
	scheme      string
	host        string
	userAgent   string
	username    string
	password    string
	tokens      *tokenCache
	manifestTTL time.Duration
	blobTTL     time.Duration
}

// ManifestTTL is how long a cached manifest stays fresh for this namespace.
func (c *Client) ManifestTTL() time.Duration { return c.manifestTTL }

// BlobTTL is how long a cached blob stays fresh for this namespace.
func (c *Client) BlobTTL() time.Duration { return c.blobTTL }

// NewClient builds a Client for the given namespace configuration.
func NewClient(cfg NamespaceConfig) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    true,
	}
	if cfg.AcceptInvalidCerts {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	scheme := "https"
	if !cfg.useTLS() {
		scheme = "http"
	}

	return &Client{
		httpClient:  &http.Client{Transport: transport},
		scheme:      scheme,
		host:        resolveRegistry(cfg.Host),
		userAgent:   cfg.UserAgent,
		username:    cfg.Username,
		password:    cfg.Password,
		tokens:      newTokenCache(),
		manifestTTL: cfg.ManifestTTL(),
		blobTTL:     cfg.BlobTTL(),
	}
}

// resolveRegistry maps well-known registry aliases to their API
// endpoints, e.g. Docker Hub's docker.io alias.
func resolveRegistry(host string) string {
	if strings.EqualFold(host, "docker.io") || strings.EqualFold(host, "registry.docker.io") || host == "" {
		return "registry-1.docker.io"
	}
	return host
}

// Request describes what to forward upstream: the path under /v2/ and
// the headers worth relaying from the original client request.
type Request struct {
	Method  string
	Path    string // e.g. "library/busybox/manifests/latest"
	Image   string // used to build the pull scope for auth
	Accept  string
	Range   string
	IfRange string
}

// Do issues req against this client's registry, performing the bearer
// token dance on a 401 and retrying once. It does not retry on any other
// status or on network errors; that's the pool's ns= fallback's job.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	resp, err := c.doOnce(ctx, req, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	challengeHeader := resp.Header.Get("Www-Authenticate")
	resp.Body.Close()

	challenge, ok := parseWwwAuthenticate(challengeHeader)
	if !ok {
		return nil, fmt.Errorf("upstream returned 401 without a usable Www-Authenticate challenge")
	}
	if challenge.scope == "" && req.Image != "" {
		challenge.scope = scopeFor(req.Image)
	}

	cacheKey := challenge.scope
	token, cached := c.tokens.get(cacheKey)
	if !cached {
		var ttl time.Duration
		token, ttl, err = fetchToken(ctx, c.httpClient, challenge, c.username, c.password)
		if err != nil {
			return nil, fmt.Errorf("authenticating with upstream: %w", err)
		}
		c.tokens.put(cacheKey, token, ttl)
	}

	return c.doOnce(ctx, req, token)
}

func (c *Client) doOnce(ctx context.Context, req Request, bearer string) (*http.Response, error) {
	url := fmt.Sprintf("%s://%s/v2/%s", c.scheme, c.host, req.Path)

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}

	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	if req.Accept != "" {
		httpReq.Header.Set("Accept", req.Accept)
	}
	if req.Range != "" {
		httpReq.Header.Set("Range", req.Range)
	}
	if req.IfRange != "" {
		httpReq.Header.Set("If-Range", req.IfRange)
	}

	return c.httpClient.Do(httpReq)
}

// DoV2Check probes /v2/ on this registry, relaying whatever auth
// challenge it returns back to the caller.
func (c *Client) DoV2Check(ctx context.Context, method string) (*http.Response, error) {
	url := fmt.Sprintf("%s://%s/v2/", c.scheme, c.host)
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building /v2/ check request: %w", err)
	}
	return c.httpClient.Do(req)
}
