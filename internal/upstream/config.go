// Package upstream manages per-namespace HTTP clients for upstream OCI
// registries: lazy client synthesis for namespaces with no explicit
// configuration, bearer-token authentication, and the "ns=" query
// parameter fallback registries use to disambiguate Docker Hub pulls
// behind a shared pull-through host.
package upstream

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultInvalidationTime is the manifest/blob TTL applied to a namespace
// that doesn't specify its own, and to every synthesized namespace.
const defaultInvalidationTime = 14 * 24 * time.Hour

// rawDuration is a YAML/JSON duration that accepts Go's "14d"-unfriendly
// time.ParseDuration strings plus a bare "d" suffix for days, since the
// config file's examples use "14d" rather than "336h".
type rawDuration string

func (d rawDuration) orDefault() time.Duration {
	if d == "" {
		return defaultInvalidationTime
	}
	s := string(d)
	if days, ok := splitDaySuffix(s); ok {
		return time.Duration(days) * 24 * time.Hour
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return defaultInvalidationTime
	}
	return parsed
}

func splitDaySuffix(s string) (int, bool) {
	if len(s) < 2 || s[len(s)-1] != 'd' {
		return 0, false
	}
	n := 0
	for _, c := range s[:len(s)-1] {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// NamespaceConfig describes one upstream registry.
type NamespaceConfig struct {
	Namespace                string      `yaml:"namespace" json:"namespace"`
	Host                     string      `yaml:"host" json:"host"`
	TLS                      *bool       `yaml:"tls,omitempty" json:"tls,omitempty"`
	AcceptInvalidCerts       bool        `yaml:"accept_invalid_certs,omitempty" json:"accept_invalid_certs,omitempty"`
	UserAgent                string      `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	Username                 string      `yaml:"username,omitempty" json:"username,omitempty"`
	Password                 string      `yaml:"password,omitempty" json:"password,omitempty"`
	ManifestInvalidationTime rawDuration `yaml:"manifest_invalidation_time,omitempty" json:"manifest_invalidation_time,omitempty"`
	BlobInvalidationTime     rawDuration `yaml:"blob_invalidation_time,omitempty" json:"blob_invalidation_time,omitempty"`
}

func (c NamespaceConfig) useTLS() bool {
	if c.TLS == nil {
		return true
	}
	return *c.TLS
}

// ManifestTTL is the configured manifest TTL, defaulting to 14 days.
func (c NamespaceConfig) ManifestTTL() time.Duration {
	return c.ManifestInvalidationTime.orDefault()
}

// BlobTTL is the configured blob TTL, defaulting to 14 days.
func (c NamespaceConfig) BlobTTL() time.Duration {
	return c.BlobInvalidationTime.orDefault()
}

// Config is the static upstream configuration: a default namespace used
// when a request carries none, plus an optional YAML file of explicit
// per-namespace overrides.
type Config struct {
	DefaultNamespace  string
	UpstreamConfigFile string
}

// LoadNamespaceConfigs reads the YAML file at path, if set, returning the
// configured namespaces keyed by name. With no path, it falls back to a
// single default entry for docker.io pointed at registry-1.docker.io;
// every other namespace still gets a synthesized client on first use.
func LoadNamespaceConfigs(path string) (map[string]NamespaceConfig, error) {
	result := map[string]NamespaceConfig{}
	if path == "" {
		result["docker.io"] = NamespaceConfig{Namespace: "docker.io", Host: "registry-1.docker.io"}
		return result, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading upstream config file %s: %w", path, err)
	}

	var list []NamespaceConfig
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing upstream config file %s: %w", path, err)
	}
	for _, nc := range list {
		result[nc.Namespace] = nc
	}
	return result, nil
}

// ApplyCredentialsOverride merges a JSON blob of {"namespace": {"username":
// ..., "password": ...}} entries into base, logging a warning for any
// namespace whose credentials get replaced. The override always wins,
// since it's meant for runtime secret injection on top of a checked-in
// YAML file that carries no passwords.
func ApplyCredentialsOverride(base map[string]NamespaceConfig, raw string) error {
	if raw == "" {
		return nil
	}

	var overrides map[string]struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		return fmt.Errorf("parsing upstream credentials override: %w", err)
	}

	for ns, creds := range overrides {
		nc, ok := base[ns]
		if !ok {
			nc = NamespaceConfig{Namespace: ns}
		}
		if nc.Username != "" || nc.Password != "" {
			logger().Warn("credentials override replacing configured credentials", "namespace", ns)
		}
		nc.Username = creds.Username
		nc.Password = creds.Password
		base[ns] = nc
	}
	return nil
}
