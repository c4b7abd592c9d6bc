package cache

import (
	"encoding/json"

	"github.com/regcache/regcache/internal/apierr"
)

// ManifestRecord is the triple persisted under a manifest's storage path.
// Bytes is the verbatim upstream manifest body (manifests are JSON text,
// so round-tripping as a JSON string preserves it byte-for-byte without
// a base64 detour). MediaType is the upstream-advertised content type.
// Digest, when present, is the upstream's Docker-Content-Digest.
type ManifestRecord struct {
	Bytes     string `json:"bytes"`
	MediaType string `json:"media_type"`
	Digest    string `json:"digest,omitempty"`
}

// MarshalManifestRecord serializes a ManifestRecord to its stable
// on-disk JSON form.
func MarshalManifestRecord(r ManifestRecord) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindSerialization, "marshalling manifest record", err)
	}
	return data, nil
}

// UnmarshalManifestRecord parses the JSON form written by
// MarshalManifestRecord.
func UnmarshalManifestRecord(data []byte) (ManifestRecord, error) {
	var r ManifestRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return ManifestRecord{}, apierr.Wrap(apierr.KindSerialization, "parsing manifest record", err)
	}
	return r, nil
}
