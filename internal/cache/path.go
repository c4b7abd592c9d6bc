package cache

import "strings"

// ManifestPath computes the cache key for a manifest. When the image's
// leading path component equals the namespace, the namespace is not
// repeated in the key, which keeps default-namespace keys
// (docker.io/library/busybox) from doubling up.
func ManifestPath(namespace, image, reference string) string {
	if leading, _, found := strings.Cut(image, "/"); found && leading == namespace {
		return "manifests/" + image + "/" + reference
	}
	return "manifests/" + namespace + "/" + image + "/" + reference
}

// BlobPath computes the cache key for a blob from its digest components,
// using a two-level hash-prefix fan-out to keep directory listings small.
func BlobPath(algo, hexDigest string) string {
	if len(hexDigest) < 2 {
		return "blobs/" + algo + "/" + hexDigest
	}
	return "blobs/" + algo + "/" + hexDigest[:2] + "/" + hexDigest[2:]
}
