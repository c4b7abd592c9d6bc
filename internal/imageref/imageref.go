// Package imageref validates and parses OCI image names and references,
// and splits a client-supplied image path into (namespace, image).
package imageref

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var (
	reImage = regexp.MustCompile(`^[a-z0-9]+([._-][a-z0-9]+)*(/[a-z0-9]+([._-][a-z0-9]+)*)*$`)
	reTag   = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9._-]{0,127}$`)
)

// Name is a validated, immutable image name.
type Name struct {
	value string
}

// ParseName validates s against the image-name grammar and returns a Name.
func ParseName(s string) (Name, error) {
	if !reImage.MatchString(s) {
		return Name{}, fmt.Errorf("invalid image name %q", s)
	}
	return Name{value: s}, nil
}

func (n Name) String() string { return n.value }

// Reference is either a tag or a sha256 digest.
type Reference struct {
	tag    string
	digest string // hex tail only, without "sha256:"
	isTag  bool
}

// ParseReference validates s as either a tag or a "sha256:<64 hex>" digest.
func ParseReference(s string) (Reference, error) {
	if hex64, ok := strings.CutPrefix(s, "sha256:"); ok {
		if !isValidSHA256Hex(hex64) {
			return Reference{}, fmt.Errorf("invalid digest reference %q", s)
		}
		return Reference{digest: hex64, isTag: false}, nil
	}
	if !reTag.MatchString(s) {
		return Reference{}, fmt.Errorf("invalid tag reference %q", s)
	}
	return Reference{tag: s, isTag: true}, nil
}

// IsDigest reports whether the reference is a content digest rather than a tag.
func (r Reference) IsDigest() bool { return !r.isTag }

func (r Reference) String() string {
	if r.isTag {
		return r.tag
	}
	return "sha256:" + r.digest
}

func isValidSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !((c >= 'a' && c <= 'f') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// ValidateDigestString checks a full "algo:hex" blob digest of the kind
// used in blob request URLs; only sha256 is accepted.
func ValidateDigestString(s string) (hexTail string, err error) {
	hexTail, ok := strings.CutPrefix(s, "sha256:")
	if !ok || !isValidSHA256Hex(hexTail) {
		return "", fmt.Errorf("invalid digest %q", s)
	}
	return hexTail, nil
}

// Split resolves (namespace, image) from a client-supplied ns (possibly
// empty) and image path:
//
//   - if ns is non-empty, the result is (ns, image) unchanged.
//   - else split image at the first '/'; if that split exists and the
//     right side still contains a '/' (image has >= 3 path segments),
//     the left side is the namespace.
//   - otherwise, the namespace is defaultNS.
//
// Split does not itself special-case "docker.io/"-prefixed image paths;
// that stripping is a request-handler concern applied before Split is
// called (see internal/proxy).
func Split(ns, image, defaultNS string) (namespace, resolvedImage string) {
	if ns != "" {
		return ns, image
	}

	left, right, found := strings.Cut(image, "/")
	if found && strings.Contains(right, "/") {
		return left, right
	}

	return defaultNS, image
}
