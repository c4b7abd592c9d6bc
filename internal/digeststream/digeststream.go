// Package digeststream wraps a byte stream with an incremental SHA-256
// check, verifying the accumulated hash against an expected digest only
// once the stream is exhausted. The hasher accumulates across Read calls
// and is only consulted at EOF, so a consumer reading the stream in
// arbitrary chunk sizes still gets exactly one digest comparison, not
// one per chunk.
package digeststream

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"

	"github.com/regcache/regcache/internal/apierr"
)

// Checked wraps an io.ReadCloser, hashing every byte read and comparing
// the final digest against wantHex on the read that returns io.EOF. A
// mismatch is reported as an *apierr.Error of KindDigestMismatch instead
// of io.EOF, so callers that check for io.EOF specifically won't mistake
// a corrupted stream for a clean one.
type Checked struct {
	src     io.ReadCloser
	wantHex string
	h       hash.Hash
	done    bool
}

// New returns a Checked wrapping src. wantHex is the lowercase hex tail
// of a sha256:<hex> digest, without the algorithm prefix.
func New(src io.ReadCloser, wantHex string) *Checked {
	return &Checked{src: src, wantHex: wantHex, h: sha256.New()}
}

func (c *Checked) Read(p []byte) (int, error) {
	if c.done {
		return 0, io.EOF
	}

	n, err := c.src.Read(p)
	if n > 0 {
		c.h.Write(p[:n])
	}

	if err == io.EOF {
		c.done = true
		gotHex := hex.EncodeToString(c.h.Sum(nil))
		if gotHex != c.wantHex {
			return n, apierr.New(apierr.KindDigestMismatch,
				"digest mismatch: expected sha256:"+c.wantHex+", got sha256:"+gotHex)
		}
		return n, io.EOF
	}

	return n, err
}

func (c *Checked) Close() error {
	return c.src.Close()
}
