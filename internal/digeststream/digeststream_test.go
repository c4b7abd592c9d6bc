package digeststream

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/regcache/regcache/internal/apierr"
)

func hexDigestOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestCheckedMatchingDigestReadsCleanly(t *testing.T) {
	payload := "hello, layer"
	c := New(io.NopCloser(strings.NewReader(payload)), hexDigestOf(payload))

	got, err := io.ReadAll(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != payload {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestCheckedMismatchedDigestFails(t *testing.T) {
	c := New(io.NopCloser(strings.NewReader("hello, layer")), hexDigestOf("something else"))

	_, err := io.ReadAll(c)
	if !apierr.Is(err, apierr.KindDigestMismatch) {
		t.Fatalf("expected KindDigestMismatch, got %v", err)
	}
}

func TestCheckedSurvivesArbitraryChunkSizes(t *testing.T) {
	payload := strings.Repeat("ab", 10000)
	c := New(io.NopCloser(strings.NewReader(payload)), hexDigestOf(payload))

	buf := make([]byte, 7)
	var total int
	for {
		n, err := c.Read(buf)
		total += n
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if total != len(payload) {
		t.Fatalf("read %d bytes, want %d", total, len(payload))
	}
}

func TestCheckedPropagatesUnderlyingError(t *testing.T) {
	c := New(io.NopCloser(&erroringReader{}), hexDigestOf("irrelevant"))
	_, err := io.ReadAll(c)
	if err == nil || apierr.Is(err, apierr.KindDigestMismatch) {
		t.Fatalf("expected underlying read error to propagate unchanged, got %v", err)
	}
}

type erroringReader struct{}

func (*erroringReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }
