// Package hashing turns screenshot payloads and extracted text into stable
// SHA-256 digests and derives the composite cache fingerprint from them.
//
// Image digests are computed over decoded bytes, so two uploads of the same
// image hash identically regardless of data-URL wrapping or whitespace. Set
// digests sort the per-image digests before combining them, which makes the
// fingerprint independent of upload order.
package hashing

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"unicode"
)

// ErrMalformedBase64 reports an image payload that is not valid base64.
var ErrMalformedBase64 = errors.New("malformed base64 image payload")

// fingerprintVersion is bumped whenever the key derivation changes so
// stale entries simply stop matching.
const fingerprintVersion = "v1"

// HashBytes returns the lowercase hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NormalizeBase64 strips a data-URL prefix ("data:<mime>;base64,") and all
// whitespace from s.
func NormalizeBase64(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// DecodeImage normalizes and decodes a base64 image payload. Standard and
// URL-safe alphabets are accepted, padded or not.
func DecodeImage(b64 string) ([]byte, error) {
	s := NormalizeBase64(b64)
	if s == "" {
		return nil, ErrMalformedBase64
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, ErrMalformedBase64
}

// HashImage hashes the decoded bytes of a base64 image payload.
func HashImage(b64 string) (string, error) {
	b, err := DecodeImage(b64)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// NormalizeText unifies line endings, collapses runs of spaces within a
// line, drops blank lines and trims the result.
func NormalizeText(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, ln := range lines {
		ln = strings.Join(strings.Fields(ln), " ")
		if ln != "" {
			out = append(out, ln)
		}
	}
	return strings.Join(out, "\n")
}

// HashText hashes the normalized text. Empty input maps to the digest of
// the empty string.
func HashText(s string) string {
	return HashBytes([]byte(NormalizeText(s)))
}

// HashPairedText hashes per-image text keyed by the image it came from, so
// the result does not depend on the order images were submitted in. Each
// (digest, normalized text) pair is hashed, the pair hashes are sorted and
// hashed together. A set with no text at all maps to HashText("").
func HashPairedText(digests, texts []string) string {
	pairs := make([]string, 0, len(digests))
	hasText := false
	for i, d := range digests {
		t := ""
		if i < len(texts) {
			t = NormalizeText(texts[i])
		}
		if t != "" {
			hasText = true
		}
		pairs = append(pairs, HashBytes([]byte(d+"\n"+t)))
	}
	if !hasText {
		return HashText("")
	}
	sort.Strings(pairs)
	return HashBytes([]byte(strings.Join(pairs, "")))
}

// HashImageSet hashes each payload, sorts the digests and hashes their
// concatenation.
func HashImageSet(images []string) (string, error) {
	digests := make([]string, 0, len(images))
	for _, img := range images {
		d, err := HashImage(img)
		if err != nil {
			return "", err
		}
		digests = append(digests, d)
	}
	return HashDigestSet(digests), nil
}

// HashDigestSet combines already computed per-image digests the same way
// HashImageSet does.
func HashDigestSet(digests []string) string {
	sorted := append([]string(nil), digests...)
	sort.Strings(sorted)
	return HashBytes([]byte(strings.Join(sorted, "")))
}

// Fingerprint is the tuple a cache key is derived from.
type Fingerprint struct {
	CategoryID string
	AdviceID   string
	TextHash   string
	ImagesHash string
	Model      string
}

// CacheKey derives the composite cache key.
func CacheKey(f Fingerprint) string {
	return HashBytes([]byte(strings.Join([]string{
		fingerprintVersion, f.CategoryID, f.AdviceID, f.TextHash, f.ImagesHash, f.Model,
	}, "|")))
}
