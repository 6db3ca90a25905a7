// Package tokens issues, encodes, decodes, and validates line-access tokens:
// opaque strings that bind a path, a line range, and the content digest of
// that range, so that no edit can proceed without a token obtained from a
// prior read of the exact lines it touches (spec.md §2, §4.D).
//
// Grounded on the teacher's internal/store/ids.go UUIDv7/short-ID idiom (a
// single package-level alphabet/const block, small pure encode/decode
// helpers, errors named for the failure they report) and spec.md §6's exact
// wire layout: base64-url of a fixed packed record plus an HMAC over a
// per-process random key. The teacher has no token concept of its own (a
// ticket has no line-range access control), so the packed-record format
// itself is new code written in that idiom rather than an adaptation.
package tokens

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync/atomic"

	"github.com/agentfs/broker/pkg/digest"
)

// recordLen is the fixed packed-record size per spec.md §6:
// path-hash(8) + start_line(4) + end_line(4) + range_crc(4) + total_lines(4)
// + nonce(4) + hmac(8) = 36 bytes.
const recordLen = 8 + 4 + 4 + 4 + 4 + 4 + 8

// StaleReason names why a token failed [Validate].
type StaleReason string

const (
	ReasonLineCountChanged StaleReason = "LineCountChanged"
	ReasonRangeCrcMismatch StaleReason = "RangeCrcMismatch"
	ReasonOutOfRange       StaleReason = "OutOfRange"
)

// Errors returned by Decode. Use errors.Is to match.
var (
	ErrMalformed    = errors.New("tokens: malformed token")
	ErrPathMismatch = errors.New("tokens: token was issued for a different path")
)

// StaleError reports that a token no longer describes the current file
// state; Validate returns it instead of nil when the token is not valid.
type StaleError struct {
	Reason StaleReason
}

func (e *StaleError) Error() string { return fmt.Sprintf("tokens: stale token: %s", e.Reason) }

// Token binds a path, a 1-based inclusive line range, the range's content
// digest, and the file's total line count at issuance time.
type Token struct {
	PathHash   uint64
	StartLine  uint32
	EndLine    uint32
	RangeCRC   uint32
	TotalLines uint32
	Nonce      uint32
}

// Issuer issues and validates tokens signed with a per-process HMAC key, per
// spec.md §6 ("HMAC over a per-process random key"): tokens from one run
// never verify in another, which is explicitly acceptable (spec.md §4.D:
// "cross-process stability not required").
type Issuer struct {
	key     []byte
	counter atomic.Uint32
}

// NewIssuer creates an Issuer with a fresh random 32-byte HMAC key.
func NewIssuer() (*Issuer, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("tokens: generating signing key: %w", err)
	}

	return &Issuer{key: key}, nil
}

// pathHash derives a stable 8-byte hash of path for the packed record. It is
// not cryptographic; path identity is authenticated by the HMAC over the
// whole record, not by this hash being collision-resistant.
func pathHash(path string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(path))

	return h.Sum64()
}

// Issue binds path and the 1-based inclusive [start, end] range to
// digest.RangeCRC(rangeContent) and totalLines.
//
// Per spec.md §4.D edge cases: zero-line files issue start=end=0 with an
// empty range's CRC.
func (iss *Issuer) Issue(path string, start, end uint32, rangeContent []string, totalLines uint32) Token {
	return Token{
		PathHash:   pathHash(path),
		StartLine:  start,
		EndLine:    end,
		RangeCRC:   digest.RangeCRC(rangeContent),
		TotalLines: totalLines,
		Nonce:      iss.counter.Add(1),
	}
}

// Encode packs t into the fixed binary record, HMAC-signs it, and returns a
// base64-url string guaranteed to be at most 128 bytes, per spec.md §6.
func (iss *Issuer) Encode(t Token) string {
	buf := make([]byte, recordLen)
	binary.BigEndian.PutUint64(buf[0:8], t.PathHash)
	binary.BigEndian.PutUint32(buf[8:12], t.StartLine)
	binary.BigEndian.PutUint32(buf[12:16], t.EndLine)
	binary.BigEndian.PutUint32(buf[16:20], t.RangeCRC)
	binary.BigEndian.PutUint32(buf[20:24], t.TotalLines)
	binary.BigEndian.PutUint32(buf[24:28], t.Nonce)

	mac := iss.sign(buf[:28])
	copy(buf[28:36], mac)

	return base64.RawURLEncoding.EncodeToString(buf)
}

func (iss *Issuer) sign(body []byte) []byte {
	h := hmac.New(sha256.New, iss.key)
	h.Write(body)

	return h.Sum(nil)[:8]
}

// Decode reverses Encode, verifying the HMAC and that the token's embedded
// path hash matches expectedPath.
func (iss *Issuer) Decode(encoded, expectedPath string) (Token, error) {
	buf, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if len(buf) != recordLen {
		return Token{}, fmt.Errorf("%w: want %d bytes, got %d", ErrMalformed, recordLen, len(buf))
	}

	body, mac := buf[:28], buf[28:36]
	if !hmac.Equal(mac, iss.sign(body)) {
		return Token{}, fmt.Errorf("%w: signature mismatch", ErrMalformed)
	}

	t := Token{
		PathHash:   binary.BigEndian.Uint64(body[0:8]),
		StartLine:  binary.BigEndian.Uint32(body[8:12]),
		EndLine:    binary.BigEndian.Uint32(body[12:16]),
		RangeCRC:   binary.BigEndian.Uint32(body[16:20]),
		TotalLines: binary.BigEndian.Uint32(body[20:24]),
		Nonce:      binary.BigEndian.Uint32(body[24:28]),
	}

	if t.PathHash != pathHash(expectedPath) {
		return Token{}, fmt.Errorf("%w: %q", ErrPathMismatch, expectedPath)
	}

	return t, nil
}

// Validate reports whether t still describes currentRangeContent and
// currentTotalLines. Returns nil if valid, else a *[StaleError].
//
// Per spec.md §8 invariant 6: any change to total_lines, to the covered
// lines' content, or to the path (checked by Decode, not here) makes the
// token stale.
func Validate(t Token, currentRangeContent []string, currentTotalLines uint32) error {
	if t.StartLine > currentTotalLines || t.EndLine > currentTotalLines {
		return &StaleError{Reason: ReasonOutOfRange}
	}

	if t.TotalLines != currentTotalLines {
		return &StaleError{Reason: ReasonLineCountChanged}
	}

	if digest.RangeCRC(currentRangeContent) != t.RangeCRC {
		return &StaleError{Reason: ReasonRangeCrcMismatch}
	}

	return nil
}

// Covers reports whether t's range includes [requestedStart, requestedEnd]
// (both 1-based, inclusive), so a wider prior token can authorize a
// narrower re-read without reissuance (spec.md §4.D).
func Covers(t Token, requestedStart, requestedEnd uint32) bool {
	if requestedStart > requestedEnd {
		return false
	}

	return t.StartLine <= requestedStart && requestedEnd <= t.EndLine
}

// LooksLikeToken is a cheap pre-check used by callers deciding whether a
// caller-supplied string is worth handing to Decode at all, e.g. to
// distinguish an absent token from a garbled one for error reporting.
func LooksLikeToken(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return false
	}

	_, err := base64.RawURLEncoding.DecodeString(s)

	return err == nil
}
