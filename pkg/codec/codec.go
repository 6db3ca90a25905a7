// Package codec decodes and encodes file content with the broker's text
// encoding rules: BOM-sniffed UTF-8/UTF-16, a configurable 8-bit fallback for
// legacy files with no BOM, and a binary-file sniff.
//
// Grounded on the teacher's pkg/fs atomic-write idiom (pkg/fsx.AtomicWriter,
// used here for WriteText) and the sentinel-error-plus-%w convention seen
// throughout internal/store; the charset logic itself has no teacher analog
// (the ticket tracker only ever reads/writes UTF-8 markdown) so it is built
// directly on golang.org/x/text, the ecosystem's charset-detection toolkit.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/agentfs/broker/pkg/fsx"
)

// Encoding identifies a detected or requested text encoding.
type Encoding int

const (
	// UTF8 is the default encoding when no BOM is present and the content
	// validates as UTF-8.
	UTF8 Encoding = iota
	UTF16LE
	UTF16BE
	// Legacy8Bit is used when no BOM is present and the content does not
	// validate as UTF-8; decoded with the codec's configured 8-bit
	// fallback charmap (Windows-1251 by default, per spec.md §4.B).
	Legacy8Bit
)

func (e Encoding) String() string {
	switch e {
	case UTF8:
		return "utf-8"
	case UTF16LE:
		return "utf-16le"
	case UTF16BE:
		return "utf-16be"
	case Legacy8Bit:
		return "legacy-8bit"
	default:
		return "unknown"
	}
}

// ErrUnmappableChar is returned by EncodeText/WriteText when text contains a
// character the target encoding cannot represent.
var ErrUnmappableChar = errors.New("codec: character cannot be represented in target encoding")

// binarySniffLen is the number of leading bytes inspected for a NUL byte
// when classifying a file as binary, per spec.md §4.B.
const binarySniffLen = 8 * 1024

var (
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	utf16leBOM = []byte{0xFF, 0xFE}
	utf16beBOM = []byte{0xFE, 0xFF}
)

// Codec decodes and encodes text using a configurable 8-bit legacy fallback.
type Codec struct {
	legacy8Bit encoding.Encoding
}

// Option configures a [Codec].
type Option func(*Codec)

// WithLegacy8Bit overrides the default 8-bit fallback charmap
// (charmap.Windows1251) used for BOM-less, non-UTF-8 content.
func WithLegacy8Bit(enc encoding.Encoding) Option {
	return func(c *Codec) { c.legacy8Bit = enc }
}

// New creates a Codec with charmap.Windows1251 as the default 8-bit fallback.
func New(opts ...Option) *Codec {
	c := &Codec{legacy8Bit: charmap.Windows1251}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// IsBinary reports whether content looks binary: a NUL byte anywhere in the
// first 8 KiB, per spec.md §4.B.
func IsBinary(content []byte) bool {
	n := len(content)
	if n > binarySniffLen {
		n = binarySniffLen
	}

	return bytes.IndexByte(content[:n], 0) >= 0
}

// Detect classifies raw file bytes by BOM, falling back to UTF-8 validation
// and finally the configured 8-bit legacy charmap.
func (c *Codec) Detect(raw []byte) Encoding {
	switch {
	case bytes.HasPrefix(raw, utf8BOM):
		return UTF8
	case bytes.HasPrefix(raw, utf16leBOM):
		return UTF16LE
	case bytes.HasPrefix(raw, utf16beBOM):
		return UTF16BE
	case utf8.Valid(raw):
		return UTF8
	default:
		return Legacy8Bit
	}
}

// DecodeText decodes raw file bytes to a Go string, stripping any BOM, and
// reports which [Encoding] was used.
func (c *Codec) DecodeText(raw []byte) (string, Encoding, error) {
	enc := c.Detect(raw)

	switch enc {
	case UTF8:
		return string(bytes.TrimPrefix(raw, utf8BOM)), UTF8, nil
	case UTF16LE:
		text, err := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder().Bytes(raw)
		if err != nil {
			return "", enc, fmt.Errorf("codec: decoding utf-16le: %w", err)
		}

		return string(text), UTF16LE, nil
	case UTF16BE:
		text, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(raw)
		if err != nil {
			return "", enc, fmt.Errorf("codec: decoding utf-16be: %w", err)
		}

		return string(text), UTF16BE, nil
	case Legacy8Bit:
		text, err := c.legacy8Bit.NewDecoder().Bytes(raw)
		if err != nil {
			return "", enc, fmt.Errorf("codec: decoding legacy 8-bit content: %w", err)
		}

		return string(text), Legacy8Bit, nil
	default:
		return "", enc, fmt.Errorf("codec: unknown encoding %v", enc)
	}
}

// EncodeText encodes text back to raw bytes in the given encoding. It fails
// with [ErrUnmappableChar] (naming the first offending rune and its byte
// offset in text) if text contains a character the target encoding cannot
// represent, per spec.md §4.B's write_text contract.
func (c *Codec) EncodeText(text string, enc Encoding) ([]byte, error) {
	if enc == UTF8 {
		return []byte(text), nil
	}

	target := c.encoderFor(enc)
	if target == nil {
		return nil, fmt.Errorf("codec: unknown encoding %v", enc)
	}

	out, err := target.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, c.describeUnmappable(text, enc, err)
	}

	return out, nil
}

func (c *Codec) encoderFor(enc Encoding) encoding.Encoding {
	switch enc {
	case UTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	case UTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	case Legacy8Bit:
		return c.legacy8Bit
	default:
		return nil
	}
}

// describeUnmappable re-encodes text rune by rune to find and name the
// first one the target encoding's encoder rejects, since x/text's Bytes
// does not itself report a rune position.
func (c *Codec) describeUnmappable(text string, enc Encoding, cause error) error {
	target := c.encoderFor(enc)

	for i, r := range text {
		if _, _, err := target.NewEncoder().Bytes([]byte(string(r))); err != nil {
			return fmt.Errorf("%w: %q at byte offset %d: %w", ErrUnmappableChar, string(r), i, cause)
		}
	}

	return fmt.Errorf("%w: %w", ErrUnmappableChar, cause)
}

// ReadText reads path through fsys, decoding it per [Codec.DecodeText].
// Fails if the content sniffs as binary per [IsBinary].
func (c *Codec) ReadText(fsys fsx.FS, path string, sizeLimit int64) (string, Encoding, error) {
	raw, err := fsx.ReadFileLimited(fsys, path, sizeLimit)
	if err != nil {
		return "", UTF8, err
	}

	if IsBinary(raw) {
		return "", UTF8, fmt.Errorf("codec: %q is binary", path)
	}

	return c.DecodeText(raw)
}

// WriteText encodes text per enc and writes it atomically via writer,
// preserving the file's existing encoding across edits.
func (c *Codec) WriteText(writer *fsx.AtomicWriter, path string, text string, enc Encoding) error {
	raw, err := c.EncodeText(text, enc)
	if err != nil {
		return err
	}

	return writer.Write(path, bytes.NewReader(raw), writer.DefaultOptions())
}
