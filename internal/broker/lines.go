package broker

import "strings"

// FileLines is a file's content split into logical lines, remembering the
// line-ending convention and whether the content ended with a trailing
// terminator, so [FileLines.Join] round-trips byte-for-byte when no line
// within the range changes (spec.md §8: "CRLF / LF: the locate step is
// line-ending-agnostic; the write step preserves the file's detected
// line-ending convention").
type FileLines struct {
	Lines           []string
	CRLF            bool
	TrailingNewline bool
}

// SplitLines splits content into logical lines. An empty string has zero
// lines, per spec.md §4.D's zero-line-file edge case.
func SplitLines(content string) FileLines {
	if content == "" {
		return FileLines{}
	}

	crlf := strings.Contains(content, "\r\n")
	norm := strings.ReplaceAll(content, "\r\n", "\n")

	trailing := strings.HasSuffix(norm, "\n")

	body := norm
	if trailing {
		body = norm[:len(norm)-1]
	}

	return FileLines{
		Lines:           strings.Split(body, "\n"),
		CRLF:            crlf,
		TrailingNewline: trailing,
	}
}

// Join reassembles fl's lines using its recorded line-ending convention
// and trailing-newline state.
func (fl FileLines) Join() string {
	if len(fl.Lines) == 0 {
		return ""
	}

	sep := "\n"
	if fl.CRLF {
		sep = "\r\n"
	}

	body := strings.Join(fl.Lines, sep)
	if fl.TrailingNewline {
		body += sep
	}

	return body
}

// Count returns the total line count, per spec.md §3's total_lines.
func (fl FileLines) Count() uint32 {
	return uint32(len(fl.Lines)) //nolint:gosec // bounded by sandbox size limit
}

// Range returns the 1-based inclusive [start, end] lines, clamping end to
// the file's line count. Returns nil if the file has no lines.
func (fl FileLines) Range(start, end uint32) []string {
	n := fl.Count()
	if n == 0 || start == 0 || start > n {
		return nil
	}

	if end > n {
		end = n
	}

	if end < start {
		return nil
	}

	return fl.Lines[start-1 : end]
}

// normalizeForFuzzyMatch collapses runs of ASCII whitespace to a single
// space and normalizes line endings to "\n", per spec.md §4.H.2's fuzzy
// match rule ("nothing else" beyond these two transforms).
func normalizeForFuzzyMatch(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var b strings.Builder

	lastWasSpace := false

	for _, r := range s {
		isSpace := r == ' ' || r == '\t' || r == '\n' || r == '\v' || r == '\f'
		if isSpace {
			if !lastWasSpace {
				b.WriteByte(' ')
			}

			lastWasSpace = true

			continue
		}

		lastWasSpace = false

		b.WriteRune(r)
	}

	return b.String()
}
