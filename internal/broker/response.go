package broker

import "fmt"

// FileHeader renders the exact text-channel header format spec.md §6
// defines for a non-unchanged read response.
func FileHeader(name string, start, end, total uint32, encoding string, crc32c uint32) string {
	return fmt.Sprintf("[FILE: %s | LINES: %d-%d of %d | ENCODING: %s | CRC32C: %08X]",
		name, start, end, total, encoding, crc32c)
}

// AccessLine renders the [ACCESS: ...] line that follows a [FileHeader].
func AccessLine(start, end uint32, token string) string {
	return fmt.Sprintf("[ACCESS: lines %d-%d | TOKEN: %s]", start, end, token)
}

// ExternalChangeBanner is prefixed to a read response when the
// ExternalChangeTracker detected an out-of-band mutation, per spec.md §6.
const ExternalChangeBanner = "[EXTERNAL CHANGE DETECTED - recorded in file history]"

// UnchangedHeader renders the [STATUS: UNCHANGED ...] line spec.md §6
// defines for a read served entirely from a covering token.
func UnchangedHeader(start, end, total uint32, crc32c uint32) string {
	return fmt.Sprintf("[STATUS: UNCHANGED | LINES: %d-%d of %d | CRC32C: %08X]", start, end, total, crc32c)
}

// TokenLine renders the standalone [TOKEN: ...] line that follows an
// [UnchangedHeader].
func TokenLine(token string) string {
	return fmt.Sprintf("[TOKEN: %s]", token)
}

// NumberedLines renders lines with the "NNNN\t" display prefix spec.md
// §4.H.1 requires, numbered starting at startLine.
func NumberedLines(lines []string, startLine uint32) string {
	var out string

	for i, l := range lines {
		out += fmt.Sprintf("%4d\t%s\n", startLine+uint32(i), l) //nolint:gosec // bounded by sandbox size limit
	}

	return out
}
