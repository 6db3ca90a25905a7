// Package digest computes the CRC32C checksums the broker uses to detect
// external changes and to bind line-access tokens to content.
//
// Grounded on the teacher's hash/crc32 Castagnoli usage in
// internal/store/wal.go (walCRC32C) and pkg/slotcache/format.go: a single
// package-level *crc32.Table built once with crc32.MakeTable(crc32.Castagnoli).
package digest

import (
	"hash/crc32"
	"strings"
)

// table is the Castagnoli CRC32C polynomial table, computed once.
var table = crc32.MakeTable(crc32.Castagnoli)

// Bytes returns the CRC32C checksum of content.
func Bytes(content []byte) uint32 {
	return crc32.Checksum(content, table)
}

// String returns the CRC32C checksum of s.
func String(s string) uint32 {
	return crc32.Checksum([]byte(s), table)
}

// RangeCRC returns the CRC32C of lines joined by a single '\n', with no
// numeric line-number prefixes and no trailing newline.
//
// This exact formatting is the wire contract shared by
// [pkg/tokens.Token] and the edit path in internal/broker: both
// must produce byte-identical input to this function for a post-edit token
// to validate against the content it was just issued for.
func RangeCRC(lines []string) uint32 {
	if len(lines) == 0 {
		return Bytes(nil)
	}

	return String(strings.Join(lines, "\n"))
}
