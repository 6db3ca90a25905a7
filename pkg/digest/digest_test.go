package digest_test

import (
	"testing"

	"github.com/agentfs/broker/pkg/digest"
)

func TestBytes_IsDeterministic(t *testing.T) {
	t.Parallel()

	a := digest.Bytes([]byte("hello world"))
	b := digest.Bytes([]byte("hello world"))

	if a != b {
		t.Fatalf("a=%x, b=%x, want equal", a, b)
	}
}

func TestBytes_DiffersOnContentChange(t *testing.T) {
	t.Parallel()

	a := digest.Bytes([]byte("hello world"))
	b := digest.Bytes([]byte("hello world!"))

	if a == b {
		t.Fatalf("checksums equal for different content: %x", a)
	}
}

func TestRangeCRC_JoinsWithSingleNewline(t *testing.T) {
	t.Parallel()

	got := digest.RangeCRC([]string{"foo", "bar"})
	want := digest.String("foo\nbar")

	if got != want {
		t.Fatalf("got=%x, want=%x", got, want)
	}
}

func TestRangeCRC_NoTrailingNewline(t *testing.T) {
	t.Parallel()

	withTrailing := digest.String("foo\nbar\n")
	got := digest.RangeCRC([]string{"foo", "bar"})

	if got == withTrailing {
		t.Fatalf("RangeCRC must not include a trailing newline")
	}
}

func TestRangeCRC_EmptyRange(t *testing.T) {
	t.Parallel()

	got := digest.RangeCRC(nil)
	want := digest.Bytes(nil)

	if got != want {
		t.Fatalf("got=%x, want=%x (CRC32C of empty input)", got, want)
	}
}

func TestRangeCRC_SingleLineNoSeparator(t *testing.T) {
	t.Parallel()

	got := digest.RangeCRC([]string{"solo"})
	want := digest.String("solo")

	if got != want {
		t.Fatalf("got=%x, want=%x", got, want)
	}
}
