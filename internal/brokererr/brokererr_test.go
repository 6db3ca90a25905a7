package brokererr_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/agentfs/broker/internal/brokererr"
)

func TestError_MessageIncludesPath(t *testing.T) {
	t.Parallel()

	err := brokererr.New(brokererr.NotFound, "src/main.go", "")

	if got := err.Error(); got == "" {
		t.Fatalf("Error() empty")
	} else if !strings.Contains(got, "src/main.go") {
		t.Fatalf("Error()=%q, want it to mention the path", got)
	}
}

func TestOf_MatchesByKind(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("read failed: %w", brokererr.New(brokererr.TooLarge, "big.bin", ""))

	if !brokererr.Of(err, brokererr.TooLarge) {
		t.Fatalf("Of(err, TooLarge)=false, want true through a wrapping fmt.Errorf")
	}

	if brokererr.Of(err, brokererr.NotFound) {
		t.Fatalf("Of(err, NotFound)=true, want false")
	}
}

func TestIs_MatchesSameKindIgnoringDetail(t *testing.T) {
	t.Parallel()

	a := brokererr.New(brokererr.StaleToken, "a.go", "LineCountChanged")
	b := brokererr.New(brokererr.StaleToken, "b.go", "RangeCrcMismatch")

	if !errors.Is(a, b) {
		t.Fatalf("errors.Is(a, b)=false, want true (same Kind should match regardless of Path/Detail)")
	}
}

func TestWrap_UnwrapsToUnderlyingCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("permission denied")
	err := brokererr.Wrap(brokererr.HostError, "x", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(err, cause)=false, want true")
	}
}
