package diag_test

import (
	"strings"
	"testing"

	"github.com/agentfs/broker/internal/diag"
)

func TestSink_ZeroValueUsable(t *testing.T) {
	t.Parallel()

	var s diag.Sink

	if s.HasWarnings() {
		t.Fatalf("HasWarnings=true on zero value")
	}

	if len(s.Events()) != 0 {
		t.Fatalf("Events()=%v, want empty", s.Events())
	}
}

func TestWarn_SetsHasWarnings(t *testing.T) {
	t.Parallel()

	var s diag.Sink

	s.Warn("token is stale", "re-read the range and retry")

	if !s.HasWarnings() {
		t.Fatalf("HasWarnings=false after Warn")
	}

	events := s.Events()
	if len(events) != 1 {
		t.Fatalf("Events()=%v, want 1 entry", events)
	}

	if events[0].Severity != diag.Warning {
		t.Fatalf("Severity=%v, want Warning", events[0].Severity)
	}
}

func TestInfo_DoesNotSetHasWarnings(t *testing.T) {
	t.Parallel()

	var s diag.Sink

	s.Info("widened read to nearest function boundary")

	if s.HasWarnings() {
		t.Fatalf("HasWarnings=true after Info-only sink")
	}
}

func TestEvents_PreservesOrder(t *testing.T) {
	t.Parallel()

	var s diag.Sink

	s.Info("first")
	s.Warn("second", "act")
	s.Info("third")

	events := s.Events()
	if len(events) != 3 {
		t.Fatalf("Events()=%d entries, want 3", len(events))
	}

	if events[0].Issue != "first" || events[1].Issue != "second" || events[2].Issue != "third" {
		t.Fatalf("Events()=%v, want order preserved", events)
	}
}

func TestEvent_StringIncludesActionWhenPresent(t *testing.T) {
	t.Parallel()

	e := diag.Event{Severity: diag.Warning, Issue: "stale token", Action: "retry"}

	s := e.String()
	if !strings.Contains(s, "stale token") || !strings.Contains(s, "retry") {
		t.Fatalf("String()=%q, want it to mention issue and action", s)
	}
}

func TestEvent_StringOmitsActionWhenEmpty(t *testing.T) {
	t.Parallel()

	e := diag.Event{Severity: diag.Info, Issue: "noted"}

	s := e.String()
	if strings.Contains(s, ": : ") {
		t.Fatalf("String()=%q, want no trailing empty action separator", s)
	}
}
