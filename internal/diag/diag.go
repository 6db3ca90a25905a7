// Package diag is the broker's structured event sink: warnings and
// diagnostics attached to an operation's response as inline hints, per
// spec.md §7 ("Warnings... attached to the successful response as inline
// hints without changing the kind").
//
// Grounded on the teacher's internal/clihost.IO: a small buffer of
// actionable warnings ("issue" + "what to do about it") flushed at a
// defined point rather than printed immediately, so a caller sees every
// warning even if it only reads the final response. Generalized from
// stdout/stderr plumbing (the teacher's IO writes to an io.Writer) to a
// structured, in-memory []Event the Operations layer attaches to its
// response types instead of printing — the broker has no terminal output
// of its own, so the only audience for these is whatever ToolHost renders
// the response.
package diag

import "fmt"

// Severity classifies an [Event].
type Severity int

const (
	Info Severity = iota
	Warning
)

func (s Severity) String() string {
	if s == Warning {
		return "warning"
	}

	return "info"
}

// Event is one diagnostic hint: what happened, and what the caller should
// do about it (mirrors the teacher's WarnLLM(issue, action) shape).
type Event struct {
	Severity Severity
	Issue    string
	Action   string
}

func (e Event) String() string {
	if e.Action == "" {
		return fmt.Sprintf("%s: %s", e.Severity, e.Issue)
	}

	return fmt.Sprintf("%s: %s: %s", e.Severity, e.Issue, e.Action)
}

// Sink collects events for a single operation call. The zero value is
// ready to use.
type Sink struct {
	events []Event
}

// Warn records a warning-level event: something the caller should act on
// (e.g. a widened covering-token read, a detected external change),
// without failing the operation.
func (s *Sink) Warn(issue, action string) {
	s.events = append(s.events, Event{Severity: Warning, Issue: issue, Action: action})
}

// Info records an informational event.
func (s *Sink) Info(issue string) {
	s.events = append(s.events, Event{Severity: Info, Issue: issue})
}

// Events returns the collected events in recorded order.
func (s *Sink) Events() []Event {
	return s.events
}

// HasWarnings reports whether any Warning-severity event was recorded.
func (s *Sink) HasWarnings() bool {
	for _, e := range s.events {
		if e.Severity == Warning {
			return true
		}
	}

	return false
}
