// Package brokererr is the broker's uniform error taxonomy (spec.md §7):
// a fixed set of sentinel kinds, each wrapped in a single structured
// error type that always carries the offending path.
//
// Grounded on the teacher's pkg/mddb.Error{ID, Path, Err}: one small
// struct type threading request context through an error chain, matched
// with errors.Is/As, rather than a hierarchy of per-kind error types.
package brokererr

import (
	"errors"
	"fmt"
)

// Kind is one of spec.md §7's named error kinds. Kinds are grouped by the
// taxonomy category (PathError, AccessError, ...) spec.md defines, but
// that grouping exists only in documentation: callers match on Kind, not
// on category.
type Kind string

const (
	// PathError kinds.
	OutsideRoot Kind = "OutsideRoot"
	Protected   Kind = "Protected"
	NotFound    Kind = "NotFound"
	IsDirectory Kind = "IsDirectory"
	TooLarge    Kind = "TooLarge"
	Binary      Kind = "Binary"

	// AccessError kinds.
	MissingToken    Kind = "MissingToken"
	MalformedToken  Kind = "MalformedToken"
	PathMismatch    Kind = "PathMismatch"
	StaleToken      Kind = "StaleToken"
	TokenDoesNotCover Kind = "TokenDoesNotCover"

	// ContentError kinds.
	PatternNotFound  Kind = "PatternNotFound"
	SymbolNotFound   Kind = "SymbolNotFound"
	LineOutOfRange   Kind = "LineOutOfRange"
	ExpectedMismatch Kind = "ExpectedMismatch"
	MustSpecifyRange Kind = "MustSpecifyRange"

	// EncodingError kinds.
	Unmappable       Kind = "Unmappable"
	DecodeReplacement Kind = "DecodeReplacement" // warning, not failure

	// TransactionError kinds.
	NoActiveTransaction Kind = "NoActiveTransaction"
	RollbackPartial     Kind = "RollbackPartial"
	NothingToUndo       Kind = "NothingToUndo"
	NothingToRedo       Kind = "NothingToRedo"

	// ConcurrencyError kinds.
	FileLockedByAnotherOp Kind = "FileLockedByAnotherOp"
	Cancelled             Kind = "Cancelled"

	// FileManage-specific.
	MustReadFirst Kind = "MustReadFirst"

	// HostError: arbitrary pass-through from ProcessRunner or SymbolProvider.
	HostError Kind = "HostError"
)

// Error is the uniform error type every broker-facing API returns.
// User-visible messages must always include the offending path (spec.md
// §7); Detail carries kind-specific structured data (the actual content
// for ExpectedMismatch, the stale reason for StaleToken, ...).
type Error struct {
	Kind   Kind
	Path   string
	Detail string
	Err    error
}

// New constructs an [*Error] with no wrapped cause.
func New(kind Kind, path, detail string) *Error {
	return &Error{Kind: kind, Path: path, Detail: detail}
}

// Wrap constructs an [*Error] around cause.
func Wrap(kind Kind, path string, cause error) *Error {
	return &Error{Kind: kind, Path: path, Err: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := string(e.Kind)

	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s)", e.Path)
	}

	if e.Detail != "" {
		msg += ": " + e.Detail
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap supports [errors.Is]/[errors.As] against the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, brokererr.New(brokererr.StaleToken, "", "")) style
// sentinel checks work without caring about Path/Detail/Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.Kind == t.Kind
}

// Of reports whether err is a *brokererr.Error of the given kind.
func Of(err error, kind Kind) bool {
	var be *Error
	if !errors.As(err, &be) {
		return false
	}

	return be.Kind == kind
}
