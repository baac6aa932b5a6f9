// Package shared holds the types every domain package depends on: errors,
// events and identifiers.
package shared

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error so that outer layers can map it to a
// status code or a retry decision without knowing the concrete error.
type Kind uint8

const (
	KindInternal Kind = iota
	KindInvalid
	KindNotFound
	KindExists
	KindConflict
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindExists:
		return "exists"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	}
	return "internal"
}

// Error is a classified domain error. Op names the failing operation as
// "area.Action", e.g. "ledger.Insert".
type Error struct {
	Op   string
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return e.Op + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError returns an Error without a cause.
func NewError(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// Wrap attaches a classification to err. Wrap(nil) is nil.
func Wrap(op string, kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the Kind of the first classified *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			break
		}
		if e.Kind != KindInternal {
			return e.Kind
		}
		err = e.Err
	}
	return KindInternal
}

var (
	ErrInvalidStudentID    = NewError("scoring.Validate", KindInvalid, "invalid student ID")
	ErrInvalidActivityType = NewError("scoring.Validate", KindInvalid, "activity type is required")
	ErrInvalidLimit        = NewError("scoring.Validate", KindInvalid, "limit out of range")
	ErrCompletionNotFound  = NewError("ledger.Find", KindNotFound, "completed activity not found")
	ErrCompletionConflict  = NewError("ledger.Insert", KindConflict, "completed activity was recorded concurrently")
	ErrStreakNotFound      = NewError("streak.Find", KindNotFound, "learning streak not found")
	ErrSummaryNotFound     = NewError("daily.Find", KindNotFound, "daily activity summary not found")
	ErrForeignStudent      = NewError("scoring.Tx", KindInternal, "unit of work is scoped to another student")
	ErrLeaderboardCold     = NewError("leaderboard.Cache", KindNotFound, "leaderboard cache not rebuilt since it was emptied")
)

func IsValidation(err error) bool    { return KindOf(err) == KindInvalid }
func IsNotFound(err error) bool      { return KindOf(err) == KindNotFound }
func IsAlreadyExists(err error) bool { return KindOf(err) == KindExists }

// IsConflict reports a lost concurrent write. The caller may retry.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsUnavailable reports a dependency that timed out or refused service.
func IsUnavailable(err error) bool { return KindOf(err) == KindUnavailable }
