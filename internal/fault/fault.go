// Package fault classifies failures at the outbound boundary.
//
// Every error that reaches a drain loop or the job driver is exactly one of:
//   - Fatal: the operation can never succeed as constructed. Drop the
//     associated queue record and surface the error.
//   - Recoverable: transient. Keep the record and retry on a later pass.
//   - Cancelled: the caller lost interest. Never user-visible.
//
// Unclassified errors are Fatal so that nothing is retried silently forever.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the retry classification of an error.
type Kind int

const (
	Fatal Kind = iota + 1
	Recoverable
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Fatal:
		return "fatal"
	case Recoverable:
		return "recoverable"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrCancelled resolves a Response whose Responder was closed unsent.
var ErrCancelled = errors.New("cancelled")

// Error attaches a Kind to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewFatal marks err as fatal. Returns nil for a nil err.
func NewFatal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Fatal, Op: op, Err: err}
}

// NewRecoverable marks err as recoverable. Returns nil for a nil err.
func NewRecoverable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Recoverable, Op: op, Err: err}
}

// OrFatal returns err unchanged if it already carries a Kind and marks it
// fatal otherwise. Returns nil for a nil err.
func OrFatal(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return NewFatal(op, err)
}

// KindOf returns the outermost classification in err's chain.
// Context cancellation and ErrCancelled map to Cancelled; anything
// unclassified is Fatal. KindOf(nil) is 0.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return Cancelled
	}
	return Fatal
}

// IsFatal reports whether err classifies as Fatal.
func IsFatal(err error) bool { return KindOf(err) == Fatal }

// IsRecoverable reports whether err classifies as Recoverable.
func IsRecoverable(err error) bool { return KindOf(err) == Recoverable }

// IsCancelled reports whether err classifies as Cancelled.
func IsCancelled(err error) bool { return KindOf(err) == Cancelled }
