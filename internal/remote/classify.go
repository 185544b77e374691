package remote

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/roach88/courier/internal/fault"
)

var (
	// ErrWrongEpoch means the service rejected a commit because the group
	// moved on. The commit was either accepted on an earlier attempt or
	// lost a race against another member's commit.
	ErrWrongEpoch = errors.New("wrong group epoch")

	// ErrNetwork means the request may or may not have reached the service.
	ErrNetwork = errors.New("network error")
)

// Class is the retry class of a remote failure.
type Class int

const (
	ClassOther Class = iota
	ClassNetwork
	ClassStaleEpoch
)

func (c Class) String() string {
	switch c {
	case ClassNetwork:
		return "network"
	case ClassStaleEpoch:
		return "stale_epoch"
	default:
		return "other"
	}
}

type grpcStatus interface {
	GRPCStatus() *status.Status
}

// Classify sorts a remote failure into its retry class. Unrecognized
// errors are ClassOther.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassOther
	case errors.Is(err, ErrWrongEpoch):
		return ClassStaleEpoch
	case errors.Is(err, ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return ClassNetwork
	}

	var se grpcStatus
	if errors.As(err, &se) {
		switch se.GRPCStatus().Code() {
		case codes.FailedPrecondition:
			return ClassStaleEpoch
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return ClassNetwork
		default:
			return ClassOther
		}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return ClassNetwork
	}
	return ClassOther
}

// ToFault wraps a remote failure for op: network failures are recoverable,
// cancellation stays cancellation, everything else is fatal.
func ToFault(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return &fault.Error{Kind: fault.Cancelled, Op: op, Err: err}
	}
	if Classify(err) == ClassNetwork {
		return fault.NewRecoverable(op, err)
	}
	return fault.NewFatal(op, err)
}
