// Package fault classifies failures of the network collaborators (probes,
// power switches) into a small set of causes the watchdog can act on.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Kind enumerates failure causes.
type Kind int

const (
	// Unknown is any failure that could not be classified.
	Unknown Kind = iota
	// Timeout means the remote end did not answer in time.
	Timeout
	// Refused means the connection was actively refused or reset.
	Refused
	// Unreachable means there was no route to the host.
	Unreachable
	// Protocol means the remote end answered but the exchange failed.
	Protocol
)

func (k Kind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case Refused:
		return "refused"
	case Unreachable:
		return "unreachable"
	case Protocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is a classified collaborator failure.
type Error struct {
	Kind Kind
	Op   string // e.g. "probe", "power off"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err as a classified failure of op. The kind is taken from an
// *Error already in err's chain, or inferred from the network error.
func New(op string, err error) *Error {
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}

// Newf builds a failure of an explicit kind with a formatted cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the cause recorded in err's chain, or classifies err from
// its underlying network error when no *Error is present.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Classify(err)
}

// IsTimeout reports whether err was caused by a timeout.
func IsTimeout(err error) bool {
	return err != nil && KindOf(err) == Timeout
}

// Classify inspects a raw error from the net stack.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return Timeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Timeout
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED), errors.Is(err, syscall.EPIPE):
		return Refused
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTDOWN):
		return Unreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Unreachable
	}
	return Unknown
}
