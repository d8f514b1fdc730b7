// Package power drives the remote outlets that cut and restore a device's
// power. Every failure is returned as a *fault.Error so callers can tell a
// switch that timed out from one that refused or answered with an error.
package power

import (
	"context"
	"fmt"
	"time"
)

// Kinds accepted by New.
const (
	KindKasa   = "kasa"
	KindShelly = "shelly"
)

// Switch turns the outlet at addr (host:port) on or off.
type Switch interface {
	SetPower(ctx context.Context, addr string, on bool) error
}

// Options configures the switches built by New.
type Options struct {
	// Timeout bounds a command when ctx carries no earlier deadline.
	Timeout time.Duration
	// Outlet selects the relay on multi-relay devices (Shelly).
	Outlet int
}

// New returns the switch driver for kind.
func New(kind string, opts Options) (Switch, error) {
	switch kind {
	case KindKasa, "":
		return NewKasa(opts.Timeout), nil
	case KindShelly:
		return NewShelly(opts.Outlet, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown plug type %q", kind)
	}
}

func op(on bool) string {
	if on {
		return "power on"
	}
	return "power off"
}
