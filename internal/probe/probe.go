// Package probe implements the reachability checks a watchdog runs against a
// device: a TCP connect to host:port or an ICMP echo to host.
package probe

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Kinds accepted by New.
const (
	KindTCP  = "tcp"
	KindICMP = "icmp"
)

// Prober reports whether addr is reachable. A nil error means reachable;
// failures are *fault.Error values.
type Prober interface {
	Probe(ctx context.Context, addr string) error
}

// Options configures the probers built by New.
type Options struct {
	// Timeout bounds a single probe when ctx carries no earlier deadline.
	Timeout time.Duration
	// PingCount is the number of echo requests per ICMP probe.
	PingCount int
	// Privileged selects raw sockets for ICMP instead of unprivileged UDP pings.
	Privileged bool
}

// New returns the prober for kind.
func New(kind string, opts Options, logger *zap.Logger) (Prober, error) {
	switch kind {
	case KindTCP, "":
		return NewTCPProber(opts.Timeout), nil
	case KindICMP:
		return NewICMPProber(opts, logger), nil
	default:
		return nil, fmt.Errorf("unknown probe kind %q", kind)
	}
}
