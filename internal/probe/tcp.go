package probe

import (
	"context"
	"net"
	"time"

	"github.com/HerbHall/powerwatch/internal/fault"
)

// Compile-time interface guard.
var _ Prober = (*TCPProber)(nil)

// TCPProber treats a device as up when a TCP connection to host:port
// succeeds. The connection is closed immediately.
type TCPProber struct {
	timeout time.Duration
}

// NewTCPProber creates a TCP prober with the given connect timeout.
func NewTCPProber(timeout time.Duration) *TCPProber {
	return &TCPProber{timeout: timeout}
}

func (p *TCPProber) Probe(ctx context.Context, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fault.Newf(fault.Protocol, "probe", "invalid target %q: %v", addr, err)
	}

	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fault.New("probe", err)
	}
	_ = conn.Close()
	return nil
}
