package probe

import (
	"context"
	"runtime"
	"time"

	"github.com/HerbHall/powerwatch/internal/fault"
	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ Prober = (*ICMPProber)(nil)

const defaultPingCount = 3

// ICMPProber treats a device as up when at least one echo reply arrives.
type ICMPProber struct {
	timeout    time.Duration
	count      int
	privileged bool
	logger     *zap.Logger
}

// NewICMPProber creates an ICMP prober. Windows always needs privileged mode.
func NewICMPProber(opts Options, logger *zap.Logger) *ICMPProber {
	if logger == nil {
		logger = zap.NewNop()
	}
	count := opts.PingCount
	if count <= 0 {
		count = defaultPingCount
	}
	return &ICMPProber{
		timeout:    opts.Timeout,
		count:      count,
		privileged: opts.Privileged || runtime.GOOS == "windows",
		logger:     logger.Named("icmp"),
	}
}

func (p *ICMPProber) Probe(ctx context.Context, addr string) error {
	pinger, err := probing.NewPinger(addr)
	if err != nil {
		return fault.New("probe", err)
	}

	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); timeout <= 0 || left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return fault.Newf(fault.Timeout, "probe", "no time left to ping %s", addr)
	}

	pinger.Count = p.count
	pinger.Timeout = timeout
	pinger.SetPrivileged(p.privileged)

	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case runErr := <-done:
		if runErr != nil {
			p.logger.Debug("ping failed", zap.String("addr", addr), zap.Error(runErr))
			return fault.New("probe", runErr)
		}
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return fault.New("probe", ctx.Err())
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return fault.Newf(fault.Timeout, "probe", "no echo reply from %s (%d sent)", addr, stats.PacketsSent)
	}
	p.logger.Debug("ping ok",
		zap.String("addr", addr),
		zap.Duration("avg_rtt", stats.AvgRtt),
		zap.Int("received", stats.PacketsRecv),
	)
	return nil
}
