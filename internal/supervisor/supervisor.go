// Package supervisor builds one watchdog per configured device and runs
// them concurrently until the context is cancelled.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/HerbHall/powerwatch/internal/config"
	"github.com/HerbHall/powerwatch/internal/power"
	"github.com/HerbHall/powerwatch/internal/probe"
	"github.com/HerbHall/powerwatch/internal/watchdog"
	"go.uber.org/zap"
)

// Dependencies are the shared collaborators handed to every watchdog.
// All fields are optional.
type Dependencies struct {
	Notifier watchdog.Notifier
	Bus      watchdog.Publisher
	Clock    watchdog.Clock
	Logger   *zap.Logger
}

// Build creates a watchdog for every device in cfg. Probers and switches
// are stateless, so devices of the same kind share one instance; each
// watchdog still owns its own state.
func Build(cfg *config.Config, deps Dependencies) ([]*watchdog.Watchdog, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	probers := make(map[string]probe.Prober)
	opts := probe.Options{
		Timeout:    cfg.Probe.Timeout,
		PingCount:  cfg.Probe.PingCount,
		Privileged: cfg.Probe.Privileged,
	}

	wcfg := cfg.WatchdogConfig()
	out := make([]*watchdog.Watchdog, 0, len(cfg.Devices))
	for i := range cfg.Devices {
		d := &cfg.Devices[i]

		p, ok := probers[d.Probe]
		if !ok {
			var err error
			p, err = probe.New(d.Probe, opts, logger.Named("probe"))
			if err != nil {
				return nil, fmt.Errorf("device %q: %w", d.Name, err)
			}
			probers[d.Probe] = p
		}

		sw, err := power.New(d.PlugType, power.Options{
			Timeout: cfg.Power.Timeout,
			Outlet:  d.PlugOutlet,
		})
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", d.Name, err)
		}

		out = append(out, watchdog.New(d.Watchdog(), wcfg, watchdog.Dependencies{
			Prober:   p,
			Power:    sw,
			Notifier: deps.Notifier,
			Clock:    deps.Clock,
			Bus:      deps.Bus,
			Logger:   logger.Named("watchdog"),
		}))
	}
	return out, nil
}

// Supervisor runs a fixed set of watchdogs.
type Supervisor struct {
	watchdogs []*watchdog.Watchdog
	logger    *zap.Logger
}

// New creates a supervisor over watchdogs.
func New(logger *zap.Logger, watchdogs ...*watchdog.Watchdog) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{watchdogs: watchdogs, logger: logger}
}

// Len returns the number of supervised devices.
func (s *Supervisor) Len() int { return len(s.watchdogs) }

// Devices returns the names of the supervised devices.
func (s *Supervisor) Devices() []string {
	names := make([]string, len(s.watchdogs))
	for i, w := range s.watchdogs {
		names[i] = w.Device().Name
	}
	return names
}

// Run starts every watchdog in its own goroutine and waits for all of them.
// A watchdog that aborts does not stop the others; its error is included in
// the joined result.
func (s *Supervisor) Run(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, w := range s.watchdogs {
		wg.Add(1)
		go func(w *watchdog.Watchdog) {
			defer wg.Done()
			name := w.Device().Name
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("watchdog panicked", zap.String("device", name), zap.Any("panic", r))
					mu.Lock()
					errs = append(errs, fmt.Errorf("device %q: %w: %v", name, watchdog.ErrAborted, r))
					mu.Unlock()
				}
			}()

			if err := w.Run(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("device %q: %w", name, err))
				mu.Unlock()
			}
		}(w)
	}

	wg.Wait()
	return errors.Join(errs...)
}
