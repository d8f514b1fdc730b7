package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/powerwatch/internal/config"
	"github.com/HerbHall/powerwatch/internal/power"
	"github.com/HerbHall/powerwatch/internal/testutil"
	"github.com/HerbHall/powerwatch/internal/watchdog"
	"github.com/HerbHall/powerwatch/internal/watchdog/watchdogtest"
	"go.uber.org/zap"
)

// panickingProber closes fired and panics on its first probe.
type panickingProber struct {
	fired chan struct{}
}

func (p panickingProber) Probe(context.Context, string) error {
	close(p.fired)
	panic("probe driver bug")
}

// countingProber counts probes and cancels the run after limit of them,
// first waiting for after (if set) to be closed.
type countingProber struct {
	n      atomic.Int32
	limit  int32
	after  <-chan struct{}
	cancel context.CancelFunc
}

func (p *countingProber) Probe(context.Context, string) error {
	if p.n.Add(1) == p.limit {
		if p.after != nil {
			<-p.after
		}
		p.cancel()
	}
	return nil
}

func device(name string) watchdog.Device {
	return watchdog.Device{
		Name:          name,
		HealthAddr:    "192.0.2.1:22",
		SwitchAddr:    "192.0.2.2:9999",
		BootTime:      300 * time.Second,
		CheckInterval: 30 * time.Second,
		CycleTime:     10 * time.Second,
		Retries:       3,
	}
}

func TestSupervisor_FaultIsolation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{})
	healthy := &countingProber{limit: 5, after: fired, cancel: cancel}

	bad := watchdog.New(device("bad"), watchdog.DefaultConfig(), watchdog.Dependencies{
		Prober: panickingProber{fired: fired},
		Power:  watchdogtest.NewSwitch(),
		Clock:  watchdogtest.NewClock(time.Now()),
	})
	good := watchdog.New(device("good"), watchdog.DefaultConfig(), watchdog.Dependencies{
		Prober: healthy,
		Power:  watchdogtest.NewSwitch(),
		Clock:  watchdogtest.NewClock(time.Now()),
	})

	s := New(zap.NewNop(), bad, good)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return")
	}

	if !errors.Is(err, watchdog.ErrAborted) {
		t.Errorf("Run() error = %v, want ErrAborted from the faulty device", err)
	}
	if got := healthy.n.Load(); got < 5 {
		t.Errorf("healthy device probed %d times, want at least 5", got)
	}
}

func TestSupervisor_CleanShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &countingProber{limit: 2, cancel: cancel}

	s := New(nil, watchdog.New(device("a"), watchdog.DefaultConfig(), watchdog.Dependencies{
		Prober: a,
		Power:  watchdogtest.NewSwitch(),
		Clock:  watchdogtest.NewClock(time.Now()),
	}))

	if err := s.Run(ctx); err != nil {
		t.Errorf("Run() = %v, want nil on cancellation", err)
	}
}

func TestSupervisor_NoDevices(t *testing.T) {
	s := New(zap.NewNop())
	if s.Len() != 0 {
		t.Fatalf("Len() = %d", s.Len())
	}
	if err := s.Run(context.Background()); err != nil {
		t.Errorf("Run() = %v", err)
	}
}

func TestBuild(t *testing.T) {
	cfg := testutil.NewConfig(
		testutil.NewDevice(testutil.WithName("nas")),
		testutil.NewDevice(testutil.WithName("router"),
			testutil.WithHealth(config.ProbeICMP, "192.0.2.1", 0),
			testutil.WithPlug(power.KindShelly, "192.0.2.21", 80),
			testutil.WithTimings(120, 15, 5, 20),
		),
	)

	ws, err := Build(cfg, Dependencies{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	s := New(nil, ws...)
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	names := s.Devices()
	if names[0] != "nas" || names[1] != "router" {
		t.Errorf("Devices() = %v", names)
	}

	nas := ws[0].Device()
	if nas.HealthAddr != "192.0.2.10:22" || nas.SwitchAddr != "192.0.2.20:9999" {
		t.Errorf("nas addresses = %s / %s", nas.HealthAddr, nas.SwitchAddr)
	}
	router := ws[1].Device()
	if router.HealthAddr != "192.0.2.1" || router.Retries != 5 {
		t.Errorf("router = %+v", router)
	}
	for _, w := range ws {
		if w.State() != watchdog.Awake {
			t.Errorf("%s initial state = %s", w.Device().Name, w.State())
		}
	}
}

func TestBuild_UnknownKind(t *testing.T) {
	cfg := testutil.NewConfig(testutil.NewDevice(testutil.WithHealth("udp", "192.0.2.10", 22)))
	if _, err := Build(cfg, Dependencies{}); err == nil {
		t.Error("expected error for unknown probe kind")
	}
}
