// Package watchdog implements per-device supervision: it probes a device,
// power-cycles it through a remote switch after repeated failures, waits for
// it to reboot, and sends edge-triggered ONLINE/OFFLINE notifications.
//
// A Watchdog owns all of its state. It is driven by a single goroutine
// (Run) and shares nothing mutable with other watchdogs; observers learn
// about it through events published on the bus.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/powerwatch/internal/event"
	"github.com/HerbHall/powerwatch/internal/fault"
	"go.uber.org/zap"
)

// ErrUnknownState is returned by Step when the state register holds a value
// outside the defined phases.
var ErrUnknownState = errors.New("unknown watchdog state")

// ErrAborted wraps a panic recovered from the supervision loop.
var ErrAborted = errors.New("monitoring aborted")

// Prober checks whether a network endpoint is reachable.
type Prober interface {
	Probe(ctx context.Context, addr string) error
}

// PowerController switches the outlet at a switch address on or off.
// Errors should carry a fault.Kind so timeouts can be told apart.
type PowerController interface {
	SetPower(ctx context.Context, addr string, on bool) error
}

// Notification is an alert about a device crossing an outage edge.
type Notification struct {
	Device  string
	Kind    AlertPhase
	Subject string
	Time    time.Time
}

// Notifier delivers notifications on a best-effort basis.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Publisher receives watchdog events. Implemented by *event.Bus.
type Publisher interface {
	Publish(ctx context.Context, e event.Event) error
}

// Device is the immutable description of one supervised device.
type Device struct {
	Name          string
	HealthAddr    string // host:port for TCP probes, host for ICMP
	SwitchAddr    string
	BootTime      time.Duration
	CheckInterval time.Duration
	CycleTime     time.Duration
	Retries       int
}

// Config holds the policy timings shared by all watchdogs.
type Config struct {
	ProbeTimeout  time.Duration
	PowerTimeout  time.Duration
	Backoff       time.Duration
	NotifyTimeout time.Duration
}

// DefaultConfig returns the standard policy timings.
func DefaultConfig() Config {
	return Config{
		ProbeTimeout:  5 * time.Second,
		PowerTimeout:  5 * time.Second,
		Backoff:       5 * time.Second,
		NotifyTimeout: 10 * time.Second,
	}
}

// Dependencies are the collaborators a Watchdog drives.
// Notifier, Clock, Bus and Logger are optional.
type Dependencies struct {
	Prober   Prober
	Power    PowerController
	Notifier Notifier
	Clock    Clock
	Bus      Publisher
	Logger   *zap.Logger
}

// Watchdog is the state machine for a single device.
type Watchdog struct {
	dev      Device
	cfg      Config
	prober   Prober
	power    PowerController
	notifier Notifier
	clock    Clock
	bus      Publisher
	logger   *zap.Logger

	state    State
	last     State // state executed by the previous step
	failures int
	alert    AlertPhase
}

// New creates a watchdog for dev in the AWAKE state with alert phase ONLINE.
func New(dev Device, cfg Config, deps Dependencies) *Watchdog {
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Watchdog{
		dev:      dev,
		cfg:      cfg,
		prober:   deps.Prober,
		power:    deps.Power,
		notifier: deps.Notifier,
		clock:    deps.Clock,
		bus:      deps.Bus,
		logger:   deps.Logger.With(zap.String("device", dev.Name)),
		state:    Awake,
		last:     Awake,
		alert:    Online,
	}
}

// Device returns the device this watchdog supervises.
func (w *Watchdog) Device() Device { return w.dev }

// State returns the current phase. Not safe to call while Run is active.
func (w *Watchdog) State() State { return w.state }

// Failures returns the consecutive probe failure count.
func (w *Watchdog) Failures() int { return w.failures }

// Alert returns the last alert phase notified.
func (w *Watchdog) Alert() AlertPhase { return w.alert }

// Snapshot returns a copy of the watchdog's state.
func (w *Watchdog) Snapshot() Snapshot {
	return Snapshot{
		Device:   w.dev.Name,
		State:    w.state,
		Previous: w.last,
		Failures: w.failures,
		Retries:  w.dev.Retries,
		Alert:    w.alert,
		At:       w.clock.Now(),
	}
}

// Run drives the state machine until ctx is cancelled or an unexpected
// error occurs. A cancelled context is a clean stop and returns nil. Panics
// are recovered and returned as ErrAborted so one device's fault stays local.
func (w *Watchdog) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrAborted, r)
			w.logger.Error("monitoring aborted", zap.Any("panic", r), zap.Stack("stack"))
		}
		stopped := StoppedEvent{Device: w.dev.Name}
		if err != nil {
			stopped.Error = err.Error()
		}
		w.publish(context.WithoutCancel(ctx), TopicStopped, stopped)
	}()

	w.logger.Info("monitoring started",
		zap.String("health", w.dev.HealthAddr),
		zap.String("switch", w.dev.SwitchAddr),
		zap.Int("retries", w.dev.Retries),
		zap.Duration("check_interval", w.dev.CheckInterval),
	)
	w.publish(ctx, TopicStarted, w.Snapshot())

	for {
		if ctx.Err() != nil {
			w.logger.Info("monitoring stopped")
			return nil
		}
		if stepErr := w.Step(ctx); stepErr != nil {
			if ctx.Err() != nil && errors.Is(stepErr, ctx.Err()) {
				w.logger.Info("monitoring stopped")
				return nil
			}
			w.logger.Error("monitoring aborted", zap.Error(stepErr))
			return stepErr
		}
	}
}

// Step executes one iteration of the current phase, including the phase's
// policy sleep, and updates the state register. It returns ctx.Err() when a
// sleep is interrupted by cancellation.
func (w *Watchdog) Step(ctx context.Context) error {
	prior := w.last
	w.last = w.state

	switch w.state {
	case Awake:
		return w.checkHealth(ctx, prior)
	case PoweringOff:
		return w.switchPower(ctx, false)
	case PowerOff:
		w.logger.Info(fmt.Sprintf("waiting %d seconds for power cycle", seconds(w.dev.CycleTime)))
		if err := w.clock.Sleep(ctx, w.dev.CycleTime); err != nil {
			return err
		}
		w.transition(ctx, PoweringOn)
		return nil
	case PoweringOn:
		return w.switchPower(ctx, true)
	case Rebooting:
		w.logger.Info(fmt.Sprintf("waiting %d seconds for reboot", seconds(w.dev.BootTime)))
		if err := w.clock.Sleep(ctx, w.dev.BootTime); err != nil {
			return err
		}
		w.failures = 0
		w.transition(ctx, Awake)
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownState, int(w.state))
	}
}

// checkHealth is the AWAKE phase.
func (w *Watchdog) checkHealth(ctx context.Context, prior State) error {
	start := w.clock.Now()
	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.ProbeTimeout)
	err := w.prober.Probe(probeCtx, w.dev.HealthAddr)
	cancel()
	latency := w.clock.Now().Sub(start)

	if err == nil {
		w.publish(ctx, TopicProbe, ProbeEvent{
			Device: w.dev.Name, Target: w.dev.HealthAddr, OK: true, Latency: latency,
		})
		if w.alert == Offline {
			w.notify(ctx, Online)
			w.alert = Online
		}
		if prior != Awake || w.failures > 0 {
			w.logger.Info("device is now up")
		}
		w.failures = 0
		return w.clock.Sleep(ctx, w.dev.CheckInterval)
	}

	w.failures++
	kind := fault.KindOf(err)
	w.logger.Warn(fmt.Sprintf("no response, attempt %d/%d", w.failures, w.dev.Retries),
		zap.Stringer("cause", kind),
		zap.Error(err),
	)
	w.publish(ctx, TopicProbe, ProbeEvent{
		Device: w.dev.Name, Target: w.dev.HealthAddr, Latency: latency,
		Cause: kind.String(), Error: err.Error(), Attempt: w.failures,
	})

	if w.failures >= w.dev.Retries {
		if w.alert != Offline {
			w.notify(ctx, Offline)
			w.alert = Offline
		}
		w.transition(ctx, PoweringOff)
		return nil
	}
	return w.clock.Sleep(ctx, w.dev.CheckInterval)
}

// switchPower is the POWERING_OFF and POWERING_ON phases.
func (w *Watchdog) switchPower(ctx context.Context, on bool) error {
	verb := "off"
	next := PowerOff
	if on {
		verb = "on"
		next = Rebooting
	}

	cmdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.PowerTimeout)
	err := w.power.SetPower(cmdCtx, w.dev.SwitchAddr, on)
	cancel()

	if err == nil {
		w.publish(ctx, TopicPowerCommand, PowerEvent{
			Device: w.dev.Name, Switch: w.dev.SwitchAddr, On: on, OK: true,
		})
		w.logger.Info("powered " + verb)
		w.transition(ctx, next)
		return nil
	}

	kind := fault.KindOf(err)
	w.publish(ctx, TopicPowerCommand, PowerEvent{
		Device: w.dev.Name, Switch: w.dev.SwitchAddr, On: on,
		Cause: kind.String(), Error: err.Error(),
	})
	w.logger.Error("failed to power "+verb, zap.Stringer("cause", kind), zap.Error(err))

	// A timeout already spent the backoff waiting on the switch.
	if kind == fault.Timeout {
		return nil
	}
	return w.clock.Sleep(ctx, w.cfg.Backoff)
}

func (w *Watchdog) transition(ctx context.Context, next State) {
	from := w.state
	w.state = next
	if from == next {
		return
	}
	w.logger.Debug("state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", next),
	)
	snap := w.Snapshot()
	snap.Previous = from
	w.publish(ctx, TopicStateChanged, snap)
}

// notify sends an alert and swallows delivery failures.
func (w *Watchdog) notify(ctx context.Context, kind AlertPhase) {
	if w.notifier == nil {
		return
	}
	n := Notification{
		Device:  w.dev.Name,
		Kind:    kind,
		Subject: fmt.Sprintf("%s is %s", w.dev.Name, kind),
		Time:    w.clock.Now(),
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.NotifyTimeout)
	err := w.notifier.Notify(nctx, n)
	cancel()

	ev := NotificationEvent{Device: w.dev.Name, Kind: kind, Delivered: err == nil}
	if err != nil {
		ev.Error = err.Error()
		w.logger.Warn("failed to send notification",
			zap.Stringer("kind", kind),
			zap.Error(err),
		)
	}
	w.publish(ctx, TopicNotification, ev)
}

func (w *Watchdog) publish(ctx context.Context, topic string, payload any) {
	if w.bus == nil {
		return
	}
	_ = w.bus.Publish(ctx, event.New(topic, EventSource, w.clock.Now(), payload))
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
