// Package status keeps a read-only view of every watchdog, built from the
// events they publish. It is what the HTTP API serves.
package status

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/HerbHall/powerwatch/internal/event"
	"github.com/HerbHall/powerwatch/internal/watchdog"
)

// DeviceStatus is the last known state of one device.
type DeviceStatus struct {
	Name          string              `json:"name"`
	HealthAddr    string              `json:"health_addr,omitempty"`
	SwitchAddr    string              `json:"switch_addr,omitempty"`
	State         watchdog.State      `json:"state"`
	Alert         watchdog.AlertPhase `json:"alert"`
	Failures      int                 `json:"failures"`
	Retries       int                 `json:"retries"`
	Running       bool                `json:"running"`
	LastProbe     *time.Time          `json:"last_probe,omitempty"`
	LastProbeOK   bool                `json:"last_probe_ok"`
	LastLatency   time.Duration       `json:"last_latency_ns,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
	LastChange    *time.Time          `json:"last_change,omitempty"`
	PowerCycles   int                 `json:"power_cycles"`
	Notifications int                 `json:"notifications"`
	StopReason    string              `json:"stop_reason,omitempty"`
}

// Tracker aggregates watchdog events. Safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	devices map[string]*DeviceStatus
}

// NewTracker creates a tracker pre-populated with devices so they are
// listed before their watchdogs start.
func NewTracker(devices ...watchdog.Device) *Tracker {
	t := &Tracker{devices: make(map[string]*DeviceStatus, len(devices))}
	for _, d := range devices {
		t.devices[d.Name] = &DeviceStatus{
			Name:       d.Name,
			HealthAddr: d.HealthAddr,
			SwitchAddr: d.SwitchAddr,
			State:      watchdog.Awake,
			Alert:      watchdog.Online,
			Retries:    d.Retries,
		}
	}
	return t
}

// Attach subscribes the tracker to all watchdog topics on bus and returns a
// function that detaches it.
func (t *Tracker) Attach(bus *event.Bus) func() {
	topics := []string{
		watchdog.TopicStarted,
		watchdog.TopicStopped,
		watchdog.TopicStateChanged,
		watchdog.TopicProbe,
		watchdog.TopicPowerCommand,
		watchdog.TopicNotification,
	}
	unsubs := make([]func(), 0, len(topics))
	for _, topic := range topics {
		unsubs = append(unsubs, bus.Subscribe(topic, t.Handle))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Handle applies one event.
func (t *Tracker) Handle(_ context.Context, e event.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch p := e.Payload.(type) {
	case watchdog.Snapshot:
		d := t.entry(p.Device)
		d.State = p.State
		d.Alert = p.Alert
		d.Failures = p.Failures
		d.Retries = p.Retries
		if e.Topic == watchdog.TopicStarted {
			d.Running = true
			d.StopReason = ""
			return
		}
		ts := e.Timestamp
		d.LastChange = &ts

	case watchdog.ProbeEvent:
		d := t.entry(p.Device)
		ts := e.Timestamp
		d.LastProbe = &ts
		d.LastProbeOK = p.OK
		d.LastLatency = p.Latency
		d.LastError = p.Error
		if p.OK {
			d.Failures = 0
		} else {
			d.Failures = p.Attempt
		}

	case watchdog.PowerEvent:
		d := t.entry(p.Device)
		if p.OK && !p.On {
			d.PowerCycles++
		}
		if !p.OK {
			d.LastError = p.Error
		}

	case watchdog.NotificationEvent:
		d := t.entry(p.Device)
		d.Alert = p.Kind
		d.Notifications++

	case watchdog.StoppedEvent:
		d := t.entry(p.Device)
		d.Running = false
		d.StopReason = p.Error
	}
}

func (t *Tracker) entry(name string) *DeviceStatus {
	d, ok := t.devices[name]
	if !ok {
		d = &DeviceStatus{Name: name}
		t.devices[name] = d
	}
	return d
}

// List returns all devices sorted by name.
func (t *Tracker) List() []DeviceStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]DeviceStatus, 0, len(t.devices))
	for _, d := range t.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the status of one device.
func (t *Tracker) Get(name string) (DeviceStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.devices[name]
	if !ok {
		return DeviceStatus{}, false
	}
	return *d, true
}

// Running returns how many watchdogs are currently running.
func (t *Tracker) Running() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, d := range t.devices {
		if d.Running {
			n++
		}
	}
	return n
}
