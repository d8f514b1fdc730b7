// Package metrics exports watchdog activity as Prometheus metrics.
package metrics

import (
	"context"

	"github.com/HerbHall/powerwatch/internal/event"
	"github.com/HerbHall/powerwatch/internal/watchdog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "powerwatch"

var allStates = []watchdog.State{
	watchdog.Awake,
	watchdog.PoweringOff,
	watchdog.PowerOff,
	watchdog.PoweringOn,
	watchdog.Rebooting,
}

// Collector turns watchdog events into metrics.
type Collector struct {
	state         *prometheus.GaugeVec
	online        *prometheus.GaugeVec
	failures      *prometheus.GaugeVec
	running       prometheus.Gauge
	probes        *prometheus.CounterVec
	probeLatency  *prometheus.HistogramVec
	powerCommands *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// New registers the collector's metrics with reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_state",
			Help:      "Current watchdog phase per device (1 for the active phase).",
		}, []string{"device", "state"}),
		online: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_online",
			Help:      "Last notified alert phase per device (1 online, 0 offline).",
		}, []string{"device"}),
		failures: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_consecutive_failures",
			Help:      "Consecutive failed probes per device.",
		}, []string{"device"}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watchdogs_running",
			Help:      "Number of running watchdogs.",
		}),
		probes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Reachability probes by device and result.",
		}, []string{"device", "result"}),
		probeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Duration of successful reachability probes.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"device"}),
		powerCommands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "power_commands_total",
			Help:      "Switch commands by device, action and result.",
		}, []string{"device", "action", "result"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Alert notifications by device, kind and result.",
		}, []string{"device", "kind", "result"}),
	}
}

// Attach subscribes the collector to bus.
func (c *Collector) Attach(bus *event.Bus) func() {
	return bus.SubscribeAll(c.Handle)
}

// Handle applies one event.
func (c *Collector) Handle(_ context.Context, e event.Event) {
	switch p := e.Payload.(type) {
	case watchdog.Snapshot:
		if e.Topic == watchdog.TopicStarted {
			c.running.Inc()
		}
		c.setState(p.Device, p.State)
		c.failures.WithLabelValues(p.Device).Set(float64(p.Failures))
		c.online.WithLabelValues(p.Device).Set(boolFloat(p.Alert == watchdog.Online))

	case watchdog.ProbeEvent:
		if p.OK {
			c.probes.WithLabelValues(p.Device, "success").Inc()
			c.probeLatency.WithLabelValues(p.Device).Observe(p.Latency.Seconds())
			c.failures.WithLabelValues(p.Device).Set(0)
			return
		}
		c.probes.WithLabelValues(p.Device, p.Cause).Inc()
		c.failures.WithLabelValues(p.Device).Set(float64(p.Attempt))

	case watchdog.PowerEvent:
		action := "off"
		if p.On {
			action = "on"
		}
		c.powerCommands.WithLabelValues(p.Device, action, result(p.OK)).Inc()

	case watchdog.NotificationEvent:
		c.notifications.WithLabelValues(p.Device, p.Kind.String(), result(p.Delivered)).Inc()
		c.online.WithLabelValues(p.Device).Set(boolFloat(p.Kind == watchdog.Online))

	case watchdog.StoppedEvent:
		c.running.Dec()
	}
}

func (c *Collector) setState(device string, current watchdog.State) {
	for _, s := range allStates {
		c.state.WithLabelValues(device, s.String()).Set(boolFloat(s == current))
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
