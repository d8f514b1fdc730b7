package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/HerbHall/powerwatch/internal/event"
	"github.com/HerbHall/powerwatch/internal/watchdog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func publish(t *testing.T, bus *event.Bus, topic string, payload any) {
	t.Helper()
	if err := bus.Publish(context.Background(), event.New(topic, watchdog.EventSource, time.Now(), payload)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	bus := event.NewBus(nil)
	defer c.Attach(bus)()

	publish(t, bus, watchdog.TopicStarted, watchdog.Snapshot{Device: "nas", State: watchdog.Awake, Retries: 3})
	publish(t, bus, watchdog.TopicProbe, watchdog.ProbeEvent{Device: "nas", OK: true, Latency: 20 * time.Millisecond})
	publish(t, bus, watchdog.TopicProbe, watchdog.ProbeEvent{Device: "nas", Cause: "timeout", Attempt: 1})
	publish(t, bus, watchdog.TopicProbe, watchdog.ProbeEvent{Device: "nas", Cause: "timeout", Attempt: 2})
	publish(t, bus, watchdog.TopicNotification, watchdog.NotificationEvent{Device: "nas", Kind: watchdog.Offline, Delivered: true})
	publish(t, bus, watchdog.TopicStateChanged, watchdog.Snapshot{Device: "nas", State: watchdog.PoweringOff, Failures: 2, Alert: watchdog.Offline})
	publish(t, bus, watchdog.TopicPowerCommand, watchdog.PowerEvent{Device: "nas", On: false, OK: false, Cause: "refused"})
	publish(t, bus, watchdog.TopicPowerCommand, watchdog.PowerEvent{Device: "nas", On: false, OK: true})

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"running", testutil.ToFloat64(c.running), 1},
		{"probe success", testutil.ToFloat64(c.probes.WithLabelValues("nas", "success")), 1},
		{"probe timeout", testutil.ToFloat64(c.probes.WithLabelValues("nas", "timeout")), 2},
		{"failures", testutil.ToFloat64(c.failures.WithLabelValues("nas")), 2},
		{"online", testutil.ToFloat64(c.online.WithLabelValues("nas")), 0},
		{"state powering off", testutil.ToFloat64(c.state.WithLabelValues("nas", "POWERING_OFF")), 1},
		{"state awake", testutil.ToFloat64(c.state.WithLabelValues("nas", "AWAKE")), 0},
		{"power off failure", testutil.ToFloat64(c.powerCommands.WithLabelValues("nas", "off", "failure")), 1},
		{"power off success", testutil.ToFloat64(c.powerCommands.WithLabelValues("nas", "off", "success")), 1},
		{"offline notification", testutil.ToFloat64(c.notifications.WithLabelValues("nas", "OFFLINE", "success")), 1},
	}
	for _, ch := range checks {
		if ch.got != ch.want {
			t.Errorf("%s = %v, want %v", ch.name, ch.got, ch.want)
		}
	}

	publish(t, bus, watchdog.TopicStopped, watchdog.StoppedEvent{Device: "nas"})
	if got := testutil.ToFloat64(c.running); got != 0 {
		t.Errorf("running after stop = %v, want 0", got)
	}

	if n := testutil.CollectAndCount(c.probeLatency); n != 1 {
		t.Errorf("latency series = %d, want 1", n)
	}
}

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	New(reg)
}
