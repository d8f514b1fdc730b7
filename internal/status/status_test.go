package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HerbHall/powerwatch/internal/event"
	"github.com/HerbHall/powerwatch/internal/watchdog"
	"github.com/HerbHall/powerwatch/internal/watchdog/watchdogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDevice() watchdog.Device {
	return watchdog.Device{
		Name:          "nas",
		HealthAddr:    "192.0.2.10:22",
		SwitchAddr:    "192.0.2.20:9999",
		BootTime:      300 * time.Second,
		CheckInterval: 30 * time.Second,
		CycleTime:     10 * time.Second,
		Retries:       2,
	}
}

func TestNewTracker_Seeds(t *testing.T) {
	tr := NewTracker(testDevice())

	d, ok := tr.Get("nas")
	require.True(t, ok)
	assert.Equal(t, watchdog.Awake, d.State)
	assert.Equal(t, watchdog.Online, d.Alert)
	assert.Equal(t, 2, d.Retries)
	assert.False(t, d.Running)

	_, ok = tr.Get("missing")
	assert.False(t, ok)
}

func TestTracker_FollowsWatchdog(t *testing.T) {
	bus := event.NewBus(nil)
	tr := NewTracker(testDevice())
	detach := tr.Attach(bus)
	defer detach()

	down := errors.New("connection refused")
	wd := watchdog.New(testDevice(), watchdog.DefaultConfig(), watchdog.Dependencies{
		Prober:   watchdogtest.NewProber(down, down),
		Power:    watchdogtest.NewSwitch(),
		Notifier: &watchdogtest.Notifier{},
		Clock:    watchdogtest.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Bus:      bus,
	})
	ctx := context.Background()

	require.NoError(t, wd.Step(ctx))
	d, _ := tr.Get("nas")
	assert.Equal(t, 1, d.Failures)
	assert.False(t, d.LastProbeOK)
	assert.Equal(t, "connection refused", d.LastError)
	require.NotNil(t, d.LastProbe)

	// Second failure crosses the threshold; then off, wait, on, reboot.
	for i := 0; i < 5; i++ {
		require.NoError(t, wd.Step(ctx))
	}
	d, _ = tr.Get("nas")
	assert.Equal(t, watchdog.Awake, d.State)
	assert.Equal(t, watchdog.Offline, d.Alert)
	assert.Equal(t, 0, d.Failures)
	assert.Equal(t, 1, d.PowerCycles)
	assert.Equal(t, 1, d.Notifications)
	require.NotNil(t, d.LastChange)

	// Recovery probe notifies ONLINE.
	require.NoError(t, wd.Step(ctx))
	d, _ = tr.Get("nas")
	assert.Equal(t, watchdog.Online, d.Alert)
	assert.True(t, d.LastProbeOK)
	assert.Equal(t, 2, d.Notifications)
}

func TestTracker_RunningAndStopped(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	tr.Handle(context.Background(), event.New(watchdog.TopicStarted, watchdog.EventSource, now,
		watchdog.Snapshot{Device: "a", State: watchdog.Awake, Retries: 3}))
	tr.Handle(context.Background(), event.New(watchdog.TopicStarted, watchdog.EventSource, now,
		watchdog.Snapshot{Device: "b", State: watchdog.Awake, Retries: 3}))
	assert.Equal(t, 2, tr.Running())

	tr.Handle(context.Background(), event.New(watchdog.TopicStopped, watchdog.EventSource, now,
		watchdog.StoppedEvent{Device: "a", Error: "monitoring aborted: boom"}))
	assert.Equal(t, 1, tr.Running())

	list := tr.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "monitoring aborted: boom", list[0].StopReason)
	assert.Equal(t, "b", list[1].Name)
}

func TestTracker_IgnoresForeignPayloads(t *testing.T) {
	tr := NewTracker()
	tr.Handle(context.Background(), event.Event{Topic: "other", Payload: 42})
	assert.Empty(t, tr.List())
}
