package watchdog

import "time"

// Event topics published by watchdogs.
const (
	TopicStarted      = "watchdog.started"
	TopicStopped      = "watchdog.stopped"
	TopicStateChanged = "watchdog.state.changed"
	TopicProbe        = "watchdog.probe.completed"
	TopicPowerCommand = "watchdog.power.command"
	TopicNotification = "watchdog.notification.sent"
)

// EventSource is the Source field of every event a watchdog publishes.
const EventSource = "watchdog"

// Snapshot is an immutable copy of a watchdog's state. It is the payload of
// TopicStarted and TopicStateChanged.
type Snapshot struct {
	Device   string     `json:"device"`
	State    State      `json:"state"`
	Previous State      `json:"previous"`
	Failures int        `json:"failures"`
	Retries  int        `json:"retries"`
	Alert    AlertPhase `json:"alert"`
	At       time.Time  `json:"at"`
}

// ProbeEvent is the payload of TopicProbe.
type ProbeEvent struct {
	Device  string        `json:"device"`
	Target  string        `json:"target"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency"`
	Cause   string        `json:"cause,omitempty"`
	Error   string        `json:"error,omitempty"`
	Attempt int           `json:"attempt,omitempty"`
}

// PowerEvent is the payload of TopicPowerCommand.
type PowerEvent struct {
	Device string `json:"device"`
	Switch string `json:"switch"`
	On     bool   `json:"on"`
	OK     bool   `json:"ok"`
	Cause  string `json:"cause,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NotificationEvent is the payload of TopicNotification.
type NotificationEvent struct {
	Device    string     `json:"device"`
	Kind      AlertPhase `json:"kind"`
	Delivered bool       `json:"delivered"`
	Error     string     `json:"error,omitempty"`
}

// StoppedEvent is the payload of TopicStopped.
type StoppedEvent struct {
	Device string `json:"device"`
	Error  string `json:"error,omitempty"`
}
