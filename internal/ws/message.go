package ws

import (
	"time"

	"github.com/HerbHall/powerwatch/internal/event"
	"github.com/HerbHall/powerwatch/internal/watchdog"
)

// Message is the envelope for every event streamed to clients. Type is the
// bus topic, e.g. "watchdog.state.changed".
type Message struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Device    string    `json:"device"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// FromEvent converts a watchdog event. It reports false for events that do
// not come from a watchdog.
func FromEvent(e event.Event) (Message, bool) {
	var device string
	switch p := e.Payload.(type) {
	case watchdog.Snapshot:
		device = p.Device
	case watchdog.ProbeEvent:
		device = p.Device
	case watchdog.PowerEvent:
		device = p.Device
	case watchdog.NotificationEvent:
		device = p.Device
	case watchdog.StoppedEvent:
		device = p.Device
	default:
		return Message{}, false
	}
	return Message{
		ID:        e.ID,
		Type:      e.Topic,
		Device:    device,
		Timestamp: e.Timestamp,
		Data:      e.Payload,
	}, true
}
