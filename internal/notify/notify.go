// Package notify delivers watchdog alerts to the configured sinks. Delivery
// is best-effort: every sink is attempted, failures are collected and
// returned, and nothing is retried.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/HerbHall/powerwatch/internal/config"
	"github.com/HerbHall/powerwatch/internal/watchdog"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ watchdog.Notifier = (*Dispatcher)(nil)

// SubjectPrefix is prepended to every alert subject.
const SubjectPrefix = "[powerwatch] "

// Sink is one notification channel.
type Sink interface {
	Send(ctx context.Context, n watchdog.Notification) error
	Type() string
}

// Dispatcher fans a notification out to every sink.
type Dispatcher struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher over sinks. With no sinks, Notify is a
// no-op.
func NewDispatcher(logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{sinks: sinks, logger: logger}
}

// Sinks returns the configured sink types.
func (d *Dispatcher) Sinks() []string {
	out := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		out[i] = s.Type()
	}
	return out
}

// Notify sends n to every sink and returns the joined delivery errors.
func (d *Dispatcher) Notify(ctx context.Context, n watchdog.Notification) error {
	var errs []error
	for _, s := range d.sinks {
		if err := d.send(ctx, s, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Type(), err))
			continue
		}
		d.logger.Debug("notification delivered",
			zap.String("sink", s.Type()),
			zap.String("device", n.Device),
			zap.Stringer("kind", n.Kind),
		)
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) send(ctx context.Context, s Sink, n watchdog.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return s.Send(ctx, n)
}

// Close releases sinks that hold connections.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, s := range d.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.Type(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds a dispatcher with one sink per configured block.
func FromConfig(cfg config.NotificationsConfig, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var sinks []Sink
	if cfg.Email != nil {
		sinks = append(sinks, NewEmail(*cfg.Email))
	}
	if cfg.Webhook != nil {
		sinks = append(sinks, NewWebhook(*cfg.Webhook))
	}
	if cfg.MQTT != nil {
		m, err := NewMQTT(*cfg.MQTT, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, m)
	}
	return NewDispatcher(logger.Named("notify"), sinks...), nil
}

// Subject is the full alert subject for n.
func Subject(n watchdog.Notification) string {
	return SubjectPrefix + n.Subject
}

// message is the structured form of a notification shared by the JSON sinks.
type message struct {
	Event     string    `json:"event"`
	Device    string    `json:"device"`
	Status    string    `json:"status"`
	Subject   string    `json:"subject"`
	Timestamp time.Time `json:"timestamp"`
}

func newMessage(n watchdog.Notification) message {
	status := n.Kind.String()
	return message{
		Event:     "device." + strings.ToLower(status),
		Device:    n.Device,
		Status:    status,
		Subject:   Subject(n),
		Timestamp: n.Time.UTC(),
	}
}
