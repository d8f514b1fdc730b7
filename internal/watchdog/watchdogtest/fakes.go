// Package watchdogtest provides deterministic fakes for driving a
// watchdog.Watchdog in tests: a virtual clock, scripted probers and switches,
// and a recording notifier.
package watchdogtest

import (
	"context"
	"sync"
	"time"

	"github.com/HerbHall/powerwatch/internal/watchdog"
)

// Compile-time interface guards.
var (
	_ watchdog.Clock           = (*Clock)(nil)
	_ watchdog.Prober          = (*Prober)(nil)
	_ watchdog.PowerController = (*Switch)(nil)
	_ watchdog.Notifier        = (*Notifier)(nil)
)

// Clock is a virtual clock. Sleep advances Now by the requested duration and
// returns immediately.
type Clock struct {
	mu     sync.Mutex
	start  time.Time
	now    time.Time
	sleeps []time.Duration

	// OnSleep, if set, is called after each sleep with the slept duration.
	OnSleep func(d time.Duration)
}

// NewClock returns a virtual clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{start: start, now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	hook := c.OnSleep
	c.mu.Unlock()
	if hook != nil {
		hook(d)
	}
	return nil
}

// Advance moves the clock forward without recording a sleep. Used to model
// time spent inside a blocking collaborator call.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Sleeps returns every duration passed to Sleep, in order.
func (c *Clock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// Elapsed returns the virtual time passed since the clock was created.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(c.start)
}

// Prober returns scripted results. Once the script is exhausted it returns
// Default (nil, i.e. reachable, unless set).
type Prober struct {
	mu      sync.Mutex
	script  []error
	calls   []string
	Default error
}

// NewProber returns a prober that yields results in order.
func NewProber(results ...error) *Prober {
	return &Prober{script: results}
}

func (p *Prober) Probe(_ context.Context, addr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, addr)
	if len(p.script) == 0 {
		return p.Default
	}
	err := p.script[0]
	p.script = p.script[1:]
	return err
}

// Then appends results to the script.
func (p *Prober) Then(results ...error) *Prober {
	p.mu.Lock()
	p.script = append(p.script, results...)
	p.mu.Unlock()
	return p
}

// Calls returns the number of probes issued.
func (p *Prober) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Command is one recorded SetPower call.
type Command struct {
	Addr string
	On   bool
}

// Switch records power commands and returns scripted results, then nil.
type Switch struct {
	mu       sync.Mutex
	script   []error
	commands []Command
}

// NewSwitch returns a switch that yields results in order.
func NewSwitch(results ...error) *Switch {
	return &Switch{script: results}
}

func (s *Switch) SetPower(_ context.Context, addr string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, Command{Addr: addr, On: on})
	if len(s.script) == 0 {
		return nil
	}
	err := s.script[0]
	s.script = s.script[1:]
	return err
}

// Commands returns all recorded commands in order.
func (s *Switch) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Command, len(s.commands))
	copy(out, s.commands)
	return out
}

// Notifier records notifications. If Err is set, every call fails with it
// after recording.
type Notifier struct {
	mu   sync.Mutex
	sent []watchdog.Notification
	Err  error
}

func (n *Notifier) Notify(_ context.Context, msg watchdog.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.Err
}

// Sent returns all recorded notifications.
func (n *Notifier) Sent() []watchdog.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]watchdog.Notification, len(n.sent))
	copy(out, n.sent)
	return out
}

// Count returns how many notifications of kind were recorded.
func (n *Notifier) Count(kind watchdog.AlertPhase) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.sent {
		if m.Kind == kind {
			c++
		}
	}
	return c
}
