// Package testutil builds configuration fixtures for tests.
package testutil

import (
	"time"

	"github.com/HerbHall/powerwatch/internal/config"
)

// NewDevice returns a valid TCP-probed, Kasa-switched DeviceConfig with the
// standard timings. Override individual fields with opts.
func NewDevice(opts ...func(*config.DeviceConfig)) config.DeviceConfig {
	d := config.DeviceConfig{
		Name:          "test-device",
		Host:          "192.0.2.10",
		Port:          22,
		Probe:         config.ProbeTCP,
		PlugHost:      "192.0.2.20",
		PlugType:      config.PlugKasa,
		PlugPort:      9999,
		BootTime:      config.DefaultBootTime,
		CheckInterval: config.DefaultCheckInterval,
		Retries:       config.DefaultRetries,
		CycleTime:     config.DefaultCycleTime,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithName sets the device name.
func WithName(name string) func(*config.DeviceConfig) {
	return func(d *config.DeviceConfig) { d.Name = name }
}

// WithHealth sets the probe kind and target. Port is ignored for ICMP.
func WithHealth(probe, host string, port int) func(*config.DeviceConfig) {
	return func(d *config.DeviceConfig) {
		d.Probe = probe
		d.Host = host
		d.Port = port
	}
}

// WithPlug sets the switch kind and address.
func WithPlug(kind, host string, port int) func(*config.DeviceConfig) {
	return func(d *config.DeviceConfig) {
		d.PlugType = kind
		d.PlugHost = host
		d.PlugPort = port
	}
}

// WithTimings sets the device policy in seconds.
func WithTimings(bootTime, checkInterval, retries, cycleTime int) func(*config.DeviceConfig) {
	return func(d *config.DeviceConfig) {
		d.BootTime = bootTime
		d.CheckInterval = checkInterval
		d.Retries = retries
		d.CycleTime = cycleTime
	}
}

// NewConfig returns a Config with one-second policy timeouts and devices.
func NewConfig(devices ...config.DeviceConfig) *config.Config {
	return &config.Config{
		Probe:         config.ProbeConfig{Timeout: time.Second},
		Power:         config.PowerConfig{Timeout: time.Second, Backoff: time.Second},
		Notifications: config.NotificationsConfig{Timeout: time.Second},
		Devices:       devices,
	}
}
