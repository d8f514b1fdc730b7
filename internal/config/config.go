// Package config loads the powerwatch configuration document through Viper
// and turns it into validated, typed settings.
package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode"
	"time"

	"github.com/HerbHall/powerwatch/internal/watchdog"
	"github.com/spf13/viper"
)

// Device defaults.
const (
	DefaultBootTime      = 300
	DefaultCheckInterval = 30
	DefaultRetries       = 3
	DefaultCycleTime     = 10
)

// Probe and switch kinds.
const (
	ProbeTCP    = "tcp"
	ProbeICMP   = "icmp"
	PlugKasa    = "kasa"
	PlugShelly  = "shelly"
	kasaPort    = 9999
	shellyPort  = 80
	envPrefix   = "PW"
	mqttPrefix  = "powerwatch"
	mqttClient  = "powerwatch"
	defaultQoS  = 1
	maxPortNum  = 65535
	defaultPing = 3
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete daemon configuration.
type Config struct {
	Logging       LoggingConfig       `mapstructure:"logging"`
	Server        ServerConfig        `mapstructure:"server"`
	Probe         ProbeConfig         `mapstructure:"probe"`
	Power         PowerConfig         `mapstructure:"power"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Devices       []DeviceConfig      `mapstructure:"devices"`
}

// LoggingConfig is consumed by NewLogger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the optional status server. An empty Addr
// disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// ProbeConfig holds settings shared by all reachability probes.
type ProbeConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	PingCount  int           `mapstructure:"ping_count"`
	Privileged bool          `mapstructure:"privileged"`
}

// PowerConfig holds settings shared by all switch commands.
type PowerConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Backoff time.Duration `mapstructure:"backoff"`
}

// NotificationsConfig lists the optional notification sinks. A nil sink is
// not configured and is skipped.
type NotificationsConfig struct {
	Timeout time.Duration  `mapstructure:"timeout"`
	Email   *EmailConfig   `mapstructure:"email"`
	Webhook *WebhookConfig `mapstructure:"webhook"`
	MQTT    *MQTTConfig    `mapstructure:"mqtt"`
}

// EmailConfig describes an SMTP sink.
type EmailConfig struct {
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"` //nolint:gosec // G101: config field name, not a credential
	UseSSL       bool   `mapstructure:"use_ssl"`
	EmailFrom    string `mapstructure:"email_from"`
	EmailTo      string `mapstructure:"email_to"`
}

// WebhookConfig describes an HTTP POST sink.
type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Secret  string            `mapstructure:"secret"` //nolint:gosec // G101: config field name, not a credential
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// MQTTConfig describes an MQTT sink.
type MQTTConfig struct {
	BrokerURL   string        `mapstructure:"broker_url"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"` //nolint:gosec // G101: config field name, not a credential
	ClientID    string        `mapstructure:"client_id"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	QoS         *int          `mapstructure:"qos"`
	Retain      *bool         `mapstructure:"retain"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// DeviceConfig is one entry of the devices list. Numeric fields are seconds;
// zero means "use the default".
type DeviceConfig struct {
	Name          string `mapstructure:"name"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Probe         string `mapstructure:"probe"`
	PlugHost      string `mapstructure:"plug_host"`
	PlugType      string `mapstructure:"plug_type"`
	PlugPort      int    `mapstructure:"plug_port"`
	PlugOutlet    int    `mapstructure:"plug_outlet"`
	BootTime      int    `mapstructure:"boot_time"`
	CheckInterval int    `mapstructure:"check_interval"`
	Retries       int    `mapstructure:"retries"`
	CycleTime     int    `mapstructure:"cycle_time"`
}

// Load reads the configuration file at path, layering defaults underneath and
// PW_-prefixed environment variables on top (PW_LOGGING_LEVEL=debug).
// The file format is taken from its extension (json, yaml, toml).
func Load(path string) (*viper.Viper, error) {
	if path == "" {
		return nil, errors.New("no configuration file given")
	}

	v := viper.New()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("server.addr", "")
	v.SetDefault("probe.timeout", "5s")
	v.SetDefault("probe.ping_count", defaultPing)
	v.SetDefault("probe.privileged", false)
	v.SetDefault("power.timeout", "5s")
	v.SetDefault("power.backoff", "5s")
	v.SetDefault("notifications.timeout", "10s")

	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return v, nil
}

// Decode unmarshals v, fills in defaults and validates the result.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Probe == "" {
			d.Probe = ProbeTCP
		}
		if d.PlugType == "" {
			d.PlugType = PlugKasa
		}
		if d.PlugPort == 0 {
			d.PlugPort = kasaPort
			if d.PlugType == PlugShelly {
				d.PlugPort = shellyPort
			}
		}
		if d.BootTime == 0 {
			d.BootTime = DefaultBootTime
		}
		if d.CheckInterval == 0 {
			d.CheckInterval = DefaultCheckInterval
		}
		if d.Retries == 0 {
			d.Retries = DefaultRetries
		}
		if d.CycleTime == 0 {
			d.CycleTime = DefaultCycleTime
		}
	}

	if m := c.Notifications.MQTT; m != nil {
		if m.ClientID == "" {
			m.ClientID = mqttClient
		}
		if m.TopicPrefix == "" {
			m.TopicPrefix = mqttPrefix
		}
		if m.QoS == nil {
			q := defaultQoS
			m.QoS = &q
		}
		if m.Retain == nil {
			r := true
			m.Retain = &r
		}
	}
}

// Validate reports every problem found, joined and wrapped in ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Devices))

	for i := range c.Devices {
		d := &c.Devices[i]
		label := fmt.Sprintf("devices[%d]", i)
		if d.Name != "" {
			label = fmt.Sprintf("device %q", d.Name)
		}

		if d.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", label))
		} else if strings.IndexFunc(d.Name, unicode.IsControl) >= 0 {
			errs = append(errs, fmt.Errorf("%s: name must not contain control characters", label))
		} else if seen[d.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate name", label))
		}
		seen[d.Name] = true

		if d.Host == "" {
			errs = append(errs, fmt.Errorf("%s: host is required", label))
		}
		if d.PlugHost == "" {
			errs = append(errs, fmt.Errorf("%s: plug_host is required", label))
		}

		switch d.Probe {
		case ProbeTCP:
			if d.Port <= 0 || d.Port > maxPortNum {
				errs = append(errs, fmt.Errorf("%s: port must be in 1-65535 for tcp probes", label))
			}
		case ProbeICMP:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown probe %q", label, d.Probe))
		}

		switch d.PlugType {
		case PlugKasa, PlugShelly:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown plug_type %q", label, d.PlugType))
		}
		if d.PlugPort <= 0 || d.PlugPort > maxPortNum {
			errs = append(errs, fmt.Errorf("%s: plug_port must be in 1-65535", label))
		}
		if d.PlugOutlet < 0 {
			errs = append(errs, fmt.Errorf("%s: plug_outlet must not be negative", label))
		}

		for _, f := range []struct {
			key string
			val int
		}{
			{"boot_time", d.BootTime},
			{"check_interval", d.CheckInterval},
			{"retries", d.Retries},
			{"cycle_time", d.CycleTime},
		} {
			if f.val <= 0 {
				errs = append(errs, fmt.Errorf("%s: %s must be a positive integer", label, f.key))
			}
		}
	}

	if e := c.Notifications.Email; e != nil {
		for _, f := range []struct {
			key string
			val string
		}{
			{"smtp_host", e.SMTPHost},
			{"smtp_username", e.SMTPUsername},
			{"smtp_password", e.SMTPPassword},
			{"email_from", e.EmailFrom},
			{"email_to", e.EmailTo},
		} {
			if f.val == "" {
				errs = append(errs, fmt.Errorf("notifications.email: %s is required", f.key))
			}
		}
	}
	if w := c.Notifications.Webhook; w != nil && w.URL == "" {
		errs = append(errs, errors.New("notifications.webhook: url is required"))
	}
	if m := c.Notifications.MQTT; m != nil {
		if m.BrokerURL == "" {
			errs = append(errs, errors.New("notifications.mqtt: broker_url is required"))
		}
		if m.QoS != nil && (*m.QoS < 0 || *m.QoS > 2) {
			errs = append(errs, errors.New("notifications.mqtt: qos must be 0, 1 or 2"))
		}
	}

	if c.Probe.Timeout <= 0 {
		errs = append(errs, errors.New("probe.timeout must be positive"))
	}
	if c.Power.Timeout <= 0 {
		errs = append(errs, errors.New("power.timeout must be positive"))
	}
	if c.Power.Backoff < 0 {
		errs = append(errs, errors.New("power.backoff must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Resolver looks up host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Resolve replaces every device host and plug_host with an IP address,
// so lookups happen once at startup rather than on every probe.
func (c *Config) Resolve(ctx context.Context, r Resolver) error {
	for i := range c.Devices {
		d := &c.Devices[i]
		host, err := resolveOne(ctx, r, d.Host)
		if err != nil {
			return fmt.Errorf("device %q: resolving host: %w", d.Name, err)
		}
		plug, err := resolveOne(ctx, r, d.PlugHost)
		if err != nil {
			return fmt.Errorf("device %q: resolving plug_host: %w", d.Name, err)
		}
		d.Host, d.PlugHost = host, plug
	}
	return nil
}

func resolveOne(ctx context.Context, r Resolver, host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}
	addrs, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for %s", host)
	}
	// Prefer IPv4, matching what a plain gethostbyname would return.
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a, nil
		}
	}
	return addrs[0], nil
}

// HealthAddr is the address handed to the prober.
func (d DeviceConfig) HealthAddr() string {
	if d.Probe == ProbeICMP {
		return d.Host
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// SwitchAddr is the address handed to the power controller.
func (d DeviceConfig) SwitchAddr() string {
	return net.JoinHostPort(d.PlugHost, strconv.Itoa(d.PlugPort))
}

// Watchdog converts the entry into the watchdog's device description.
func (d DeviceConfig) Watchdog() watchdog.Device {
	return watchdog.Device{
		Name:          d.Name,
		HealthAddr:    d.HealthAddr(),
		SwitchAddr:    d.SwitchAddr(),
		BootTime:      time.Duration(d.BootTime) * time.Second,
		CheckInterval: time.Duration(d.CheckInterval) * time.Second,
		CycleTime:     time.Duration(d.CycleTime) * time.Second,
		Retries:       d.Retries,
	}
}

// WatchdogConfig returns the policy timings for all watchdogs.
func (c *Config) WatchdogConfig() watchdog.Config {
	wc := watchdog.DefaultConfig()
	wc.ProbeTimeout = c.Probe.Timeout
	wc.PowerTimeout = c.Power.Timeout
	wc.Backoff = c.Power.Backoff
	if c.Notifications.Timeout > 0 {
		wc.NotifyTimeout = c.Notifications.Timeout
	}
	return wc
}
