package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/powerwatch/internal/config"
	"github.com/HerbHall/powerwatch/internal/watchdog"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ Sink = (*MQTT)(nil)

const defaultMQTTTimeout = 5 * time.Second

// mqttClient is the subset of pahomqtt.Client the sink uses.
type mqttClient interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes alerts to <topic_prefix>/device/<name>/alert. The broker
// connection is opened once and kept alive with automatic reconnects.
type MQTT struct {
	client  mqttClient
	prefix  string
	qos     byte
	retain  bool
	timeout time.Duration
	logger  *zap.Logger
}

// NewMQTT connects to the broker. A connection failure at startup is logged
// and left to the background reconnect; sends fail until it succeeds.
func NewMQTT(cfg config.MQTTConfig, logger *zap.Logger) (*MQTT, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt: broker_url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := newMQTT(nil, cfg, logger)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(m.timeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password) //nolint:gosec // G101: config field
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	switch {
	case !token.WaitTimeout(m.timeout):
		m.logger.Warn("mqtt connection timed out; will reconnect in background",
			zap.String("broker_url", cfg.BrokerURL))
	case token.Error() != nil:
		m.logger.Warn("mqtt connection failed; will reconnect in background",
			zap.String("broker_url", cfg.BrokerURL), zap.Error(token.Error()))
	default:
		m.logger.Info("mqtt connected to broker", zap.String("broker_url", cfg.BrokerURL))
	}
	m.client = client
	return m, nil
}

func newMQTT(client mqttClient, cfg config.MQTTConfig, logger *zap.Logger) *MQTT {
	m := &MQTT{
		client:  client,
		prefix:  cfg.TopicPrefix,
		qos:     1,
		retain:  true,
		timeout: cfg.Timeout,
		logger:  logger.Named("mqtt"),
	}
	if m.prefix == "" {
		m.prefix = "powerwatch"
	}
	if cfg.QoS != nil {
		m.qos = byte(*cfg.QoS)
	}
	if cfg.Retain != nil {
		m.retain = *cfg.Retain
	}
	if m.timeout <= 0 {
		m.timeout = defaultMQTTTimeout
	}
	return m
}

// Type returns the sink type identifier.
func (m *MQTT) Type() string { return "mqtt" }

// Topic returns the alert topic for device.
func (m *MQTT) Topic(device string) string {
	return m.prefix + "/device/" + device + "/alert"
}

func (m *MQTT) Send(ctx context.Context, n watchdog.Notification) error {
	if !m.client.IsConnected() {
		return errors.New("not connected to broker")
	}
	payload, err := json.Marshal(newMessage(n))
	if err != nil {
		return fmt.Errorf("marshal mqtt payload: %w", err)
	}

	timeout := m.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	topic := m.Topic(n.Device)
	token := m.client.Publish(topic, m.qos, m.retain, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
		m.logger.Info("mqtt disconnected")
	}
	return nil
}
