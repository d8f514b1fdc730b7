package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/HerbHall/powerwatch/internal/config"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeToken struct {
	err     error
	pending bool
}

func (t *fakeToken) Wait() bool { return !t.pending }

func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.pending {
		close(ch)
	}
	return ch
}

func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

type fakeMQTTClient struct {
	connected    bool
	token        *fakeToken
	published    []published
	disconnected bool
}

func (c *fakeMQTTClient) IsConnected() bool { return c.connected }

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.published = append(c.published, published{topic, qos, retained, payload.([]byte)})
	if c.token != nil {
		return c.token
	}
	return &fakeToken{}
}

func (c *fakeMQTTClient) Disconnect(uint) {
	c.disconnected = true
	c.connected = false
}

func TestMQTT_Send(t *testing.T) {
	client := &fakeMQTTClient{connected: true}
	qos := 2
	retain := false
	m := newMQTT(client, config.MQTTConfig{TopicPrefix: "home/power", QoS: &qos, Retain: &retain}, zap.NewNop())

	require.NoError(t, m.Send(context.Background(), offline("nas")))
	require.Len(t, client.published, 1)

	p := client.published[0]
	assert.Equal(t, "home/power/device/nas/alert", p.topic)
	assert.Equal(t, byte(2), p.qos)
	assert.False(t, p.retain)

	var msg message
	require.NoError(t, json.Unmarshal(p.payload, &msg))
	assert.Equal(t, "OFFLINE", msg.Status)
	assert.Equal(t, "nas", msg.Device)
}

func TestMQTT_Defaults(t *testing.T) {
	m := newMQTT(&fakeMQTTClient{}, config.MQTTConfig{}, zap.NewNop())
	assert.Equal(t, "powerwatch/device/nas/alert", m.Topic("nas"))
	assert.Equal(t, byte(1), m.qos)
	assert.True(t, m.retain)
	assert.Equal(t, defaultMQTTTimeout, m.timeout)
}

func TestMQTT_SendFailures(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeMQTTClient
	}{
		{"disconnected", &fakeMQTTClient{}},
		{"publish error", &fakeMQTTClient{connected: true, token: &fakeToken{err: errors.New("broker said no")}}},
		{"publish timeout", &fakeMQTTClient{connected: true, token: &fakeToken{pending: true}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newMQTT(tc.client, config.MQTTConfig{}, zap.NewNop())
			assert.Error(t, m.Send(context.Background(), offline("nas")))
		})
	}
}

func TestMQTT_Close(t *testing.T) {
	client := &fakeMQTTClient{connected: true}
	m := newMQTT(client, config.MQTTConfig{}, zap.NewNop())
	require.NoError(t, m.Close())
	assert.True(t, client.disconnected)
}

func TestNewMQTT_RequiresBroker(t *testing.T) {
	_, err := NewMQTT(config.MQTTConfig{}, nil)
	assert.Error(t, err)
}
