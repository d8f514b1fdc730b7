package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HerbHall/powerwatch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook_Send(t *testing.T) {
	var (
		gotBody    []byte
		gotHeaders http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(config.WebhookConfig{
		URL:     srv.URL,
		Secret:  "s3cret",
		Headers: map[string]string{"X-Team": "infra"},
	})
	require.NoError(t, wh.Send(context.Background(), offline("nas")))

	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "infra", gotHeaders.Get("X-Team"))
	assert.Contains(t, gotHeaders.Get("User-Agent"), "powerwatch/")
	assert.Equal(t, Sign("s3cret", gotBody), gotHeaders.Get(SignatureHeader))

	var msg message
	require.NoError(t, json.Unmarshal(gotBody, &msg))
	assert.Equal(t, "device.offline", msg.Event)
	assert.Equal(t, "nas", msg.Device)
	assert.Equal(t, "OFFLINE", msg.Status)
	assert.Equal(t, "[powerwatch] nas is OFFLINE", msg.Subject)
	assert.True(t, msg.Timestamp.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
}

func TestWebhook_NoSecretNoSignature(t *testing.T) {
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get(SignatureHeader)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhook(config.WebhookConfig{URL: srv.URL}).Send(context.Background(), offline("nas")))
	assert.Empty(t, sig)
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(config.WebhookConfig{URL: srv.URL}).Send(context.Background(), offline("nas"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestWebhook_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	wh := NewWebhook(config.WebhookConfig{URL: srv.URL, Timeout: 100 * time.Millisecond})
	assert.Error(t, wh.Send(context.Background(), offline("nas")))
}
