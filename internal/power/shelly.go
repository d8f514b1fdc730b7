package power

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/HerbHall/powerwatch/internal/fault"
)

// Compile-time interface guard.
var _ Switch = (*Shelly)(nil)

// Shelly controls one relay of a Shelly Gen1 device through its HTTP API.
type Shelly struct {
	outlet int
	client *http.Client
}

// NewShelly creates a Shelly driver for relay index outlet.
func NewShelly(outlet int, timeout time.Duration) *Shelly {
	return &Shelly{
		outlet: outlet,
		client: &http.Client{Timeout: timeout},
	}
}

type shellyRelayStatus struct {
	IsOn bool `json:"ison"`
}

func (s *Shelly) SetPower(ctx context.Context, addr string, on bool) error {
	turn := "off"
	if on {
		turn = "on"
	}
	url := fmt.Sprintf("http://%s/relay/%d?turn=%s", addr, s.outlet, turn)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fault.Newf(fault.Protocol, op(on), "creating request: %v", err)
	}
	req.Header.Set("User-Agent", "powerwatch")

	resp, err := s.client.Do(req)
	if err != nil {
		return fault.New(op(on), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fault.New(op(on), err)
	}
	if resp.StatusCode != http.StatusOK {
		return fault.Newf(fault.Protocol, op(on), "relay %s returned HTTP %d", addr, resp.StatusCode)
	}

	var status shellyRelayStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return fault.Newf(fault.Protocol, op(on), "decoding relay status: %v", err)
	}
	if status.IsOn != on {
		return fault.Newf(fault.Protocol, op(on), "relay %s reports ison=%t", addr, status.IsOn)
	}
	return nil
}
