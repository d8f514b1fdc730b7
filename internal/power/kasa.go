package power

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/HerbHall/powerwatch/internal/fault"
)

// Compile-time interface guard.
var _ Switch = (*Kasa)(nil)

// kasaKey seeds the autokey XOR cipher used by TP-Link Kasa plugs.
const kasaKey byte = 171

// maxKasaReply caps the reply size read from a plug.
const maxKasaReply = 64 << 10

// Kasa controls a TP-Link Kasa smart plug over its local TCP protocol:
// a 4-byte big-endian length followed by an XOR-obfuscated JSON document.
type Kasa struct {
	timeout time.Duration
}

// NewKasa creates a Kasa driver.
func NewKasa(timeout time.Duration) *Kasa {
	return &Kasa{timeout: timeout}
}

type kasaRelayRequest struct {
	System struct {
		SetRelayState struct {
			State int `json:"state"`
		} `json:"set_relay_state"`
	} `json:"system"`
}

type kasaRelayResponse struct {
	System struct {
		SetRelayState struct {
			ErrCode int    `json:"err_code"`
			ErrMsg  string `json:"err_msg,omitempty"`
		} `json:"set_relay_state"`
	} `json:"system"`
}

func (k *Kasa) SetPower(ctx context.Context, addr string, on bool) error {
	var req kasaRelayRequest
	if on {
		req.System.SetRelayState.State = 1
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fault.Newf(fault.Protocol, op(on), "encoding request: %v", err)
	}

	reply, err := k.exchange(ctx, addr, payload)
	if err != nil {
		return fault.New(op(on), err)
	}

	var resp kasaRelayResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return fault.Newf(fault.Protocol, op(on), "decoding reply from %s: %v", addr, err)
	}
	if code := resp.System.SetRelayState.ErrCode; code != 0 {
		return fault.Newf(fault.Protocol, op(on), "plug %s returned err_code %d: %s",
			addr, code, resp.System.SetRelayState.ErrMsg)
	}
	return nil
}

// exchange sends one request and reads one reply on a fresh connection.
func (k *Kasa) exchange(ctx context.Context, addr string, payload []byte) ([]byte, error) {
	dialer := net.Dialer{Timeout: k.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var deadline time.Time
	if k.timeout > 0 {
		deadline = time.Now().Add(k.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if !deadline.IsZero() {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}

	if _, err := conn.Write(kasaFrame(payload)); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return nil, fmt.Errorf("reading reply length: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxKasaReply {
		return nil, fault.Newf(fault.Protocol, "read", "reply of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(conn, body); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fault.Newf(fault.Protocol, "read", "short reply: %v", err)
		}
		return nil, fmt.Errorf("reading reply: %w", err)
	}
	return kasaDecrypt(body), nil
}

// kasaFrame returns the length-prefixed, encrypted form of payload.
func kasaFrame(payload []byte) []byte {
	out := make([]byte, 4, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	return append(out, kasaEncrypt(payload)...)
}

func kasaEncrypt(plain []byte) []byte {
	key := kasaKey
	out := make([]byte, len(plain))
	for i, b := range plain {
		key ^= b
		out[i] = key
	}
	return out
}

func kasaDecrypt(cipher []byte) []byte {
	key := kasaKey
	out := make([]byte, len(cipher))
	for i, b := range cipher {
		out[i] = key ^ b
		key = b
	}
	return out
}
