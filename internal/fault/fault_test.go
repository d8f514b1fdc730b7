package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Unknown},
		{"deadline", context.DeadlineExceeded, Timeout},
		{"wrapped deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), Timeout},
		{"net timeout", &net.OpError{Op: "dial", Net: "tcp", Err: timeoutErr{}}, Timeout},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, Refused},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), Refused},
		{"no route", fmt.Errorf("dial: %w", syscall.EHOSTUNREACH), Unreachable},
		{"dns", &net.DNSError{Err: "no such host", Name: "nowhere.invalid"}, Unreachable},
		{"plain", errors.New("boom"), Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindOf_PrefersRecordedKind(t *testing.T) {
	err := fmt.Errorf("power off: %w", Newf(Protocol, "power off", "err_code %d", -1))
	if got := KindOf(err); got != Protocol {
		t.Errorf("KindOf() = %v, want %v", got, Protocol)
	}
	if IsTimeout(err) {
		t.Error("IsTimeout() = true, want false")
	}
}

func TestNew_InfersKind(t *testing.T) {
	err := New("power on", context.DeadlineExceeded)
	if err.Kind != Timeout {
		t.Errorf("Kind = %v, want %v", err.Kind, Timeout)
	}
	if !IsTimeout(err) {
		t.Error("IsTimeout() = false, want true")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("errors.Is(err, DeadlineExceeded) = false, want true")
	}
	if err.Error() != "power on: context deadline exceeded" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestKind_String(t *testing.T) {
	for k, want := range map[Kind]string{
		Unknown: "unknown", Timeout: "timeout", Refused: "refused",
		Unreachable: "unreachable", Protocol: "protocol", Kind(99): "unknown",
	} {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), got, want)
		}
	}
}
