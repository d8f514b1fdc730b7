package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/powerwatch/internal/config"
	"github.com/HerbHall/powerwatch/internal/notify"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "powerwatch.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRun_Version(t *testing.T) {
	for _, args := range [][]string{{"version"}, {"-version"}} {
		var stdout, stderr bytes.Buffer
		if code := run(context.Background(), args, &stdout, &stderr); code != exitOK {
			t.Errorf("run(%v) = %d, want %d", args, code, exitOK)
		}
		if !strings.HasPrefix(stdout.String(), "powerwatch ") {
			t.Errorf("run(%v) stdout = %q", args, stdout.String())
		}
	}
}

func TestRun_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), nil, &stdout, &stderr); code != exitUsage {
		t.Fatalf("code = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(stderr.String(), "usage: powerwatch") {
		t.Errorf("stderr = %q", stderr.String())
	}

	if code := run(context.Background(), []string{"-bogus"}, &stdout, &stderr); code != exitUsage {
		t.Errorf("unknown flag: code = %d, want %d", code, exitUsage)
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(t.TempDir(), "missing.json")},
		{"invalid device", writeConfig(t, `{"devices": [{"name": "nas"}]}`)},
		{"bad log format", writeConfig(t, `{"logging": {"format": "xml"}}`)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(context.Background(), []string{tc.path}, &stdout, &stderr); code != exitError {
				t.Errorf("code = %d, want %d", code, exitError)
			}
		})
	}
}

func TestRun_NoDevices(t *testing.T) {
	path := writeConfig(t, `{"logging": {"level": "error"}}`)

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-config", path}, &stdout, &stderr); code != exitOK {
		t.Fatalf("code = %d, want %d", code, exitOK)
	}
}

func TestRun_MonitorsUntilCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	path := writeConfig(t, fmt.Sprintf(`{
		"logging": {"level": "error"},
		"server": {"addr": "127.0.0.1:0"},
		"devices": [{
			"name": "nas",
			"host": "127.0.0.1",
			"port": %d,
			"probe": "tcp",
			"plug_host": "127.0.0.1",
			"plug_type": "kasa",
			"check_interval": 1
		}]
	}`, port))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var stdout, stderr bytes.Buffer
	done := make(chan int, 1)
	go func() { done <- run(ctx, []string{path}, &stdout, &stderr) }()

	select {
	case code := <-done:
		if code != exitOK {
			t.Errorf("code = %d, want %d", code, exitOK)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestNotifierFor(t *testing.T) {
	if n := notifierFor(notify.NewDispatcher(nil)); n != nil {
		t.Errorf("notifierFor(no sinks) = %v, want nil", n)
	}

	d := notify.NewDispatcher(nil, notify.NewWebhook(config.WebhookConfig{URL: "http://192.0.2.1/hook"}))
	if n := notifierFor(d); n == nil {
		t.Error("notifierFor(webhook) = nil, want dispatcher")
	}
}
