// File: client/config_test.go
// Package client_test: configuration loading tests.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/momentics/wsclient/api"
	"github.com/momentics/wsclient/client"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigTOML(t *testing.T) {
	path := writeFile(t, "client.toml", `
addr = "ws://127.0.0.1:9000/echo"
subprotocols = ["chat", "superchat"]
fragment_size = 4096
close_timeout = "2s"
ping_interval = "15s"

[header]
X-Trace = "abc"
`)
	cfg, err := client.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != "ws://127.0.0.1:9000/echo" || len(cfg.Subprotocols) != 2 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.FragmentSize != 4096 || cfg.CloseTimeout != 2*time.Second || cfg.PingInterval != 15*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Header["X-Trace"] != "abc" {
		t.Errorf("header = %v", cfg.Header)
	}
	if cfg.IOBufferSize != client.DefaultConfig().IOBufferSize {
		t.Error("unset field lost its default")
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeFile(t, "client.yaml", `
addr: ws://localhost:8081/
origin: http://localhost
handshake_timeout: 3s
max_message_size: 2097152
no_delay: false
`)
	cfg, err := client.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != "ws://localhost:8081/" || cfg.Origin != "http://localhost" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.HandshakeTimeout != 3*time.Second || cfg.MaxMessageSize != 2<<20 || cfg.NoDelay {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeFile(t, "client.toml", `addr = "ws://file:1/"`)
	t.Setenv("WSCLIENT_ADDR", "ws://env:2/")
	t.Setenv("WSCLIENT_SUBPROTOCOLS", "a, b")
	t.Setenv("WSCLIENT_PING_INTERVAL", "1m")

	cfg, err := client.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != "ws://env:2/" || cfg.PingInterval != time.Minute {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.Subprotocols) != 2 || cfg.Subprotocols[1] != "b" {
		t.Errorf("subprotocols = %q", cfg.Subprotocols)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	env := map[string]string{"WSCLIENT_CLOSE_TIMEOUT": "soon"}
	cfg := client.DefaultConfig()
	err := cfg.ApplyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	var ae *api.Error
	if !errors.As(err, &ae) || ae.Context["variable"] != "WSCLIENT_CLOSE_TIMEOUT" {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := client.LoadConfig(writeFile(t, "client.ini", "")); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("unknown extension: %v", err)
	}
	if _, err := client.LoadConfig(writeFile(t, "bad.toml", "addr = [")); err == nil {
		t.Error("malformed TOML accepted")
	}
	if _, err := client.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*client.Config)
		field  string
	}{
		{"empty addr", func(c *client.Config) { c.Addr = "" }, "addr"},
		{"http addr", func(c *client.Config) { c.Addr = "http://x" }, "addr"},
		{"buffer", func(c *client.Config) { c.IOBufferSize = 0 }, "io_buffer_size"},
		{"message < frame", func(c *client.Config) { c.MaxMessageSize = c.MaxFrameSize - 1 }, "max_message_size"},
		{"negative fragment", func(c *client.Config) { c.FragmentSize = -1 }, "fragment_size"},
		{"close timeout", func(c *client.Config) { c.CloseTimeout = 0 }, "close_timeout"},
		{"negative ping", func(c *client.Config) { c.PingInterval = -time.Second }, "ping_interval"},
		{"header name", func(c *client.Config) { c.Header = map[string]string{"Bad Name": "x"} }, "header"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := client.DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			var ae *api.Error
			if !errors.As(err, &ae) {
				t.Fatalf("err = %v", err)
			}
			if ae.Context["field"] != tt.field {
				t.Errorf("field = %v, want %s", ae.Context["field"], tt.field)
			}
			if !errors.Is(err, api.ErrInvalidArgument) {
				t.Error("error does not match ErrInvalidArgument")
			}
		})
	}
	if err := client.DefaultConfig().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}
