// File: client/config.go
// Package client: configuration loading and validation.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Config may come from DefaultConfig, a TOML or YAML file, and WSCLIENT_*
// environment variables, applied in that order.

package client

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/momentics/wsclient/api"
	"github.com/momentics/wsclient/protocol"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WSCLIENT_"

// Config holds client parameters.
type Config struct {
	Addr             string            `toml:"addr" yaml:"addr"`                           // ws://host:port/path
	Subprotocols     []string          `toml:"subprotocols" yaml:"subprotocols"`           // offered in preference order
	Origin           string            `toml:"origin" yaml:"origin"`                       // optional Origin header
	Header           map[string]string `toml:"header" yaml:"header"`                       // extra request headers
	IOBufferSize     int               `toml:"io_buffer_size" yaml:"io_buffer_size"`       // bytes per transport read
	MaxFrameSize     int64             `toml:"max_frame_size" yaml:"max_frame_size"`       // inbound frame payload limit
	MaxMessageSize   int64             `toml:"max_message_size" yaml:"max_message_size"`   // reassembled message limit
	FragmentSize     int               `toml:"fragment_size" yaml:"fragment_size"`         // outbound fragment size, 0 = never fragment
	HandshakeTimeout time.Duration     `toml:"handshake_timeout" yaml:"handshake_timeout"` // 0 = bounded by ctx only
	CloseTimeout     time.Duration     `toml:"close_timeout" yaml:"close_timeout"`         // wait for the peer's close frame
	WriteTimeout     time.Duration     `toml:"write_timeout" yaml:"write_timeout"`         // per-send deadline, 0 = disabled
	PingInterval     time.Duration     `toml:"ping_interval" yaml:"ping_interval"`         // heartbeat, 0 = disabled
	NoDelay          bool              `toml:"no_delay" yaml:"no_delay"`                   // TCP_NODELAY on dialed sockets
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:             "ws://localhost:8080",
		IOBufferSize:     64 * 1024,
		MaxFrameSize:     protocol.MaxFramePayload,
		MaxMessageSize:   protocol.DefaultMaxMessageSize,
		FragmentSize:     protocol.DefaultFragmentSize,
		HandshakeTimeout: 5 * time.Second,
		CloseTimeout:     protocol.DefaultCloseTimeout,
		WriteTimeout:     5 * time.Second,
		NoDelay:          true,
	}
}

// LoadConfig reads path over the defaults, applies environment overrides
// and validates the result. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return api.NewError(api.ErrCodeInvalidArgument, "unsupported config format").
			WithContext("path", path)
	}
	return nil
}

// ApplyEnv overrides fields from WSCLIENT_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	var firstErr error
	parse := func(name string, set func(string) error) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" || firstErr != nil {
			return
		}
		if err := set(v); err != nil {
			firstErr = api.NewError(api.ErrCodeInvalidArgument, "invalid environment override").
				WithContext("variable", EnvPrefix+name).
				WithContext("error", err.Error())
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(v string) (err error) {
			*dst, err = time.ParseDuration(v)
			return err
		}
	}

	str("ADDR", &c.Addr)
	str("ORIGIN", &c.Origin)
	if v, ok := lookup(EnvPrefix + "SUBPROTOCOLS"); ok && v != "" {
		c.Subprotocols = c.Subprotocols[:0]
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.Subprotocols = append(c.Subprotocols, p)
			}
		}
	}
	parse("IO_BUFFER_SIZE", func(v string) (err error) { c.IOBufferSize, err = strconv.Atoi(v); return })
	parse("MAX_FRAME_SIZE", func(v string) (err error) { c.MaxFrameSize, err = strconv.ParseInt(v, 10, 64); return })
	parse("MAX_MESSAGE_SIZE", func(v string) (err error) { c.MaxMessageSize, err = strconv.ParseInt(v, 10, 64); return })
	parse("FRAGMENT_SIZE", func(v string) (err error) { c.FragmentSize, err = strconv.Atoi(v); return })
	parse("HANDSHAKE_TIMEOUT", duration(&c.HandshakeTimeout))
	parse("CLOSE_TIMEOUT", duration(&c.CloseTimeout))
	parse("WRITE_TIMEOUT", duration(&c.WriteTimeout))
	parse("PING_INTERVAL", duration(&c.PingInterval))
	parse("NO_DELAY", func(v string) (err error) { c.NoDelay, err = strconv.ParseBool(v); return })
	return firstErr
}

// Validate checks ranges and returns *api.Error describing the first problem.
func (c *Config) Validate() error {
	invalid := func(field string, value any, msg string) error {
		return api.NewError(api.ErrCodeInvalidArgument, msg).
			WithContext("field", field).
			WithContext("value", value)
	}
	if c.Addr == "" {
		return invalid("addr", c.Addr, "address is required")
	}
	if !strings.HasPrefix(c.Addr, "ws://") && !strings.HasPrefix(c.Addr, "wss://") {
		return invalid("addr", c.Addr, "address must use the ws:// or wss:// scheme")
	}
	if c.IOBufferSize <= 0 {
		return invalid("io_buffer_size", c.IOBufferSize, "must be positive")
	}
	if c.MaxFrameSize <= 0 {
		return invalid("max_frame_size", c.MaxFrameSize, "must be positive")
	}
	if c.MaxMessageSize < c.MaxFrameSize {
		return invalid("max_message_size", c.MaxMessageSize, "must be at least max_frame_size")
	}
	if c.FragmentSize < 0 {
		return invalid("fragment_size", c.FragmentSize, "must not be negative")
	}
	if c.CloseTimeout <= 0 {
		return invalid("close_timeout", c.CloseTimeout, "must be positive")
	}
	for name, d := range map[string]time.Duration{
		"handshake_timeout": c.HandshakeTimeout,
		"write_timeout":     c.WriteTimeout,
		"ping_interval":     c.PingInterval,
	} {
		if d < 0 {
			return invalid(name, d, "must not be negative")
		}
	}
	for k := range c.Header {
		if k == "" || strings.ContainsAny(k, " :\r\n") {
			return invalid("header", k, "invalid header name")
		}
	}
	return nil
}

// requestOptions converts the handshake-related fields.
func (c *Config) requestOptions() protocol.RequestOptions {
	var h http.Header
	if len(c.Header) > 0 {
		h = make(http.Header, len(c.Header))
		for k, v := range c.Header {
			h.Set(k, v)
		}
	}
	return protocol.RequestOptions{
		Subprotocols: c.Subprotocols,
		Origin:       c.Origin,
		Header:       h,
	}
}

// connConfig converts the state machine fields.
func (c *Config) connConfig() protocol.ConnConfig {
	return protocol.ConnConfig{
		MaxFrameSize:   c.MaxFrameSize,
		MaxMessageSize: c.MaxMessageSize,
		FragmentSize:   c.FragmentSize,
		CloseTimeout:   c.CloseTimeout,
	}
}
