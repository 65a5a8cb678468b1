package brainrot

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/brainrot/internal/protocol/bus"
	"github.com/danmuck/brainrot/internal/protocol/session"
	"github.com/danmuck/brainrot/internal/protocol/throttle"
	"github.com/danmuck/brainrot/internal/protocol/transport"
)

// Endpoint is the IRC server to connect to.
type Endpoint struct {
	Address string
	TLS     TLSConfig
}

// Credentials identify the client to the server. Username and Realname
// default to Nickname.
type Credentials struct {
	Nickname string
	Username string
	Realname string
	Password string
}

// Config holds session behavior independent of the endpoint.
type Config struct {
	// Channels are joined, in order, every time registration completes.
	Channels []string
	Throttle ThrottleConfig
	Backoff  BackoffConfig

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// ReadTimeout ends a session when the server stays silent this long.
	ReadTimeout time.Duration
	// PingInterval is how often a Ready session probes the server.
	PingInterval time.Duration
	// EventBuffer is the per-consumer queue length.
	EventBuffer int
}

func DefaultConfig() Config {
	tc := transport.DefaultConfig()
	return Config{
		Throttle:         throttle.DefaultConfig(),
		Backoff:          DefaultBackoffConfig(),
		ConnectTimeout:   tc.ConnectTimeout,
		HandshakeTimeout: tc.HandshakeTimeout,
		WriteTimeout:     tc.WriteTimeout,
		ReadTimeout:      4 * time.Minute,
		PingInterval:     90 * time.Second,
		EventBuffer:      bus.DefaultBuffer,
	}
}

// WithDefaults fills zero values from DefaultConfig. Backoff.Jitter and
// Backoff.MaxAttempts are taken as given.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Throttle == (ThrottleConfig{}) {
		c.Throttle = d.Throttle
	}
	c.Throttle = c.Throttle.WithDefaults()
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = d.Backoff.Base
	}
	if c.Backoff.Cap <= 0 {
		c.Backoff.Cap = d.Backoff.Cap
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}

func (c Config) Validate() error {
	if err := c.Throttle.Validate(); err != nil {
		return err
	}
	if c.Backoff.Base < 0 || c.Backoff.Cap < 0 {
		return fmt.Errorf("%w: backoff durations must not be negative", ErrInvalidConfig)
	}
	if c.Backoff.Cap > 0 && c.Backoff.Cap < c.Backoff.Base {
		return fmt.Errorf("%w: backoff cap %s below base %s", ErrInvalidConfig, c.Backoff.Cap, c.Backoff.Base)
	}
	if c.Backoff.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts %d must not be negative", ErrInvalidConfig, c.Backoff.MaxAttempts)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("%w: read timeout must not be negative", ErrInvalidConfig)
	}
	for _, ch := range c.Channels {
		if strings.ContainsAny(ch, " ,\r\n\x00\a") {
			return fmt.Errorf("%w: channel %q", ErrInvalidConfig, ch)
		}
	}
	return nil
}

func (cr Credentials) Validate() error {
	nick := strings.TrimSpace(cr.Nickname)
	if nick == "" {
		return ErrNicknameRequired
	}
	if strings.ContainsAny(nick, " ,*?!@:\r\n\x00") || strings.HasPrefix(nick, "#") {
		return fmt.Errorf("%w: nickname %q", ErrInvalidConfig, cr.Nickname)
	}
	if strings.ContainsAny(cr.Username, " @\r\n\x00") {
		return fmt.Errorf("%w: username %q", ErrInvalidConfig, cr.Username)
	}
	return nil
}

func (c Config) transportConfig(ep Endpoint) transport.Config {
	return transport.Config{
		Address:          ep.Address,
		TLS:              ep.TLS,
		ConnectTimeout:   c.ConnectTimeout,
		HandshakeTimeout: c.HandshakeTimeout,
		ReadTimeout:      c.ReadTimeout,
		WriteTimeout:     c.WriteTimeout,
	}.WithDefaults()
}

func (cr Credentials) identity(channels []string) session.Identity {
	return session.Identity{
		Nickname: strings.TrimSpace(cr.Nickname),
		Username: strings.TrimSpace(cr.Username),
		Realname: cr.Realname,
		Password: cr.Password,
		Channels: append([]string(nil), channels...),
	}
}
