package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TLSMode selects how the transport negotiates TLS.
type TLSMode string

const (
	TLSModeOff      TLSMode = "off"
	TLSModeOn       TLSMode = "on"
	TLSModeInsecure TLSMode = "insecure"
)

var (
	ErrAddressRequired     = errors.New("transport: address required")
	ErrInvalidTLSMode      = errors.New("transport: invalid tls mode")
	ErrTLSCertFileRequired = errors.New("transport: tls cert file required")
	ErrTLSKeyFileRequired  = errors.New("transport: tls key file required")
)

// TLSConfig configures the TLS client side of the transport.
type TLSConfig struct {
	Mode       TLSMode
	ServerName string
	CAFile     string
	CertFile   string
	KeyFile    string
}

// Config defines dial and I/O limits for one transport handle.
type Config struct {
	Address          string
	TLS              TLSConfig
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxLineBytes     int
}

// DefaultConfig returns transport defaults for public IRC networks.
func DefaultConfig() Config {
	return Config{
		TLS:              TLSConfig{Mode: TLSModeOn},
		ConnectTimeout:   10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      5 * time.Minute,
		WriteTimeout:     15 * time.Second,
		MaxLineBytes:     8192 + 512,
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(string(c.TLS.Mode)) == "" {
		c.TLS.Mode = d.TLS.Mode
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
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = d.MaxLineBytes
	}
	return c
}

func NormalizeTLSMode(mode TLSMode) TLSMode {
	switch strings.ToLower(strings.TrimSpace(string(mode))) {
	case "":
		return TLSModeOn
	case "false", "disabled", "plain":
		return TLSModeOff
	case "true", "enabled":
		return TLSModeOn
	default:
		return TLSMode(strings.ToLower(strings.TrimSpace(string(mode))))
	}
}

// Validate checks the client transport settings before dialing.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return ErrAddressRequired
	}
	switch NormalizeTLSMode(c.TLS.Mode) {
	case TLSModeOff, TLSModeOn, TLSModeInsecure:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTLSMode, c.TLS.Mode)
	}
	cert := strings.TrimSpace(c.TLS.CertFile)
	key := strings.TrimSpace(c.TLS.KeyFile)
	if cert != "" && key == "" {
		return ErrTLSKeyFileRequired
	}
	if key != "" && cert == "" {
		return ErrTLSCertFileRequired
	}
	return nil
}
