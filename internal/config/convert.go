package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/brainrot"
	"github.com/danmuck/brainrot/internal/relay"
)

const DefaultRelayChannel = relay.DefaultChannel

// Settings is a resolved file: everything the CLI needs to start a client
// and its optional admin server and relay.
type Settings struct {
	Endpoint    brainrot.Endpoint
	Credentials brainrot.Credentials
	Client      brainrot.Config
	AdminAddr   string
	AdminToken  string
	CorsOrigins []string
	Relay       RelaySettings
	LogLevel    string
}

type RelaySettings struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

func (r RelaySettings) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// Settings overlays f on brainrot.DefaultConfig and validates the result.
func (f File) Settings() (Settings, error) {
	cfg := brainrot.DefaultConfig()

	out := Settings{
		Endpoint: brainrot.Endpoint{
			Address: strings.TrimSpace(f.Server.Address),
			TLS: brainrot.TLSConfig{
				Mode:       brainrot.TLSMode(strings.TrimSpace(f.Server.TLS)),
				ServerName: strings.TrimSpace(f.Server.ServerName),
				CAFile:     strings.TrimSpace(f.Server.CAFile),
				CertFile:   strings.TrimSpace(f.Server.CertFile),
				KeyFile:    strings.TrimSpace(f.Server.KeyFile),
			},
		},
		Credentials: brainrot.Credentials{
			Nickname: strings.TrimSpace(f.Identity.Nickname),
			Username: strings.TrimSpace(f.Identity.Username),
			Realname: f.Identity.Realname,
			Password: f.Identity.Password,
		},
		AdminAddr:   strings.TrimSpace(f.Admin.Addr),
		AdminToken:  strings.TrimSpace(f.Admin.Token),
		CorsOrigins: f.Admin.CorsOrigins,
		Relay: RelaySettings{
			Addr:     strings.TrimSpace(f.Relay.RedisAddr),
			Password: f.Relay.Password,
			DB:       f.Relay.DB,
			Channel:  strings.TrimSpace(f.Relay.Channel),
		},
		LogLevel: strings.TrimSpace(f.Log.Level),
	}
	if out.Relay.Enabled() && out.Relay.Channel == "" {
		out.Relay.Channel = DefaultRelayChannel
	}

	cfg.Channels = normalizeChannels(f.Identity.Channels)

	if f.Throttle.Rate != nil {
		cfg.Throttle.Rate = *f.Throttle.Rate
	}
	if f.Throttle.Burst != nil {
		cfg.Throttle.Burst = *f.Throttle.Burst
	}
	if f.Throttle.QueueSize != nil {
		cfg.Throttle.QueueSize = *f.Throttle.QueueSize
	}

	if f.Backoff.MaxAttempts != nil {
		cfg.Backoff.MaxAttempts = *f.Backoff.MaxAttempts
	}
	if f.Backoff.Jitter != nil {
		cfg.Backoff.Jitter = *f.Backoff.Jitter
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"backoff.base", f.Backoff.Base, &cfg.Backoff.Base},
		{"backoff.cap", f.Backoff.Cap, &cfg.Backoff.Cap},
		{"keepalive.ping_interval", f.Keepalive.PingInterval, &cfg.PingInterval},
		{"keepalive.read_timeout", f.Keepalive.ReadTimeout, &cfg.ReadTimeout},
		{"keepalive.connect_timeout", f.Keepalive.ConnectTimeout, &cfg.ConnectTimeout},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Settings{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	out.Client = cfg.WithDefaults()
	if err := out.Client.Validate(); err != nil {
		return Settings{}, err
	}
	if err := out.Credentials.Validate(); err != nil {
		return Settings{}, err
	}
	if out.Endpoint.Address == "" {
		return Settings{}, fmt.Errorf("config missing server.address")
	}
	return out, nil
}

func normalizeChannels(in []string) []string {
	out := make([]string, 0, len(in))
	for _, ch := range in {
		v := strings.TrimSpace(ch)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
