package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnsupportedFormat = errors.New("config: unsupported format")
	ErrUnknownKeys       = errors.New("config: unknown keys")
)

// File is the on-disk layout. Pointer fields distinguish "absent" from a zero
// value so defaults survive partial files.
type File struct {
	Server    ServerSection    `toml:"server" yaml:"server"`
	Identity  IdentitySection  `toml:"identity" yaml:"identity"`
	Throttle  ThrottleSection  `toml:"throttle" yaml:"throttle"`
	Backoff   BackoffSection   `toml:"backoff" yaml:"backoff"`
	Keepalive KeepaliveSection `toml:"keepalive" yaml:"keepalive"`
	Admin     AdminSection     `toml:"admin" yaml:"admin"`
	Relay     RelaySection     `toml:"relay" yaml:"relay"`
	Log       LogSection       `toml:"log" yaml:"log"`
}

type ServerSection struct {
	Address    string `toml:"address" yaml:"address"`
	TLS        string `toml:"tls" yaml:"tls"`
	ServerName string `toml:"server_name" yaml:"server_name"`
	CAFile     string `toml:"ca_file" yaml:"ca_file"`
	CertFile   string `toml:"cert_file" yaml:"cert_file"`
	KeyFile    string `toml:"key_file" yaml:"key_file"`
}

type IdentitySection struct {
	Nickname string   `toml:"nickname" yaml:"nickname"`
	Username string   `toml:"username" yaml:"username"`
	Realname string   `toml:"realname" yaml:"realname"`
	Password string   `toml:"password" yaml:"password"`
	Channels []string `toml:"channels" yaml:"channels"`
}

type ThrottleSection struct {
	Rate      *float64 `toml:"rate" yaml:"rate"`
	Burst     *int     `toml:"burst" yaml:"burst"`
	QueueSize *int     `toml:"queue_size" yaml:"queue_size"`
}

type BackoffSection struct {
	Base        string `toml:"base" yaml:"base"`
	Cap         string `toml:"cap" yaml:"cap"`
	MaxAttempts *int   `toml:"max_attempts" yaml:"max_attempts"`
	Jitter      *bool  `toml:"jitter" yaml:"jitter"`
}

type KeepaliveSection struct {
	PingInterval   string `toml:"ping_interval" yaml:"ping_interval"`
	ReadTimeout    string `toml:"read_timeout" yaml:"read_timeout"`
	ConnectTimeout string `toml:"connect_timeout" yaml:"connect_timeout"`
}

type AdminSection struct {
	Addr        string   `toml:"addr" yaml:"addr"`
	Token       string   `toml:"token" yaml:"token"`
	CorsOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
}

type RelaySection struct {
	RedisAddr string `toml:"redis_addr" yaml:"redis_addr"`
	Password  string `toml:"password" yaml:"password"`
	DB        int    `toml:"db" yaml:"db"`
	Channel   string `toml:"channel" yaml:"channel"`
}

type LogSection struct {
	Level string `toml:"level" yaml:"level"`
}

// Load reads a .toml, .yaml or .yml file and resolves it against defaults.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	raw, err := Parse(data, format)
	if err != nil {
		return Settings{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return raw.Settings()
}

// Parse decodes data in the given format ("toml", "yaml" or "yml"),
// rejecting keys it does not know.
func Parse(data []byte, format string) (File, error) {
	var raw File
	switch format {
	case "toml":
		meta, err := toml.Decode(string(data), &raw)
		if err != nil {
			return File{}, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return File{}, fmt.Errorf("%w: %s", ErrUnknownKeys, strings.Join(keys, ", "))
		}
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			if strings.Contains(err.Error(), "not found in type") {
				return File{}, fmt.Errorf("%w: %v", ErrUnknownKeys, err)
			}
			return File{}, err
		}
	default:
		return File{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return raw, nil
}
