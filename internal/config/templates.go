package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a starter config in the given format.
func Template(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "toml":
		return tomlTemplate, nil
	case "yaml", "yml":
		return yamlTemplate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func WriteTemplate(path, format string, overwrite bool) error {
	template, err := Template(format)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const tomlTemplate = `[server]
address = "irc.libera.chat:6697"
tls = "on"

[identity]
nickname = "rotbot"
realname = "brainrot"
channels = ["#brainrot"]

[throttle]
rate = 0.5
burst = 4

[backoff]
base = "1s"
cap = "2m"
max_attempts = 10

[keepalive]
ping_interval = "90s"
read_timeout = "4m"

[admin]
addr = "127.0.0.1:9180"
token = ""

[relay]
redis_addr = ""
channel = "brainrot.events"

[log]
level = "info"
`

const yamlTemplate = `server:
  address: irc.libera.chat:6697
  tls: "on"
identity:
  nickname: rotbot
  realname: brainrot
  channels: ["#brainrot"]
throttle:
  rate: 0.5
  burst: 4
backoff:
  base: 1s
  cap: 2m
  max_attempts: 10
keepalive:
  ping_interval: 90s
  read_timeout: 4m
admin:
  addr: 127.0.0.1:9180
  token: ""
relay:
  redis_addr: ""
  channel: brainrot.events
log:
  level: info
`
