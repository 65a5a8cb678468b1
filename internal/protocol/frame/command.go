package frame

import (
	"fmt"
	"strings"
)

// textParamIndex marks verbs whose parameter at the given index is free text
// and is always sent as the trailing parameter.
var textParamIndex = map[string]int{
	"PRIVMSG": 1,
	"NOTICE":  1,
	"PART":    1,
	"QUIT":    0,
	"KICK":    2,
	"TOPIC":   1,
	"USER":    3,
	"AWAY":    0,
}

// Command is one outbound command submitted by a consumer. Commands are
// queued as values and never mutated.
type Command struct {
	Verb   string   `json:"verb"`
	Params []string `json:"params,omitempty"`
}

// Frame converts c into its wire frame, moving the last parameter into the
// trailing slot when the grammar or the verb requires it.
func (c Command) Frame() Frame {
	verb := strings.ToUpper(strings.TrimSpace(c.Verb))
	f := Frame{Command: verb}
	if len(c.Params) == 0 {
		return f
	}
	last := c.Params[len(c.Params)-1]
	idx, isText := textParamIndex[verb]
	if needsTrailing(last) || (isText && idx == len(c.Params)-1) {
		if len(c.Params) > 1 {
			f.Params = append([]string(nil), c.Params[:len(c.Params)-1]...)
		}
		f.Trailing = last
		f.HasTrailing = true
		return f
	}
	f.Params = append([]string(nil), c.Params...)
	return f
}

// Encode serializes c without the CRLF delimiter. Unlike Encode for frames,
// an oversized command is an error rather than being cut short.
func (c Command) Encode() ([]byte, error) {
	if strings.TrimSpace(c.Verb) == "" {
		return nil, ErrEmptyCommand
	}
	if len(c.Params) > MaxParams {
		return nil, fmt.Errorf("%w: %d params exceeds %d", ErrInvalidParam, len(c.Params), MaxParams)
	}
	line, err := encodeBody(c.Frame())
	if err != nil {
		return nil, err
	}
	if len(line) > MaxLineLength {
		return nil, fmt.Errorf("%w: %s line is %d bytes, limit %d", ErrInvalidParam, strings.ToUpper(strings.TrimSpace(c.Verb)), len(line), MaxLineLength)
	}
	return line, nil
}

func (c Command) String() string {
	b, err := c.Encode()
	if err != nil {
		return c.Verb
	}
	return string(b)
}

func needsTrailing(p string) bool {
	return p == "" || p[0] == ':' || strings.Contains(p, " ")
}

func Raw(verb string, params ...string) Command {
	return Command{Verb: verb, Params: params}
}

func Pass(password string) Command {
	return Command{Verb: "PASS", Params: []string{password}}
}

func Nick(nickname string) Command {
	return Command{Verb: "NICK", Params: []string{nickname}}
}

// User builds the registration USER command with the RFC 2812 mode/unused fields.
func User(username, realname string) Command {
	return Command{Verb: "USER", Params: []string{username, "0", "*", realname}}
}

func Join(channel string) Command {
	return Command{Verb: "JOIN", Params: []string{channel}}
}

func Part(channel, reason string) Command {
	if reason == "" {
		return Command{Verb: "PART", Params: []string{channel}}
	}
	return Command{Verb: "PART", Params: []string{channel, reason}}
}

func Privmsg(target, text string) Command {
	return Command{Verb: "PRIVMSG", Params: []string{target, text}}
}

func Notice(target, text string) Command {
	return Command{Verb: "NOTICE", Params: []string{target, text}}
}

func Quit(reason string) Command {
	return Command{Verb: "QUIT", Params: []string{reason}}
}

func Ping(token string) Command {
	return Command{Verb: "PING", Params: []string{token}}
}

func Pong(args ...string) Command {
	return Command{Verb: "PONG", Params: args}
}
