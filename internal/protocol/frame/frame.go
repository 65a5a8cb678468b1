package frame

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"gopkg.in/sorcix/irc.v2"
)

const (
	// MaxLineLength is the RFC 1459 limit for everything after the tags,
	// without the trailing CRLF.
	MaxLineLength = 510
	// MaxTagsLength is the IRCv3 limit for the tag section, '@' and the
	// separating space included.
	MaxTagsLength = 8191
	// MaxParams is the protocol limit on parameters per message, trailing included.
	MaxParams = 15
)

var (
	ErrParse        = errors.New("frame: parse error")
	ErrInvalidParam = errors.New("frame: invalid parameter")
	ErrEmptyCommand = errors.New("frame: empty command")
)

// ParseError reports one raw line that does not conform to the line grammar.
// It is recoverable: callers drop the line and keep reading.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("frame: %s: %q", e.Reason, e.Line)
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}

// Prefix is the sender identity of a frame.
type Prefix struct {
	Name string `json:"name"`
	User string `json:"user,omitempty"`
	Host string `json:"host,omitempty"`
}

func (p Prefix) String() string {
	return (&irc.Prefix{Name: p.Name, User: p.User, Host: p.Host}).String()
}

// Frame is one decoded protocol line. Frames are values and are never mutated after Decode.
type Frame struct {
	Tags        map[string]string `json:"tags,omitempty"`
	Prefix      *Prefix           `json:"prefix,omitempty"`
	Command     string            `json:"command"`
	Params      []string          `json:"params,omitempty"`
	Trailing    string            `json:"trailing,omitempty"`
	HasTrailing bool              `json:"has_trailing,omitempty"`
}

// Source returns the sender name, or "" when the frame has no prefix.
func (f Frame) Source() string {
	if f.Prefix == nil {
		return ""
	}
	return f.Prefix.Name
}

// Args returns middle params followed by the trailing param, if any.
func (f Frame) Args() []string {
	out := make([]string, 0, len(f.Params)+1)
	out = append(out, f.Params...)
	if f.HasTrailing {
		out = append(out, f.Trailing)
	}
	return out
}

// Arg returns logical parameter i (trailing included) or "".
func (f Frame) Arg(i int) string {
	args := f.Args()
	if i < 0 || i >= len(args) {
		return ""
	}
	return args[i]
}

// Last returns the final logical parameter or "".
func (f Frame) Last() string {
	if f.HasTrailing {
		return f.Trailing
	}
	if len(f.Params) == 0 {
		return ""
	}
	return f.Params[len(f.Params)-1]
}

func (f Frame) String() string {
	b, err := Encode(f)
	if err != nil {
		return fmt.Sprintf("%s %v", f.Command, f.Args())
	}
	return string(b)
}

// Decode converts one delimiter-stripped line into a Frame.
// Lexing is delegated to sorcix/irc; Decode adds tag handling, trailing
// detection and the grammar checks the lexer does not perform.
func Decode(line string) (Frame, error) {
	raw := strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(raw) == "" {
		return Frame{}, &ParseError{Line: line, Reason: "empty line"}
	}

	var tags map[string]string
	if raw[0] == '@' {
		sp := strings.IndexByte(raw, ' ')
		if sp < 2 {
			return Frame{}, &ParseError{Line: line, Reason: "malformed tags"}
		}
		tags = parseTags(raw[1:sp])
		raw = strings.TrimLeft(raw[sp+1:], " ")
		if raw == "" {
			return Frame{}, &ParseError{Line: line, Reason: "missing command"}
		}
	}

	rest := raw
	if raw[0] == ':' {
		sp := strings.IndexByte(raw, ' ')
		if sp < 2 {
			return Frame{}, &ParseError{Line: line, Reason: "malformed prefix"}
		}
		rest = strings.TrimLeft(raw[sp+1:], " ")
		if rest == "" {
			return Frame{}, &ParseError{Line: line, Reason: "missing command"}
		}
		raw = raw[:sp+1] + rest
	}

	msg := irc.ParseMessage(raw)
	if msg == nil {
		return Frame{}, &ParseError{Line: line, Reason: "unparseable line"}
	}
	if msg.Command == "" {
		return Frame{}, &ParseError{Line: line, Reason: "missing command"}
	}
	if !validCommand(msg.Command) {
		return Frame{}, &ParseError{Line: line, Reason: "invalid command token"}
	}

	// Same rule the lexer applies: the first " :" after the command starts the trailing param.
	hasTrailing := false
	if sp := strings.IndexByte(rest, ' '); sp >= 0 {
		hasTrailing = strings.Contains(rest[sp:], " :")
	}

	params := msg.Params
	trailing := ""
	if hasTrailing && len(params) > 0 {
		trailing = params[len(params)-1]
		params = params[:len(params)-1]
	}
	middle := make([]string, 0, len(params))
	for _, p := range params {
		if p == "" {
			continue
		}
		middle = append(middle, p)
	}
	count := len(middle)
	if hasTrailing {
		count++
	}
	if count > MaxParams {
		return Frame{}, &ParseError{Line: line, Reason: "too many parameters"}
	}

	f := Frame{
		Tags:        tags,
		Command:     msg.Command,
		Trailing:    trailing,
		HasTrailing: hasTrailing,
	}
	if len(middle) > 0 {
		f.Params = middle
	}
	if msg.Prefix != nil {
		f.Prefix = &Prefix{Name: msg.Prefix.Name, User: msg.Prefix.User, Host: msg.Prefix.Host}
	}
	return f, nil
}

// Encode serializes f without the CRLF delimiter. A body (prefix, command
// and params) longer than MaxLineLength is cut at a rune boundary, matching
// what servers do to oversized lines. Tags have their own MaxTagsLength budget.
func Encode(f Frame) ([]byte, error) {
	body, err := encodeBody(f)
	if err != nil {
		return nil, err
	}
	body = truncateRunes(body, MaxLineLength)
	if len(f.Tags) == 0 {
		return body, nil
	}
	tags := "@" + encodeTags(f.Tags) + " "
	if len(tags) > MaxTagsLength {
		return nil, fmt.Errorf("%w: tags are %d bytes, limit %d", ErrInvalidParam, len(tags), MaxTagsLength)
	}
	return append([]byte(tags), body...), nil
}

func encodeBody(f Frame) ([]byte, error) {
	if strings.TrimSpace(f.Command) == "" {
		return nil, ErrEmptyCommand
	}
	if !validCommand(strings.ToUpper(f.Command)) {
		return nil, fmt.Errorf("%w: command %q", ErrInvalidParam, f.Command)
	}

	var buf bytes.Buffer
	if f.Prefix != nil && f.Prefix.Name != "" {
		if strings.ContainsAny(f.Prefix.String(), " \r\n\x00") {
			return nil, fmt.Errorf("%w: prefix %q", ErrInvalidParam, f.Prefix.String())
		}
		buf.WriteByte(':')
		buf.WriteString(f.Prefix.String())
		buf.WriteByte(' ')
	}
	buf.WriteString(strings.ToUpper(f.Command))

	for i, p := range f.Params {
		if p == "" || p[0] == ':' || strings.ContainsAny(p, " \r\n\x00") {
			return nil, fmt.Errorf("%w: param[%d]=%q", ErrInvalidParam, i, p)
		}
		buf.WriteByte(' ')
		buf.WriteString(p)
	}
	if f.HasTrailing {
		if strings.ContainsAny(f.Trailing, "\r\n\x00") {
			return nil, fmt.Errorf("%w: trailing %q", ErrInvalidParam, f.Trailing)
		}
		buf.WriteString(" :")
		buf.WriteString(f.Trailing)
	}
	return buf.Bytes(), nil
}

// truncateRunes cuts b to at most n bytes without splitting a UTF-8 sequence.
func truncateRunes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return b[:cut]
}

func validCommand(cmd string) bool {
	if cmd == "" {
		return false
	}
	if len(cmd) == 3 && isDigit(cmd[0]) && isDigit(cmd[1]) && isDigit(cmd[2]) {
		return true
	}
	for i := 0; i < len(cmd); i++ {
		c := cmd[i]
		if (c < 'A' || c > 'Z') && (c < 'a' || c > 'z') {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
