package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/sorcix/irc.v2"
)

var (
	ErrTransport   = errors.New("transport: i/o failure")
	ErrLineTooLong = errors.New("transport: line too long")
	ErrClosed      = errors.New("transport: closed")
)

// Conn is the transport handle: a line-oriented view over one TCP or TLS
// stream. It knows about CRLF delimiting and nothing else of the protocol.
type Conn struct {
	conn    net.Conn
	reader  *bufio.Reader
	encoder *irc.Encoder
	cfg     Config

	readMu    sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Dial establishes the stream described by cfg, performing the TLS
// handshake when enabled.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, cfg.Address, err)
	}
	if NormalizeTLSMode(cfg.TLS.Mode) == TLSModeOff {
		return NewConn(rawConn, cfg), nil
	}

	tlsCfg, err := clientTLSConfig(cfg)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, fmt.Errorf("%w: tls handshake %s: %w", ErrTransport, cfg.Address, err)
	}
	return NewConn(conn, cfg), nil
}

// NewConn wraps an established stream.
func NewConn(conn net.Conn, cfg Config) *Conn {
	cfg = cfg.WithDefaults()
	return &Conn{
		conn:    conn,
		reader:  bufio.NewReaderSize(conn, cfg.MaxLineBytes),
		encoder: irc.NewEncoder(conn),
		cfg:     cfg,
		closed:  make(chan struct{}),
	}
}

// ReadLine blocks until one full line arrives and returns it without the
// CR/LF delimiter. Oversized lines are discarded and reported with
// ErrLineTooLong, which callers treat like any other malformed line.
func (c *Conn) ReadLine() (string, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.cfg.ReadTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return "", c.wrap("read", err)
		}
	}

	line, err := c.reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = c.reader.ReadSlice('\n')
		}
		if err != nil {
			return "", c.wrap("read", err)
		}
		return "", ErrLineTooLong
	}
	if err != nil {
		return "", c.wrap("read", err)
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

// WriteLine writes one serialized line followed by CRLF.
func (c *Conn) WriteLine(line []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	if c.cfg.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			return c.wrap("write", err)
		}
	}
	if _, err := c.encoder.Write(line); err != nil {
		return c.wrap("write", err)
	}
	return nil
}

// Close closes the stream; a blocked ReadLine returns with an error.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) wrap(op string, err error) error {
	select {
	case <-c.closed:
		return fmt.Errorf("%w: %s: %w", ErrTransport, op, ErrClosed)
	default:
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

func clientTLSConfig(cfg Config) (*tls.Config, error) {
	out := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: NormalizeTLSMode(cfg.TLS.Mode) == TLSModeInsecure,
	}

	serverName := strings.TrimSpace(cfg.TLS.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(cfg.Address)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	out.ServerName = serverName

	if caPath := strings.TrimSpace(cfg.TLS.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("transport: parse tls ca bundle: %s", caPath)
		}
		out.RootCAs = pool
	}

	if strings.TrimSpace(cfg.TLS.CertFile) != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}
