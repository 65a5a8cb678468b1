// Package ircd is a scripted in-process IRC server for tests.
package ircd

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

const ServerName = "irc.test"

type Server struct {
	t     testing.TB
	ln    net.Listener
	peers chan *Peer

	mu       sync.Mutex
	accepted []*Peer
	once     sync.Once
}

// Start listens on a loopback port. A non-nil tlsCfg serves TLS.
func Start(t testing.TB, tlsCfg *tls.Config) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ircd listen: %v", err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	s := &Server{t: t, ln: ln, peers: make(chan *Peer, 16)}
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		if tc, ok := conn.(*tls.Conn); ok {
			_ = tc.SetDeadline(time.Now().Add(5 * time.Second))
			if err := tc.Handshake(); err != nil {
				_ = tc.Close()
				continue
			}
			_ = tc.SetDeadline(time.Time{})
		}
		p := &Peer{conn: conn, reader: bufio.NewReader(conn)}
		s.mu.Lock()
		s.accepted = append(s.accepted, p)
		s.mu.Unlock()
		s.peers <- p
	}
}

// Accept returns the next client connection or fails the test after timeout.
func (s *Server) Accept(timeout time.Duration) *Peer {
	s.t.Helper()
	select {
	case p := <-s.peers:
		return p
	case <-time.After(timeout):
		s.t.Fatalf("ircd: no connection within %v", timeout)
		return nil
	}
}

// TryAccept reports whether a client connected within timeout.
func (s *Server) TryAccept(timeout time.Duration) (*Peer, bool) {
	select {
	case p := <-s.peers:
		return p, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Close stops listening and drops every accepted connection.
func (s *Server) Close() {
	s.once.Do(func() {
		_ = s.ln.Close()
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, p := range s.accepted {
			_ = p.Close()
		}
	})
}

// Peer is the server side of one client connection.
type Peer struct {
	conn   net.Conn
	reader *bufio.Reader
	wmu    sync.Mutex
}

// ReadLine returns the next client line without CRLF.
func (p *Peer) ReadLine(timeout time.Duration) (string, error) {
	_ = p.conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := p.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Expect reads lines until one starts with verb, failing the test on timeout.
func (p *Peer) Expect(t testing.TB, verb string, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("ircd: timed out waiting for %s", verb)
		}
		line, err := p.ReadLine(remaining)
		if err != nil {
			t.Fatalf("ircd: waiting for %s: %v", verb, err)
		}
		if line == verb || strings.HasPrefix(line, verb+" ") {
			return line
		}
	}
}

// Send writes raw lines, appending CRLF to each.
func (p *Peer) Send(lines ...string) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	for _, line := range lines {
		if _, err := fmt.Fprintf(p.conn, "%s\r\n", line); err != nil {
			return err
		}
	}
	return nil
}

// Welcome consumes the client's NICK/USER registration and replies with 001
// and a minimal ISUPPORT line.
func (p *Peer) Welcome(t testing.TB, timeout time.Duration) string {
	t.Helper()
	nickLine := p.Expect(t, "NICK", timeout)
	nick := strings.TrimSpace(strings.TrimPrefix(nickLine, "NICK"))
	p.Expect(t, "USER", timeout)
	err := p.Send(
		fmt.Sprintf(":%s 001 %s :Welcome to the test network %s", ServerName, nick, nick),
		fmt.Sprintf(":%s 005 %s CHANTYPES=# PREFIX=(ov)@+ NETWORK=TestNet :are supported by this server", ServerName, nick),
	)
	if err != nil {
		t.Fatalf("ircd: welcome: %v", err)
	}
	return nick
}

func (p *Peer) Close() error {
	return p.conn.Close()
}
