package transport

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/brainrot/internal/testutil/ircd"
	"github.com/danmuck/brainrot/internal/testutil/testlog"
	"github.com/danmuck/brainrot/internal/testutil/tlstest"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	testlog.Start(t)
	require.ErrorIs(t, Config{}.Validate(), ErrAddressRequired)
	require.ErrorIs(t, Config{Address: "a:1", TLS: TLSConfig{Mode: "maybe"}}.Validate(), ErrInvalidTLSMode)
	require.ErrorIs(t, Config{Address: "a:1", TLS: TLSConfig{CertFile: "c.pem"}}.Validate(), ErrTLSKeyFileRequired)
	require.ErrorIs(t, Config{Address: "a:1", TLS: TLSConfig{KeyFile: "k.pem"}}.Validate(), ErrTLSCertFileRequired)
	require.NoError(t, Config{Address: "a:1", TLS: TLSConfig{Mode: "OFF"}}.Validate())
	require.Equal(t, TLSModeOff, NormalizeTLSMode("plain"))
	require.Equal(t, TLSModeOn, NormalizeTLSMode(""))
}

func TestPlainDialReadWrite(t *testing.T) {
	testlog.Start(t)
	srv := ircd.Start(t, nil)

	conn, err := Dial(context.Background(), Config{Address: srv.Addr(), TLS: TLSConfig{Mode: TLSModeOff}})
	require.NoError(t, err)
	defer conn.Close()
	peer := srv.Accept(2 * time.Second)

	require.NoError(t, conn.WriteLine([]byte("NICK bot")))
	line, err := peer.ReadLine(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "NICK bot", line)

	require.NoError(t, peer.Send("PING :irc.test"))
	got, err := conn.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "PING :irc.test", got)
}

func TestTLSDial(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewAuthority(t, "brainrot-test-ca")
	srv := ircd.Start(t, ca.ServerConfig(t, "127.0.0.1"))

	conn, err := Dial(context.Background(), Config{
		Address: srv.Addr(),
		TLS:     TLSConfig{Mode: TLSModeOn, CAFile: ca.CAFile()},
	})
	require.NoError(t, err)
	defer conn.Close()
	peer := srv.Accept(2 * time.Second)

	require.NoError(t, peer.Send(":irc.test NOTICE * :hello over tls"))
	got, err := conn.ReadLine()
	require.NoError(t, err)
	require.Equal(t, ":irc.test NOTICE * :hello over tls", got)
}

func TestTLSDialRejectsUnknownAuthority(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewAuthority(t, "brainrot-test-ca")
	srv := ircd.Start(t, ca.ServerConfig(t, "127.0.0.1"))

	_, err := Dial(context.Background(), Config{Address: srv.Addr(), TLS: TLSConfig{Mode: TLSModeOn}})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTransport)

	conn, err := Dial(context.Background(), Config{Address: srv.Addr(), TLS: TLSConfig{Mode: TLSModeInsecure}})
	require.NoError(t, err)
	_ = conn.Close()
}

func TestTLSDialPresentsClientCert(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewAuthority(t, "brainrot-test-ca")
	srv := ircd.Start(t, ca.RequireClientCerts(ca.ServerConfig(t, "127.0.0.1")))
	certFile, keyFile := ca.IssueClientCert(t, t.TempDir(), "rotbot")

	conn, err := Dial(context.Background(), Config{
		Address: srv.Addr(),
		TLS:     TLSConfig{Mode: TLSModeOn, CAFile: ca.CAFile(), CertFile: certFile, KeyFile: keyFile},
	})
	require.NoError(t, err)
	defer conn.Close()
	peer := srv.Accept(2 * time.Second)

	require.NoError(t, peer.Send(":irc.test NOTICE * :cert accepted"))
	got, err := conn.ReadLine()
	require.NoError(t, err)
	require.Equal(t, ":irc.test NOTICE * :cert accepted", got)
}

func TestTLSDialWithoutClientCertIsRejected(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewAuthority(t, "brainrot-test-ca")
	srv := ircd.Start(t, ca.RequireClientCerts(ca.ServerConfig(t, "127.0.0.1")))

	conn, err := Dial(context.Background(), Config{
		Address: srv.Addr(),
		TLS:     TLSConfig{Mode: TLSModeOn, CAFile: ca.CAFile()},
	})
	// Under TLS 1.3 the server verifies the client after the client's
	// handshake returns, so the rejection can surface on the first read.
	if err == nil {
		_, err = conn.ReadLine()
		_ = conn.Close()
	}
	require.ErrorIs(t, err, ErrTransport)
	_, accepted := srv.TryAccept(200 * time.Millisecond)
	require.False(t, accepted)
}

func TestDialFailureIsTransportError(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), Config{Address: addr, TLS: TLSConfig{Mode: TLSModeOff}})
	require.ErrorIs(t, err, ErrTransport)
}

func TestReadLineTooLongIsRecoverable(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()
	conn := NewConn(client, Config{MaxLineBytes: 64})
	defer conn.Close()

	go func() {
		_, _ = server.Write([]byte(strings.Repeat("x", 200) + "\r\nPING :ok\r\n"))
	}()

	_, err := conn.ReadLine()
	require.ErrorIs(t, err, ErrLineTooLong)
	line, err := conn.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "PING :ok", line)
}

func TestCloseUnblocksRead(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()
	conn := NewConn(client, Config{})

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.ReadLine()
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, conn.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrTransport)
		require.True(t, errors.Is(err, ErrClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("read did not unblock")
	}
	require.ErrorIs(t, conn.WriteLine([]byte("PING x")), ErrClosed)
}
