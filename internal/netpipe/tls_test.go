// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"log/slog"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcTLSConn adapts functions to the [TLSConn] interface for testing
// the handshake stage without a live TAK server.
type funcTLSConn struct {
	net.Conn
	HandshakeContextFunc func(ctx context.Context) error
	ConnectionStateFunc  func() tls.ConnectionState
}

func (c *funcTLSConn) HandshakeContext(ctx context.Context) error {
	if c.HandshakeContextFunc != nil {
		return c.HandshakeContextFunc(ctx)
	}
	return nil
}

func (c *funcTLSConn) ConnectionState() tls.ConnectionState {
	if c.ConnectionStateFunc != nil {
		return c.ConnectionStateFunc()
	}
	return tls.ConnectionState{}
}

// clientReturning installs mock as the conn every handshake uses.
func clientReturning(mock *funcTLSConn) func(net.Conn, *tls.Config) TLSConn {
	return func(conn net.Conn, config *tls.Config) TLSConn {
		if mock.Conn == nil {
			mock.Conn = conn
		}
		return mock
	}
}

func selfSignedCert(t *testing.T) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "tak-server"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

// NewTLSHandshakeFunc populates every field, including the stdlib
// client builder.
func TestNewTLSHandshakeFunc(t *testing.T) {
	cfg := NewConfig()
	tlsConfig := &tls.Config{ServerName: "tak.example.org"}

	fn := NewTLSHandshakeFunc(cfg, tlsConfig, DefaultSLogger())

	require.NotNil(t, fn)
	assert.NotNil(t, fn.Client)
	assert.NotNil(t, fn.ErrClassifier)
	assert.NotNil(t, fn.Logger)
	assert.NotNil(t, fn.TimeNow)
	assert.Same(t, tlsConfig, fn.Config)
}

func TestTLSHandshakeFuncSuccess(t *testing.T) {
	cfg := NewConfig()
	fn := NewTLSHandshakeFunc(cfg, &tls.Config{ServerName: "tak.example.org"}, DefaultSLogger())

	mock := &funcTLSConn{Conn: &funcConn{}}
	fn.Client = clientReturning(mock)

	out, err := fn.Call(context.Background(), &funcConn{})

	require.NoError(t, err)
	assert.Same(t, mock, out)
}

// A failed handshake closes the connection and returns only the error,
// honoring the pipeline resource cleanup contract.
func TestTLSHandshakeFuncError(t *testing.T) {
	cfg := NewConfig()
	fn := NewTLSHandshakeFunc(cfg, &tls.Config{}, DefaultSLogger())

	closed := false
	mock := &funcTLSConn{
		Conn: &funcConn{CloseFunc: func() error {
			closed = true
			return nil
		}},
		HandshakeContextFunc: func(ctx context.Context) error {
			return errors.New("handshake failed")
		},
	}
	fn.Client = clientReturning(mock)

	out, err := fn.Call(context.Background(), &funcConn{})

	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, closed, "failed handshake must close the conn")
}

func TestTLSHandshakeFuncCallerTimeout(t *testing.T) {
	cfg := NewConfig()
	fn := NewTLSHandshakeFunc(cfg, &tls.Config{}, DefaultSLogger())

	mock := &funcTLSConn{
		Conn: &funcConn{},
		HandshakeContextFunc: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	fn.Client = clientReturning(mock)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := fn.Call(ctx, &funcConn{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// The handshake log pair reports the client-identity and verification
// posture the operator needs when diagnosing a TAK server rejection.
func TestTLSHandshakeFuncLogging(t *testing.T) {
	cfg := NewConfig()
	logger, records := newCapturingLogger()
	tlsConfig := &tls.Config{
		ServerName:   "tak.example.org",
		Certificates: []tls.Certificate{{}},
	}
	fn := NewTLSHandshakeFunc(cfg, tlsConfig, logger)
	fn.Client = clientReturning(&funcTLSConn{Conn: &funcConn{}})

	_, err := fn.Call(context.Background(), &funcConn{})
	require.NoError(t, err)

	require.Len(t, *records, 2)
	assert.Equal(t, "tlsHandshakeStart", (*records)[0].Message)
	assert.Equal(t, "tlsHandshakeDone", (*records)[1].Message)

	var sawClientCert bool
	(*records)[0].Attrs(func(a slog.Attr) bool {
		if a.Key == "tlsClientCertPresent" {
			sawClientCert = true
			assert.True(t, a.Value.Bool())
		}
		return true
	})
	assert.True(t, sawClientCert, "start event must report the client identity")
}

func TestTLSHandshakeFuncPeerCertsFromHostnameError(t *testing.T) {
	fn := NewTLSHandshakeFunc(NewConfig(), &tls.Config{}, DefaultSLogger())
	cert := selfSignedCert(t)

	err := x509.HostnameError{Certificate: cert, Host: "tak.example.org"}
	out := fn.peerCerts(tls.ConnectionState{}, err)

	require.Len(t, out, 1)
	assert.Equal(t, cert.Raw, out[0])
}

func TestTLSHandshakeFuncPeerCertsFromUnknownAuthorityError(t *testing.T) {
	fn := NewTLSHandshakeFunc(NewConfig(), &tls.Config{}, DefaultSLogger())
	cert := selfSignedCert(t)

	err := x509.UnknownAuthorityError{Cert: cert}
	out := fn.peerCerts(tls.ConnectionState{}, err)

	require.Len(t, out, 1)
	assert.Equal(t, cert.Raw, out[0])
}

func TestTLSHandshakeFuncPeerCertsFromCertificateInvalidError(t *testing.T) {
	fn := NewTLSHandshakeFunc(NewConfig(), &tls.Config{}, DefaultSLogger())
	cert := selfSignedCert(t)

	err := x509.CertificateInvalidError{Cert: cert, Reason: x509.Expired}
	out := fn.peerCerts(tls.ConnectionState{}, err)

	require.Len(t, out, 1)
	assert.Equal(t, cert.Raw, out[0])
}

func TestTLSHandshakeFuncPeerCertsFromConnectionState(t *testing.T) {
	fn := NewTLSHandshakeFunc(NewConfig(), &tls.Config{}, DefaultSLogger())
	cert := selfSignedCert(t)

	state := tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}}
	out := fn.peerCerts(state, nil)

	require.Len(t, out, 1)
	assert.Equal(t, cert.Raw, out[0])
}

// The cloned config used for the handshake carries the injected clock,
// so certificate validity is judged against the configurable time.
func TestTLSHandshakeFuncSetsTimeOnConfig(t *testing.T) {
	cfg := NewConfig()
	fixed := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	cfg.TimeNow = func() time.Time { return fixed }

	fn := NewTLSHandshakeFunc(cfg, &tls.Config{}, DefaultSLogger())

	var seen *tls.Config
	fn.Client = func(conn net.Conn, config *tls.Config) TLSConn {
		seen = config
		return &funcTLSConn{Conn: conn}
	}

	_, err := fn.Call(context.Background(), &funcConn{})
	require.NoError(t, err)

	require.NotNil(t, seen)
	require.NotNil(t, seen.Time)
	assert.Equal(t, fixed, seen.Time())
	// The caller's config is cloned, never mutated.
	assert.NotSame(t, fn.Config, seen)
}
