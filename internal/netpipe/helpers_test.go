// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// funcHandler adapts functions to the [slog.Handler] interface, so
// tests can stub individual handler methods without an external test
// double dependency.
type funcHandler struct {
	EnabledFunc func(ctx context.Context, level slog.Level) bool
	HandleFunc  func(ctx context.Context, record slog.Record) error
}

func (h *funcHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.EnabledFunc != nil {
		return h.EnabledFunc(ctx, level)
	}
	return true
}

func (h *funcHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.HandleFunc != nil {
		return h.HandleFunc(ctx, record)
	}
	return nil
}

func (h *funcHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *funcHandler) WithGroup(name string) slog.Handler       { return h }

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var records []slog.Record
	handler := &funcHandler{
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			records = append(records, record)
			return nil
		},
	}
	return slog.New(handler), &records
}

// funcConn adapts functions to the [net.Conn] interface for testing.
type funcConn struct {
	CloseFunc            func() error
	LocalAddrFunc        func() net.Addr
	RemoteAddrFunc       func() net.Addr
	ReadFunc             func(b []byte) (int, error)
	WriteFunc            func(b []byte) (int, error)
	SetDeadlineFunc      func(t time.Time) error
	SetReadDeadlineFunc  func(t time.Time) error
	SetWriteDeadlineFunc func(t time.Time) error
}

func (c *funcConn) Close() error {
	if c.CloseFunc != nil {
		return c.CloseFunc()
	}
	return nil
}

func (c *funcConn) LocalAddr() net.Addr {
	if c.LocalAddrFunc != nil {
		return c.LocalAddrFunc()
	}
	return &net.TCPAddr{}
}

func (c *funcConn) RemoteAddr() net.Addr {
	if c.RemoteAddrFunc != nil {
		return c.RemoteAddrFunc()
	}
	return &net.TCPAddr{}
}

func (c *funcConn) Read(b []byte) (int, error) {
	if c.ReadFunc != nil {
		return c.ReadFunc(b)
	}
	return 0, nil
}

func (c *funcConn) Write(b []byte) (int, error) {
	if c.WriteFunc != nil {
		return c.WriteFunc(b)
	}
	return len(b), nil
}

func (c *funcConn) SetDeadline(t time.Time) error {
	if c.SetDeadlineFunc != nil {
		return c.SetDeadlineFunc(t)
	}
	return nil
}

func (c *funcConn) SetReadDeadline(t time.Time) error {
	if c.SetReadDeadlineFunc != nil {
		return c.SetReadDeadlineFunc(t)
	}
	return nil
}

func (c *funcConn) SetWriteDeadline(t time.Time) error {
	if c.SetWriteDeadlineFunc != nil {
		return c.SetWriteDeadlineFunc(t)
	}
	return nil
}

// newMinimalConn returns a [*funcConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network]
// during construction.
func newMinimalConn() *funcConn {
	return &funcConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// funcDialer adapts a function to the [Dialer] interface.
type funcDialer struct {
	DialContextFunc func(ctx context.Context, network, address string) (net.Conn, error)
}

func (d *funcDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return d.DialContextFunc(ctx, network, address)
}
