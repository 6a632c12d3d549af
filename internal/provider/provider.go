// SPDX-License-Identifier: GPL-3.0-or-later

// Package provider defines the abstract contract a concrete location
// source (Garmin KML, SPOT feed, Traccar API, Deepstate API, ...)
// implements, and the shared HTTP session factory those collaborators
// are handed. This package specifies the interface only; concrete
// parsers are collaborators out of scope here.
package provider

import (
	"context"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/emfoursolutions/trakbridge-core/internal/bridgeerr"
	"github.com/emfoursolutions/trakbridge-core/internal/model"
)

// Metadata is a static description of a provider kind.
type Metadata struct {
	// Kind is the stable identifier stored in [model.StreamConfig.ProviderKind].
	Kind string

	// DisplayName is a human-readable label.
	DisplayName string

	// Category groups providers for presentation (e.g. "gps-tracker", "osint").
	Category string

	// ConfigSchema documents the shape of the provider_config map, keyed
	// by the field name each entry describes.
	ConfigSchema map[string]string
}

// Client is the abstract contract a provider implements: given a shared
// HTTP session and its own decrypted configuration, asynchronously
// return the current batch of locations.
//
// Fetch must be cancellable via ctx and must map its own provider-specific
// error taxonomy into one of the three categories in [bridgeerr.Kind]
// before returning, typically via an [ErrorMapper].
type Client interface {
	Metadata() Metadata
	Fetch(ctx context.Context, session *http.Client, config map[string]any) ([]model.Location, error)
}

// ErrorMapper adapts a provider's own error taxonomy to the core's
// {transient, auth, persistent} categories.
type ErrorMapper func(err error) bridgeerr.Kind

// WrapError applies mapper to err and returns the named [bridgeerr] error
// for streamID, or nil if err is nil. statusCode is forwarded for the
// auth case; pass 0 if the provider observed no HTTP status.
func WrapError(mapper ErrorMapper, streamID int, statusCode int, err error) error {
	if err == nil {
		return nil
	}
	return bridgeerr.NewProviderError(streamID, mapper(err), statusCode, err)
}

// Tunables configures [NewSharedHTTPClient].
type Tunables struct {
	// ConnectTimeout bounds the TCP+TLS handshake. Defaults to 10s.
	ConnectTimeout time.Duration

	// ReadTimeout bounds waiting for the response headers. Defaults to 30s.
	ReadTimeout time.Duration

	// MaxIdleConnsPerHost caps pooled idle connections per host. Defaults to 10.
	MaxIdleConnsPerHost int

	// MaxIdleConns caps total pooled idle connections. Defaults to 100.
	MaxIdleConns int
}

// NewTunables returns [Tunables] with the standard defaults (connect
// timeout 10s, read timeout 30s, 10 connections per host, 100 total).
func NewTunables() Tunables {
	return Tunables{
		ConnectTimeout:      10 * time.Second,
		ReadTimeout:         30 * time.Second,
		MaxIdleConnsPerHost: 10,
		MaxIdleConns:        100,
	}
}

// NewSharedHTTPClient builds the process-wide, connection-pooled
// [*http.Client] every [Client] collaborator shares for its requests.
// HTTP/2 is negotiated via ALPN through [http2.ConfigureTransport].
func NewSharedHTTPClient(tun Tunables) *http.Client {
	if tun == (Tunables{}) {
		tun = NewTunables()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: tun.ConnectTimeout,
		}).DialContext,
		MaxIdleConns:          tun.MaxIdleConns,
		MaxIdleConnsPerHost:   tun.MaxIdleConnsPerHost,
		ResponseHeaderTimeout: tun.ReadTimeout,
		IdleConnTimeout:       90 * time.Second,
	}
	_ = http2.ConfigureTransport(transport)

	return &http.Client{
		Transport: transport,
		Timeout:   tun.ReadTimeout,
	}
}
