// SPDX-License-Identifier: GPL-3.0-or-later

// Package netpipe provides the composable transport primitives the
// bridge uses to reach TAK servers: dialing, connection observation,
// cancellation watching, and TLS handshaking with a PKCS#12-derived
// client identity, each emitting structured logs for the operation it
// performs.
//
// The canonical pipeline assembled by the connection layer is
//
//	ConnectFunc -> ObserveConnFunc -> CancelWatchFunc -> TLSHandshakeFunc
//
// chained with [Compose2] and friends: dial the endpoint, wrap the
// conn for frame-level I/O logging, arrange close-on-cancel, then
// (for tls servers) handshake with the client certificate.
package netpipe

import "context"

// Func is one stage of a connection pipeline: it accepts an input and
// returns a result, e.g. an endpoint address in and a [net.Conn] out.
//
// Func instances can be composed using [Compose2], [Compose3], and
// [Compose4] to create type-safe pipelines where the output of one
// stage flows to the input of the next.
//
// Resource cleanup contract: when a Func receives a closeable resource
// as input and returns an error, it is responsible for closing that
// resource before returning. This ensures that composed pipelines do
// not leak sockets on partial failure, e.g. a failed handshake closes
// the TCP connection it was handed. See [TLSHandshakeFunc].
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}

// FuncAdapter wraps a function as a [Func] implementation.
//
// Use this to create ad-hoc [Func] instances from closures when you
// need custom behavior that doesn't fit the existing primitives.
type FuncAdapter[A, B any] func(ctx context.Context, input A) (B, error)

// Call implements [Func].
func (f FuncAdapter[A, B]) Call(ctx context.Context, input A) (B, error) {
	return f(ctx, input)
}
