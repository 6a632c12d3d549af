// SPDX-License-Identifier: GPL-3.0-or-later

// Package trakbridge is the streaming and distribution engine of the
// TrakBridge bridge service: it polls location providers on a cadence,
// normalises observations into Cursor-on-Target XML events, and
// distributes those events to TAK servers over persistent TCP/TLS
// connections.
//
// # Architecture
//
// The engine is assembled from small packages under internal/:
//
//   - internal/model: the data types exchanged with collaborators
//     (Location, StreamConfig, TakServerConfig) and the closed
//     enumerations the core switches on
//   - internal/cot: the pure CoT XML encoder, including the
//     team-member branch and the custom-attribute extension tree
//   - internal/callsign: per-tracker callsign/type/team overrides
//   - internal/provider: the abstract provider contract and the shared
//     pooled HTTP session
//   - internal/governor: serial/parallel encode decision with a
//     circuit breaker
//   - internal/takconn: one persistent, reconnecting connection per
//     TAK server with a bounded overflow-policy queue and a single
//     writer
//   - internal/cotservice: the process-wide connection registry
//   - internal/worker: the per-stream tick loop tying fetch, map,
//     encode, and fan-out together
//   - internal/manager: the supervising registry of workers
//
// Data flow per tick:
//
//	worker.tick -> provider.Fetch -> callsign.Apply -> cot.Encode
//	            -> for each attached server: takconn.Enqueue
//
// A tick fetches from the provider exactly once no matter how many
// servers the stream is attached to; every attached connection receives
// the same encoded batch in the same order.
//
// # Delivery contract
//
// CoT is best-effort telemetry: delivery is at-least-once for connected
// sinks with bounded loss on sink overflow per the configured policy.
// The engine persists nothing; on restart, workers resume with fresh
// ticks and queued events are lost.
//
// See cmd/trakbridge-core for a composition root wiring the pieces
// together from a static configuration snapshot.
package trakbridge
