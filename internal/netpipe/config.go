// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"net"
	"time"
)

// Config holds the dependencies shared by the connection primitives in
// this package: how to dial TAK servers, how to label the errors those
// dials and writes produce, and where the current time comes from.
//
// Pass this to constructor functions to pre-wire dependencies. All
// fields have sensible defaults set by [NewConfig]; tests typically
// override TimeNow for determinism and leave the rest alone.
type Config struct {
	// Dialer is used by [*ConnectFunc] to reach TAK server endpoints.
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier], which labels
	// network errors with their errno-style mnemonic.
	ErrClassifier ErrClassifier

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Dialer:        &net.Dialer{},
		ErrClassifier: DefaultErrClassifier,
		TimeNow:       time.Now,
	}
}
