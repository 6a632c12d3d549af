// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import "github.com/bassosimone/errclass"

// ErrClassifier classifies errors into categorical strings for
// structured logging.
//
// Implementations map errors to short, descriptive labels (e.g.,
// "ETIMEDOUT", "ECONNRESET") so that dial, handshake, and write
// failures against TAK servers and provider endpoints can be
// aggregated by cause rather than by message text.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the [ErrClassifier] interface.
//
// This allows using simple functions as classifiers:
//
//	op.ErrClassifier = ErrClassifierFunc(bridgeerr.Classify)
type ErrClassifierFunc func(error) string

var _ ErrClassifier = ErrClassifierFunc(nil)

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string {
	return f(err)
}

// DefaultErrClassifier labels errors with [errclass.New]: nil maps to
// the empty string, known network errors to their errno-style mnemonic
// (ETIMEDOUT, ECONNRESET, ...), and anything else to EGENERIC.
var DefaultErrClassifier = ErrClassifierFunc(errclass.New)
