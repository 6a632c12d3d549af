// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"context"
	"errors"
	"testing"

	"github.com/bassosimone/errclass"
	"github.com/stretchr/testify/assert"
)

func TestDefaultErrClassifier(t *testing.T) {
	// Should return empty string for nil error
	result := DefaultErrClassifier.Classify(nil)
	assert.Equal(t, "", result)

	// Should label a fetch/dial timeout with its errno-style mnemonic
	result = DefaultErrClassifier.Classify(context.DeadlineExceeded)
	assert.Equal(t, errclass.ETIMEDOUT, result)

	// Should return EGENERIC for unknown errors
	result = DefaultErrClassifier.Classify(errors.New("unknown error"))
	assert.Equal(t, errclass.EGENERIC, result)
}

func TestErrClassifierFuncAdapter(t *testing.T) {
	classifier := ErrClassifierFunc(func(err error) string {
		if err == nil {
			return ""
		}
		return "custom"
	})
	assert.Equal(t, "", classifier.Classify(nil))
	assert.Equal(t, "custom", classifier.Classify(errors.New("x")))
}
