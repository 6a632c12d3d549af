// SPDX-License-Identifier: GPL-3.0-or-later

package bridgeerr

import (
	"context"
	"errors"
	"testing"

	"github.com/bassosimone/errclass"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation", &ValidationError{StreamID: 1, Reason: "bad uid"}, "validation"},
		{"transient", &TransientProviderError{StreamID: 1, Err: errors.New("timeout")}, "transient_provider"},
		{"auth", &AuthProviderError{StreamID: 1, StatusCode: 401}, "auth_provider"},
		{"connection", &ConnectionError{ServerID: 2, Err: errors.New("refused")}, "connection"},
		{"overflow", &OverflowDrop{ServerID: 2, Reason: OverflowDropOldest}, "overflow_drop"},
		{"configuration", &ConfigurationError{StreamID: 1, Reason: "unknown server"}, "configuration"},
		{"cancelled", &CancelledError{Err: errors.New("context canceled")}, "cancelled"},
		{"raw network timeout", context.DeadlineExceeded, errclass.ETIMEDOUT},
		{"raw generic", errors.New("plain"), errclass.EGENERIC},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("dial tcp: refused")

	connErr := &ConnectionError{ServerID: 1, Err: inner}
	assert.ErrorIs(t, connErr, inner)

	transientErr := &TransientProviderError{StreamID: 1, Err: inner}
	assert.ErrorIs(t, transientErr, inner)

	cancelErr := &CancelledError{Err: inner}
	assert.ErrorIs(t, cancelErr, inner)
}
