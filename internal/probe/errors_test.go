package probe

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "transient error", err: Transientf("server returned 503"), want: true},
		{name: "wrapped transient", err: fmt.Errorf("probe: %w", Transientf("reset")), want: true},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: true},
		{name: "wrapped deadline", err: fmt.Errorf("attempt: %w", context.DeadlineExceeded), want: true},
		{name: "permanent error", err: Permanentf("blocked"), want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(Permanentf("403 forbidden")))
	assert.True(t, IsPermanent(fmt.Errorf("probe: %w", Permanentf("banned"))))
	assert.False(t, IsPermanent(Transientf("timeout")))
	assert.False(t, IsPermanent(nil))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")

	te := &TransientError{Reason: "fetch failed", Err: cause}
	assert.ErrorIs(t, te, cause)
	assert.Contains(t, te.Error(), "transient: fetch failed")

	pe := &PermanentError{Reason: "bad request", Err: cause}
	assert.ErrorIs(t, pe, cause)
	assert.Contains(t, pe.Error(), "permanent: bad request")
}
