package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, 0},
		{"unclassified defaults to fatal", base, Fatal},
		{"fatal", NewFatal("send", base), Fatal},
		{"recoverable", NewRecoverable("send", base), Recoverable},
		{"wrapped recoverable", fmt.Errorf("drain: %w", NewRecoverable("send", base)), Recoverable},
		{"responder cancelled", ErrCancelled, Cancelled},
		{"context cancelled", fmt.Errorf("wait: %w", context.Canceled), Cancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestConstructors_NilPassThrough(t *testing.T) {
	assert.NoError(t, NewFatal("op", nil))
	assert.NoError(t, NewRecoverable("op", nil))
}

func TestError_UnwrapAndMessage(t *testing.T) {
	base := errors.New("connection reset")
	err := NewRecoverable("send message", base)

	assert.ErrorIs(t, err, base)
	assert.Equal(t, "send message: recoverable: connection reset", err.Error())
	assert.True(t, IsRecoverable(err))
	assert.False(t, IsFatal(err))
}

func TestOutermostKindWins(t *testing.T) {
	inner := NewRecoverable("remote", errors.New("timeout"))
	outer := NewFatal("job", inner)
	assert.True(t, IsFatal(outer))
}

func TestOrFatal_KeepsExistingKind(t *testing.T) {
	assert.NoError(t, OrFatal("op", nil))

	wrapped := fmt.Errorf("wrapped: %w", NewRecoverable("remote", errors.New("timeout")))
	assert.Equal(t, wrapped, OrFatal("job", wrapped))
	assert.True(t, IsRecoverable(OrFatal("job", wrapped)))

	assert.True(t, IsFatal(OrFatal("job", errors.New("disk full"))))
}
