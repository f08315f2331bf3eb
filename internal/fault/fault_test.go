package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"plain error", errors.New("boom"), KindUnknown},
		{"direct", New(KindTransient, "rate limited"), KindTransient},
		{"wrapped once", fmt.Errorf("embed: %w", New(KindPermanent, "bad model")), KindPermanent},
		{"wrapped twice", fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", New(KindConflict, "dup"))), KindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(KindTransient, "timeout")))
	assert.False(t, Retryable(New(KindPermanent, "unsupported mime")))
	assert.False(t, Retryable(errors.New("unclassified")))
	assert.False(t, Retryable(nil))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(New(KindPermanent, "gone")))
	assert.True(t, IsTerminal(New(KindValidation, "bad id")))
	assert.True(t, IsTerminal(New(KindAuthorization, "denied")))
	assert.False(t, IsTerminal(New(KindTransient, "429")))
	assert.False(t, IsTerminal(errors.New("unclassified")))
}

func TestWrapPreservesChain(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindTransient, "drive list", cause)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, err.Error(), "connection reset")

	assert.Nil(t, Wrap(KindTransient, "noop", nil))
}
