package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay(t *testing.T) {
	base := 30 * time.Second
	cap := 15 * time.Minute

	tests := []struct {
		name     string
		attempts int
		want     time.Duration
	}{
		{"first attempt", 1, 30 * time.Second},
		{"second attempt doubles", 2, time.Minute},
		{"third attempt doubles again", 3, 2 * time.Minute},
		{"zero clamps to one", 0, 30 * time.Second},
		{"large attempt hits cap", 10, cap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RetryDelay(tt.attempts, base, cap))
		})
	}
}

func TestRetryDelayCapBelowBase(t *testing.T) {
	// A cap below the base clamps immediately.
	assert.Equal(t, 10*time.Second, RetryDelay(1, 30*time.Second, 10*time.Second))
}
