package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transientCall(ctx context.Context) error {
	return NewTransientError(eris.New("http 503"), 503)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("obis", 3, time.Minute)

	for range 3 {
		_ = b.Execute(context.Background(), transientCall)
	}
	assert.True(t, b.Open())

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		t.Fatal("call should have been rejected")
		return nil
	})
	require.ErrorIs(t, eris.Cause(err), ErrCircuitOpen)
}

func TestBreakerAllowsProbeAfterReset(t *testing.T) {
	b := NewBreaker("gbif", 2, time.Minute)
	now := time.Now()
	b.nowFunc = func() time.Time { return now }

	for range 2 {
		_ = b.Execute(context.Background(), transientCall)
	}
	assert.True(t, b.Open())

	// Advance past the reset timeout; the probe succeeds and closes the circuit.
	now = now.Add(2 * time.Minute)
	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.False(t, b.Open())
}

func TestBreakerIgnoresPermanentErrors(t *testing.T) {
	b := NewBreaker("worms", 2, time.Minute)

	for range 5 {
		_ = b.Execute(context.Background(), func(ctx context.Context) error {
			return eris.New("http 404")
		})
	}
	assert.False(t, b.Open())
}
