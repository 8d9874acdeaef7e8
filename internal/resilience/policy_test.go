package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPolicy_Defaults(t *testing.T) {
	p := NewPolicy("market", 0, 0, 0)

	assert.Equal(t, "market", p.Breaker.Name())
	assert.Equal(t, Closed, p.Breaker.State())
	assert.Equal(t, 5, p.Breaker.cfg.Threshold)
	assert.Equal(t, 30*time.Second, p.Breaker.cfg.ResetTimeout)
	assert.Equal(t, 1, p.Retry.withDefaults().Attempts)
	assert.NotNil(t, p.Retry.OnRetry)
}

func TestDo_RetriesInsideBreaker(t *testing.T) {
	p := NewPolicy("market", 3, 2, 60)
	p.Retry.InitialBackoff = time.Millisecond
	p.Retry.MaxBackoff = time.Millisecond

	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (float64, error) {
		calls++
		return 0, NewTransientError(errors.New("unavailable"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, p.Breaker.Failures())
	assert.Equal(t, Closed, p.Breaker.State())

	_, err = Do(context.Background(), p, func(context.Context) (float64, error) {
		return 0, NewTransientError(errors.New("unavailable"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, Open, p.Breaker.State())

	calls = 0
	_, err = Do(context.Background(), p, func(context.Context) (float64, error) {
		calls++
		return 1.1, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls)
}

func TestDo_ReturnsValue(t *testing.T) {
	p := NewPolicy("market", 2, 3, 30)

	v, err := Do(context.Background(), p, func(context.Context) (float64, error) {
		return 1.05, nil
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.05, v, 1e-9)
	assert.Zero(t, p.Breaker.Failures())
}
