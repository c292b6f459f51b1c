package tokencache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/inkflow-ai/inkflow/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureValid_CachesUntilNearExpiry(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	fetches := 0
	cache := New(func(ctx context.Context) (string, time.Time, error) {
		fetches++
		return "token-1", clk.Now().Add(time.Hour), nil
	}, clk)

	for i := 0; i < 3; i++ {
		token, err := cache.EnsureValid(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "token-1", token)
	}
	assert.Equal(t, 1, fetches)

	// Within the slack window the token counts as expired.
	clk.Advance(time.Hour - expirySlack)
	_, err := cache.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
}

func TestEnsureValid_PropagatesFetchError(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cache := New(func(ctx context.Context) (string, time.Time, error) {
		return "", time.Time{}, errors.New("token endpoint down")
	}, clk)

	_, err := cache.EnsureValid(context.Background())
	assert.EqualError(t, err, "token endpoint down")
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	fetches := 0
	cache := New(func(ctx context.Context) (string, time.Time, error) {
		fetches++
		return "token", clk.Now().Add(time.Hour), nil
	}, clk)

	_, err := cache.EnsureValid(context.Background())
	require.NoError(t, err)
	cache.Invalidate()
	_, err = cache.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
}

func TestEnsureValid_HonorsContextCancellation(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cache := New(func(ctx context.Context) (string, time.Time, error) {
		return "token", clk.Now().Add(time.Hour), nil
	}, clk)

	// Hold the refresh slot so EnsureValid has to wait on the context.
	<-cache.sem
	defer func() { cache.sem <- struct{}{} }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cache.EnsureValid(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
