package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurstThenThrottles(t *testing.T) {
	b := NewTokenBucket(1, 2)
	require.True(t, b.Allow())
	require.True(t, b.Allow())
	require.False(t, b.Allow(), "third immediate call must exceed the burst of 2")
}

func TestNonPositiveRateIsUnlimited(t *testing.T) {
	b := NewTokenBucket(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, b.Allow())
	}
}

func TestNilBucketAdmitsEverything(t *testing.T) {
	var b *TokenBucket
	require.True(t, b.Allow())
	require.NoError(t, b.Wait(context.Background()))
}

func TestRegistrySharesBucketPerVenue(t *testing.T) {
	r := NewRegistry(1, 1)
	require.Same(t, r.Venue("binance"), r.Venue("binance"))
	require.NotSame(t, r.Venue("binance"), r.Venue("bybit"))

	// The shared bucket's budget is consumed across callers of the same venue.
	require.True(t, r.Venue("binance").Allow())
	require.False(t, r.Venue("binance").Allow())
}
