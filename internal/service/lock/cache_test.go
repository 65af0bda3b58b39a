package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/romnatson3/copy-trade/internal/entity"
	"github.com/romnatson3/copy-trade/internal/service/lock"
	"github.com/stretchr/testify/require"
)

func TestCacheMarketPrice(t *testing.T) {
	ctx := context.Background()
	cache := lock.NewCache(newMemoryStore())

	// Unknown symbol reads as 0, not an error.
	price, err := cache.GetMarketPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Zero(t, price)

	require.NoError(t, cache.SetMarketPrice(ctx, "BTCUSDT", 64123.45))

	price, err = cache.GetMarketPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, 64123.45, price)
}

func TestCacheManualSettingsConsumedOnRead(t *testing.T) {
	ctx := context.Background()
	cache := lock.NewCache(newMemoryStore())

	rates := entity.ProtectiveRates{
		TakeProfitRate:                  5,
		StopLossRate:                    10,
		TrailingStopCallbackRate:        1.5,
		TrailingStopActivationPriceRate: 2,
	}
	require.NoError(t, cache.PutManualSettings(ctx, "BTCUSDT", rates))

	taken, err := cache.TakeManualSettings(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, taken)
	require.Equal(t, rates, *taken)

	// Consumed on first read.
	taken, err = cache.TakeManualSettings(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Nil(t, taken)
}

func TestCacheDeleteManualSettings(t *testing.T) {
	ctx := context.Background()
	cache := lock.NewCache(newMemoryStore())

	require.NoError(t, cache.PutManualSettings(ctx, "ETHUSDT", entity.ProtectiveRates{TakeProfitRate: 3}))
	require.NoError(t, cache.DeleteManualSettings(ctx, "ETHUSDT"))

	taken, err := cache.TakeManualSettings(ctx, "ETHUSDT")
	require.NoError(t, err)
	require.Nil(t, taken)
}

func TestCacheLimitUsageFlag(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	cache := lock.NewCache(store)

	guarded := func() error {
		return lock.WithLock(ctx, store, "lock:flag", time.Minute,
			lock.Options{GuardLimitUsage: true},
			func(ctx context.Context) error { return nil })
	}

	require.NoError(t, guarded())

	require.NoError(t, cache.SetLimitUsageTooHigh(ctx))
	require.ErrorIs(t, guarded(), lock.ErrLimitUsage)

	require.NoError(t, cache.ClearLimitUsageTooHigh(ctx))
	require.NoError(t, guarded())
}
