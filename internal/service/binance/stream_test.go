package binance_test

import (
	"testing"

	"github.com/romnatson3/copy-trade/internal/service/binance"
	"github.com/stretchr/testify/require"
)

func TestRegistryGetOrCreateReusesSession(t *testing.T) {
	registry := binance.NewRegistry()

	built := 0
	build := func() *binance.Session {
		built++
		return binance.NewMarketSession("wss://stream.invalid")
	}

	first := registry.GetOrCreate(binance.MarketStreamID, build)
	second := registry.GetOrCreate(binance.MarketStreamID, build)

	require.Same(t, first, second)
	require.Equal(t, 1, built)
}

func TestRegistryRemove(t *testing.T) {
	registry := binance.NewRegistry()

	session := registry.GetOrCreate(7, func() *binance.Session {
		return binance.NewMarketSession("wss://stream.invalid")
	})
	require.Same(t, session, registry.Get(7))

	registry.Remove(7)
	require.Nil(t, registry.Get(7))

	require.Empty(t, registry.All())
}

func TestRegistryAll(t *testing.T) {
	registry := binance.NewRegistry()

	registry.GetOrCreate(1, func() *binance.Session {
		return binance.NewMarketSession("wss://stream.invalid")
	})
	registry.GetOrCreate(2, func() *binance.Session {
		return binance.NewMarketSession("wss://stream.invalid")
	})

	require.Len(t, registry.All(), 2)
}

func TestSessionNotAliveBeforeStart(t *testing.T) {
	session := binance.NewMarketSession("wss://stream.invalid")
	require.False(t, session.IsAlive())
}
