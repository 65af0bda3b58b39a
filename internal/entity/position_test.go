package entity_test

import (
	"testing"

	"github.com/romnatson3/copy-trade/internal/entity"
	"github.com/stretchr/testify/require"
)

func TestProtectivePrices(t *testing.T) {
	long := entity.Position{Side: entity.OrderSideBuy, EntryPrice: 1000}
	short := entity.Position{Side: entity.OrderSideSell, EntryPrice: 1000}

	// Rates are percent of margin, scaled down by leverage.
	require.InDelta(t, 1010, long.TakeProfitPrice(10, 10), 1e-9)
	require.InDelta(t, 990, long.StopLossPrice(10, 10), 1e-9)
	require.InDelta(t, 990, short.TakeProfitPrice(10, 10), 1e-9)
	require.InDelta(t, 1010, short.StopLossPrice(10, 10), 1e-9)

	// The activation price is not leverage-scaled.
	require.InDelta(t, 1020, long.TrailingStopActivationPrice(2), 1e-9)
	require.InDelta(t, 980, short.TrailingStopActivationPrice(2), 1e-9)
}

func TestLimitOrderPrice(t *testing.T) {
	long := entity.Position{Side: entity.OrderSideBuy, EntryPrice: 2000}
	short := entity.Position{Side: entity.OrderSideSell, EntryPrice: 2000}

	require.InDelta(t, 2010, long.LimitOrderPrice(0.5), 1e-9)
	require.InDelta(t, 1990, short.LimitOrderPrice(0.5), 1e-9)
}

func TestQuantityHelpers(t *testing.T) {
	short := entity.Position{Side: entity.OrderSideSell, PositionAmt: -0.8}

	require.InDelta(t, 0.8, short.Quantity(), 1e-9)
	require.InDelta(t, 0.4, short.QuantityByRate(50), 1e-9)
	require.InDelta(t, 2.4, short.IncreasedQuantity(3), 1e-9)
}

func TestOppositeSide(t *testing.T) {
	require.Equal(t, entity.OrderSideSell, entity.OppositeSide(entity.OrderSideBuy))
	require.Equal(t, entity.OrderSideBuy, entity.OppositeSide(entity.OrderSideSell))
}
