package reconciler_test

import (
	"context"
	"testing"

	"github.com/romnatson3/copy-trade/internal/entity"
	"github.com/romnatson3/copy-trade/internal/service/reconciler"
	"github.com/stretchr/testify/require"
)

type fakeReplicator struct {
	orders    []*entity.OrderEvent
	leverages []*entity.LeverageEvent
}

func (r *fakeReplicator) FanOutOrder(_ context.Context, event *entity.OrderEvent) error {
	r.orders = append(r.orders, event)
	return nil
}

func (r *fakeReplicator) FanOutLeverage(_ context.Context, event *entity.LeverageEvent) error {
	r.leverages = append(r.leverages, event)
	return nil
}

func TestHandleMarketFrame(t *testing.T) {
	f := newReconcilerFixture()
	dispatcher := reconciler.NewDispatcher(f.service, &fakeReplicator{})

	dispatcher.HandleMarketFrame(context.Background(), map[string]any{
		"stream": "!markPrice@arr@1s",
		"data": []any{
			map[string]any{"s": "BTCUSDT", "p": "64000.5"},
		},
	})

	require.Equal(t, 64000.5, f.cache.prices["BTCUSDT"])
}

func TestHandleUserDataFrameOrderUpdate(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture()
	replicator := &fakeReplicator{}
	dispatcher := reconciler.NewDispatcher(f.service, replicator)

	dispatcher.HandleUserDataFrame(ctx, map[string]any{
		"e": "ORDER_TRADE_UPDATE",
		"E": float64(1568879465651),
		"T": float64(1568879465650),
		"o": map[string]any{
			"i": float64(8886774),
			"s": "BTCUSDT",
			"S": "BUY",
			"o": "MARKET",
			"X": "NEW",
			"q": "0.5",
			"T": float64(1568879465649),
		},
	})

	order, err := f.orders.GetByOrderID(ctx, 8886774)
	require.NoError(t, err)
	require.Equal(t, "NEW", order.Status)
	require.Equal(t, 0.5, order.OrigQty)
	// The outer frame T stamps the transaction time, the inner T is the
	// trade time.
	require.Equal(t, int64(1568879465650), order.TransactionTime.Int64)
	require.Equal(t, int64(1568879465649), order.Time)

	require.Len(t, replicator.orders, 1)
	require.Equal(t, int64(8886774), replicator.orders[0].OrderID)
}

func TestHandleUserDataFrameAccountUpdate(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture()
	dispatcher := reconciler.NewDispatcher(f.service, &fakeReplicator{})

	dispatcher.HandleUserDataFrame(ctx, map[string]any{
		"e": "ACCOUNT_UPDATE",
		"E": float64(1700000000001),
		"T": float64(1700000000000),
		"a": map[string]any{
			"m": "ORDER",
			"B": []any{},
			"P": []any{
				map[string]any{
					"s":  "BTCUSDT",
					"pa": "0.5",
					"ep": "64000",
				},
			},
		},
	})

	position, err := f.positions.GetOpenBySymbol(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, 0.5, position.PositionAmt)
	require.Equal(t, int64(1700000000001), position.UpdateTime.Int64)
	require.Equal(t, int64(1700000000000), position.TransactionTime.Int64)
}

func TestHandleUserDataFrameConfigUpdate(t *testing.T) {
	f := newReconcilerFixture()
	replicator := &fakeReplicator{}
	dispatcher := reconciler.NewDispatcher(f.service, replicator)

	dispatcher.HandleUserDataFrame(context.Background(), map[string]any{
		"e": "ACCOUNT_CONFIG_UPDATE",
		"ac": map[string]any{
			"s": "BTCUSDT",
			"l": float64(50),
		},
	})

	require.Equal(t, 50, f.symbols.leverage["BTCUSDT"])
	require.Len(t, replicator.leverages, 1)
}

func TestHandleUserDataFrameMarginModeIgnored(t *testing.T) {
	f := newReconcilerFixture()
	replicator := &fakeReplicator{}
	dispatcher := reconciler.NewDispatcher(f.service, replicator)

	dispatcher.HandleUserDataFrame(context.Background(), map[string]any{
		"e": "ACCOUNT_CONFIG_UPDATE",
		"ai": map[string]any{
			"j": true,
		},
	})

	require.Empty(t, f.symbols.leverage)
	require.Empty(t, replicator.leverages)
}

func TestHandleUserDataFrameUnknownEvent(t *testing.T) {
	f := newReconcilerFixture()
	dispatcher := reconciler.NewDispatcher(f.service, &fakeReplicator{})

	dispatcher.HandleUserDataFrame(context.Background(), map[string]any{
		"e": "MARGIN_CALL",
	})

	require.Empty(t, f.positions.positions)
	require.Empty(t, f.publisher.published)
}
