package reconciler_test

import (
	"context"
	"testing"

	"github.com/guregu/null/v6"
	"github.com/romnatson3/copy-trade/internal/constant"
	"github.com/romnatson3/copy-trade/internal/entity"
	"github.com/romnatson3/copy-trade/internal/service/reconciler"
	"github.com/stretchr/testify/require"
)

type fakePositionStore struct {
	nextID    int64
	positions map[int64]*entity.Position
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{nextID: 1, positions: map[int64]*entity.Position{}}
}

func (s *fakePositionStore) Create(_ context.Context, position *entity.Position) error {
	position.ID = s.nextID
	s.nextID++
	clone := *position
	s.positions[position.ID] = &clone
	return nil
}

func (s *fakePositionStore) Update(_ context.Context, position *entity.Position) error {
	clone := *position
	s.positions[position.ID] = &clone
	return nil
}

func (s *fakePositionStore) GetOpenBySymbol(_ context.Context, symbol string) (*entity.Position, error) {
	for _, position := range s.positions {
		if position.Symbol == symbol && position.IsOpen {
			clone := *position
			return &clone, nil
		}
	}
	return nil, entity.ErrPositionNotFound
}

type fakeSettingsStore struct {
	created []entity.PositionSettings
}

func (s *fakeSettingsStore) Create(_ context.Context, settings *entity.PositionSettings) error {
	s.created = append(s.created, *settings)
	return nil
}

type orphanCall struct {
	positionID      int64
	symbol          string
	transactionTime int64
}

type fakeOrderStore struct {
	orders      map[int64]*entity.Order
	orphanCalls []orphanCall
	orphanCount int64
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: map[int64]*entity.Order{}}
}

func (s *fakeOrderStore) Upsert(_ context.Context, order *entity.Order) error {
	clone := *order
	s.orders[order.OrderID] = &clone
	return nil
}

func (s *fakeOrderStore) GetByOrderID(_ context.Context, orderID int64) (*entity.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return nil, entity.ErrOrderNotFound
	}
	clone := *order
	return &clone, nil
}

func (s *fakeOrderStore) AttachOrphans(_ context.Context, positionID int64, symbol string, transactionTime int64) (int64, error) {
	s.orphanCalls = append(s.orphanCalls, orphanCall{positionID, symbol, transactionTime})
	return s.orphanCount, nil
}

type fakeSymbolStore struct {
	symbols  map[string]*entity.Symbol
	leverage map[string]int
}

func newFakeSymbolStore(symbols ...*entity.Symbol) *fakeSymbolStore {
	store := &fakeSymbolStore{symbols: map[string]*entity.Symbol{}, leverage: map[string]int{}}
	for _, symbol := range symbols {
		store.symbols[symbol.Symbol] = symbol
	}
	return store
}

func (s *fakeSymbolStore) GetBySymbol(_ context.Context, symbol string) (*entity.Symbol, error) {
	found, ok := s.symbols[symbol]
	if !ok {
		return nil, entity.ErrSymbolNotFound
	}
	return found, nil
}

func (s *fakeSymbolStore) UpdateLeverage(_ context.Context, symbol string, leverage int) error {
	s.leverage[symbol] = leverage
	return nil
}

type fakeMainSettingsStore struct {
	settings entity.MainSettings
}

func (s *fakeMainSettingsStore) Get(_ context.Context) (*entity.MainSettings, error) {
	clone := s.settings
	return &clone, nil
}

type fakeMarketCache struct {
	prices map[string]float64
	manual map[string]*entity.ProtectiveRates
}

func newFakeMarketCache() *fakeMarketCache {
	return &fakeMarketCache{prices: map[string]float64{}, manual: map[string]*entity.ProtectiveRates{}}
}

func (c *fakeMarketCache) SetMarketPrice(_ context.Context, symbol string, price float64) error {
	c.prices[symbol] = price
	return nil
}

func (c *fakeMarketCache) GetMarketPrice(_ context.Context, symbol string) (float64, error) {
	return c.prices[symbol], nil
}

func (c *fakeMarketCache) TakeManualSettings(_ context.Context, symbol string) (*entity.ProtectiveRates, error) {
	rates, ok := c.manual[symbol]
	if !ok {
		return nil, nil
	}
	delete(c.manual, symbol)
	return rates, nil
}

type publishedEvent struct {
	subject string
	data    any
}

type fakePublisher struct {
	published []publishedEvent
}

func (p *fakePublisher) Publish(_ context.Context, subject string, data any) error {
	p.published = append(p.published, publishedEvent{subject: subject, data: data})
	return nil
}

type reconcilerFixture struct {
	service      *reconciler.Service
	positions    *fakePositionStore
	settings     *fakeSettingsStore
	orders       *fakeOrderStore
	symbols      *fakeSymbolStore
	mainSettings *fakeMainSettingsStore
	cache        *fakeMarketCache
	publisher    *fakePublisher
}

func newReconcilerFixture() *reconcilerFixture {
	f := &reconcilerFixture{
		positions: newFakePositionStore(),
		settings:  &fakeSettingsStore{},
		orders:    newFakeOrderStore(),
		symbols:   newFakeSymbolStore(&entity.Symbol{Symbol: "BTCUSDT", IsActive: true, Leverage: 10}),
		mainSettings: &fakeMainSettingsStore{settings: entity.MainSettings{
			ID:             1,
			TakeProfitRate: 5,
			StopLossRate:   10,
		}},
		cache:     newFakeMarketCache(),
		publisher: &fakePublisher{},
	}
	f.service = reconciler.NewService(
		f.positions, f.settings, f.orders, f.symbols, f.mainSettings, f.cache, f.publisher,
	)
	return f
}

func TestHandleMarkPrices(t *testing.T) {
	f := newReconcilerFixture()

	f.service.HandleMarkPrices(context.Background(), []any{
		map[string]any{"s": "BTCUSDT", "p": "64123.45"},
		map[string]any{"s": "ETHUSDT", "p": "3010.2"},
		map[string]any{"s": "BROKEN", "p": "nope"},
		"not a map",
	})

	require.Equal(t, 64123.45, f.cache.prices["BTCUSDT"])
	require.Equal(t, 3010.2, f.cache.prices["ETHUSDT"])
	require.NotContains(t, f.cache.prices, "BROKEN")
}

func TestHandlePositionEventOpensPosition(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture()

	err := f.service.HandlePositionEvent(ctx, &entity.PositionEvent{
		Symbol:          "BTCUSDT",
		PositionAmt:     -0.5,
		EntryPrice:      64000,
		TransactionTime: null.IntFrom(1700000000000),
	})
	require.NoError(t, err)

	position, err := f.positions.GetOpenBySymbol(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, entity.OrderSideSell, position.Side)
	require.Equal(t, entity.PositionSideShort, position.PositionSide)
	require.Equal(t, -0.5, position.PositionAmt)
	require.True(t, position.IsOpen)

	// Settings come from the global defaults when no manual override exists.
	require.Len(t, f.settings.created, 1)
	require.Equal(t, position.ID, f.settings.created[0].PositionID)
	require.Equal(t, 5.0, f.settings.created[0].TakeProfitRate)
	require.Equal(t, 10.0, f.settings.created[0].StopLossRate)

	// Orders placed before the position row existed get linked.
	require.Len(t, f.orders.orphanCalls, 1)
	require.Equal(t, orphanCall{position.ID, "BTCUSDT", 1700000000000}, f.orders.orphanCalls[0])

	require.Len(t, f.publisher.published, 1)
	require.Equal(t, constant.PositionStreamSubjectOpened, f.publisher.published[0].subject)
	opened, ok := f.publisher.published[0].data.(entity.PositionOpenedEvent)
	require.True(t, ok)
	require.Equal(t, position.ID, opened.PositionID)
}

func TestHandlePositionEventManualOverride(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture()
	f.cache.manual["BTCUSDT"] = &entity.ProtectiveRates{TakeProfitRate: 2, TrailingStopCallbackRate: 1.5, TrailingStopActivationPriceRate: 1}

	err := f.service.HandlePositionEvent(ctx, &entity.PositionEvent{
		Symbol:      "BTCUSDT",
		PositionAmt: 1,
		EntryPrice:  64000,
	})
	require.NoError(t, err)

	require.Len(t, f.settings.created, 1)
	require.Equal(t, 2.0, f.settings.created[0].TakeProfitRate)
	require.Equal(t, 1.5, f.settings.created[0].TrailingStopCallbackRate)
	require.Zero(t, f.settings.created[0].StopLossRate)

	// The override is single use.
	require.Empty(t, f.cache.manual)
}

func TestHandlePositionEventUpdatesOpenPosition(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture()

	require.NoError(t, f.service.HandlePositionEvent(ctx, &entity.PositionEvent{
		Symbol:      "BTCUSDT",
		PositionAmt: 1,
		EntryPrice:  64000,
	}))

	err := f.service.HandlePositionEvent(ctx, &entity.PositionEvent{
		Symbol:           "BTCUSDT",
		PositionAmt:      2,
		EntryPrice:       64500,
		UnrealizedProfit: null.FloatFrom(120.5),
	})
	require.NoError(t, err)

	position, err := f.positions.GetOpenBySymbol(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, 2.0, position.PositionAmt)
	require.Equal(t, 64500.0, position.EntryPrice)
	require.Equal(t, 120.5, position.UnrealizedProfit)

	// Only one position and one settings row exist.
	require.Len(t, f.positions.positions, 1)
	require.Len(t, f.settings.created, 1)
}

func TestHandlePositionEventClosesPosition(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture()
	require.NoError(t, f.cache.SetMarketPrice(ctx, "BTCUSDT", 65000))

	require.NoError(t, f.service.HandlePositionEvent(ctx, &entity.PositionEvent{
		Symbol:      "BTCUSDT",
		PositionAmt: 1,
		EntryPrice:  64000,
	}))
	f.publisher.published = nil

	err := f.service.HandlePositionEvent(ctx, &entity.PositionEvent{
		Symbol:              "BTCUSDT",
		PositionAmt:         0,
		AccumulatedRealized: null.FloatFrom(512.25),
	})
	require.NoError(t, err)

	_, err = f.positions.GetOpenBySymbol(ctx, "BTCUSDT")
	require.ErrorIs(t, err, entity.ErrPositionNotFound)

	closed := f.positions.positions[1]
	require.False(t, closed.IsOpen)
	require.Equal(t, 512.25, closed.AccumulatedRealized.Float64)
	require.Equal(t, 65000.0, closed.MarkPrice.Float64)

	// Closing triggers the protective-order cleanup fan-out.
	require.Len(t, f.publisher.published, 1)
	require.Equal(t, constant.PositionStreamSubjectCancelOrders, f.publisher.published[0].subject)
}

func TestHandlePositionEventZeroAmountWithoutPosition(t *testing.T) {
	f := newReconcilerFixture()

	err := f.service.HandlePositionEvent(context.Background(), &entity.PositionEvent{
		Symbol:      "BTCUSDT",
		PositionAmt: 0,
	})
	require.NoError(t, err)
	require.Empty(t, f.positions.positions)
	require.Empty(t, f.publisher.published)
}

func TestHandlePositionEventUnknownSymbol(t *testing.T) {
	f := newReconcilerFixture()

	err := f.service.HandlePositionEvent(context.Background(), &entity.PositionEvent{
		Symbol:      "DOGEUSDT",
		PositionAmt: 1,
	})
	require.ErrorIs(t, err, entity.ErrSymbolNotFound)
}

func TestHandleOrderEventAttachesToOpenPosition(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture()

	require.NoError(t, f.service.HandlePositionEvent(ctx, &entity.PositionEvent{
		Symbol:      "BTCUSDT",
		PositionAmt: 1,
		EntryPrice:  64000,
	}))
	position, err := f.positions.GetOpenBySymbol(ctx, "BTCUSDT")
	require.NoError(t, err)

	err = f.service.HandleOrderEvent(ctx, &entity.OrderEvent{
		OrderID: 42,
		Symbol:  "BTCUSDT",
		Status:  entity.OrderStatusNew,
		Side:    entity.OrderSideBuy,
	})
	require.NoError(t, err)

	order, err := f.orders.GetByOrderID(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, position.ID, order.PositionID.Int64)
}

func TestHandleOrderEventKeepsPositionLinkOnUpdate(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture()

	require.NoError(t, f.orders.Upsert(ctx, &entity.Order{
		OrderID:    42,
		Symbol:     "BTCUSDT",
		Status:     entity.OrderStatusNew,
		PositionID: null.IntFrom(7),
	}))

	err := f.service.HandleOrderEvent(ctx, &entity.OrderEvent{
		OrderID: 42,
		Symbol:  "BTCUSDT",
		Status:  entity.OrderStatusFilled,
	})
	require.NoError(t, err)

	order, err := f.orders.GetByOrderID(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, entity.OrderStatusFilled, order.Status)
	require.Equal(t, int64(7), order.PositionID.Int64)
}

func TestHandleOrderEventWithoutOpenPosition(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture()

	err := f.service.HandleOrderEvent(ctx, &entity.OrderEvent{
		OrderID: 43,
		Symbol:  "BTCUSDT",
		Status:  entity.OrderStatusNew,
	})
	require.NoError(t, err)

	order, err := f.orders.GetByOrderID(ctx, 43)
	require.NoError(t, err)
	require.False(t, order.PositionID.Valid)
}

func TestHandleLeverageEvent(t *testing.T) {
	f := newReconcilerFixture()

	err := f.service.HandleLeverageEvent(context.Background(), &entity.LeverageEvent{
		Symbol:   "BTCUSDT",
		Leverage: 25,
	})
	require.NoError(t, err)
	require.Equal(t, 25, f.symbols.leverage["BTCUSDT"])
}
