package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/guregu/null/v6"
	"github.com/romnatson3/copy-trade/internal/config"
	"github.com/romnatson3/copy-trade/internal/entity"
	"github.com/romnatson3/copy-trade/internal/service/binance"
	"github.com/stretchr/testify/require"
)

type fakeAccountStore struct {
	master    entity.MasterAccount
	followers []entity.CopyTradeAccount
}

func (s *fakeAccountStore) GetMasterAccount(_ context.Context) (*entity.MasterAccount, error) {
	clone := s.master
	return &clone, nil
}

func (s *fakeAccountStore) ListCopyTradeAccounts(_ context.Context) ([]entity.CopyTradeAccount, error) {
	return s.followers, nil
}

func (s *fakeAccountStore) GetCopyTradeAccount(_ context.Context, id int64) (*entity.CopyTradeAccount, error) {
	for _, account := range s.followers {
		if account.ID == id {
			clone := account
			return &clone, nil
		}
	}
	return nil, entity.ErrAccountNotFound
}

type fakeSymbolStore struct {
	symbols map[string]*entity.Symbol
}

func (s *fakeSymbolStore) GetBySymbol(_ context.Context, symbol string) (*entity.Symbol, error) {
	found, ok := s.symbols[symbol]
	if !ok {
		return nil, entity.ErrSymbolNotFound
	}
	return found, nil
}

type fakeMainSettingsStore struct {
	settings entity.MainSettings
}

func (s *fakeMainSettingsStore) Get(_ context.Context) (*entity.MainSettings, error) {
	clone := s.settings
	return &clone, nil
}

type fakeCopyOrderStore struct {
	orders map[int64]*entity.CopyTradeOrder
}

func (s *fakeCopyOrderStore) Upsert(_ context.Context, order *entity.CopyTradeOrder) error {
	if s.orders == nil {
		s.orders = map[int64]*entity.CopyTradeOrder{}
	}
	clone := *order
	s.orders[order.OrderID] = &clone
	return nil
}

func (s *fakeCopyOrderStore) GetByMasterOrderID(_ context.Context, accountID, masterOrderID int64) (*entity.CopyTradeOrder, error) {
	for _, order := range s.orders {
		if order.CopyTradeAccountID == accountID && order.MasterOrderID.Int64 == masterOrderID {
			clone := *order
			return &clone, nil
		}
	}
	return nil, entity.ErrOrderNotFound
}

func testSymbol(t *testing.T) *entity.Symbol {
	t.Helper()

	data, err := json.Marshal(entity.SymbolData{
		Symbol:            "BTCUSDT",
		QuantityPrecision: 3,
		Filters: []entity.SymbolFilter{
			{FilterType: "PRICE_FILTER", TickSize: "0.10"},
		},
	})
	require.NoError(t, err)

	return &entity.Symbol{Symbol: "BTCUSDT", Data: data, IsActive: true, Leverage: 10}
}

func newTestService(t *testing.T) (*ReplicationService, *fakeCopyOrderStore) {
	t.Helper()

	copyOrders := &fakeCopyOrderStore{}
	service := &ReplicationService{
		cfg: config.BinanceConfig{RestBaseURL: "https://fapi.invalid"},
		accounts: &fakeAccountStore{
			master: entity.MasterAccount{ID: 1, Testnet: false},
			followers: []entity.CopyTradeAccount{
				{ID: 10, APIKey: "key-a", APISecret: "secret-a"},
			},
		},
		symbols:    &fakeSymbolStore{symbols: map[string]*entity.Symbol{"BTCUSDT": testSymbol(t)}},
		settings:   &fakeMainSettingsStore{settings: entity.MainSettings{Coefficient: 0.5}},
		copyOrders: copyOrders,
		newClient:  binance.NewClient,
	}
	return service, copyOrders
}

func TestReplicatedQuantity(t *testing.T) {
	tests := []struct {
		name        string
		masterQty   float64
		coefficient float64
		want        float64
	}{
		{name: "halved", masterQty: 0.5, coefficient: 0.5, want: 0.25},
		{name: "unchanged", masterQty: 0.123, coefficient: 1, want: 0.123},
		{name: "rounded to three places", masterQty: 0.1, coefficient: 0.3333, want: 0.033},
		{name: "amplified", masterQty: 2, coefficient: 1.5, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, ReplicatedQuantity(tt.masterQty, tt.coefficient), 1e-9)
		})
	}
}

func TestReplicateOrderTerminalStatusesAreNoOps(t *testing.T) {
	service, copyOrders := newTestService(t)

	for _, status := range []string{entity.OrderStatusFilled, entity.OrderStatusExpired} {
		err := service.ReplicateOrder(context.Background(), 10, &entity.OrderEvent{
			OrderID: 42,
			Symbol:  "BTCUSDT",
			Status:  status,
		})
		require.NoError(t, err)
	}
	require.Empty(t, copyOrders.orders)
}

func TestReplicateOrderUnsupportedTypeIsSkipped(t *testing.T) {
	service, copyOrders := newTestService(t)

	err := service.ReplicateOrder(context.Background(), 10, &entity.OrderEvent{
		OrderID:   42,
		Symbol:    "BTCUSDT",
		Status:    entity.OrderStatusNew,
		Side:      entity.OrderSideBuy,
		OrderType: entity.OrderType("LIQUIDATION"),
		OrigQty:   1,
	})
	require.NoError(t, err)
	require.Empty(t, copyOrders.orders)
}

func TestReplicateOrderCanceledWithoutMirrorIsFinal(t *testing.T) {
	service, _ := newTestService(t)

	// The master canceled an order this follower never mirrored. That is
	// logged and dropped, not retried.
	err := service.ReplicateOrder(context.Background(), 10, &entity.OrderEvent{
		OrderID: 42,
		Symbol:  "BTCUSDT",
		Status:  entity.OrderStatusCanceled,
		Side:    entity.OrderSideBuy,
	})
	require.NoError(t, err)
}

func TestReplicateOrderUnknownAccount(t *testing.T) {
	service, _ := newTestService(t)

	err := service.ReplicateOrder(context.Background(), 99, &entity.OrderEvent{
		OrderID: 42,
		Symbol:  "BTCUSDT",
		Status:  entity.OrderStatusNew,
	})
	require.ErrorIs(t, err, entity.ErrAccountNotFound)
}

func TestToCopyTradeOrderKeepsMasterReference(t *testing.T) {
	placed := entity.OrderEvent{
		OrderID: 1001,
		Symbol:  "BTCUSDT",
		Status:  entity.OrderStatusNew,
		Side:    entity.OrderSideBuy,
		OrigQty: 0.25,
		Price:   null.FloatFrom(64000),
	}

	mirror := placed.ToCopyTradeOrder(10, 42)
	require.Equal(t, int64(1001), mirror.OrderID)
	require.Equal(t, int64(10), mirror.CopyTradeAccountID)
	require.Equal(t, int64(42), mirror.MasterOrderID.Int64)
	require.Equal(t, 0.25, mirror.OrigQty)
}

func TestReplicateOrderNewPlacesMirrorOnEachFollower(t *testing.T) {
	var mu sync.Mutex
	var placed []url.Values
	nextOrderID := int64(9000)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/fapi/v1/order", r.URL.Path)
		require.NoError(t, r.ParseForm())

		mu.Lock()
		placed = append(placed, r.PostForm)
		nextOrderID++
		orderID := nextOrderID
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"orderId": %d, "symbol": "BTCUSDT", "status": "NEW", "side": "BUY",
			"type": "MARKET", "origType": "MARKET", "origQty": "0.250", "price": "0",
			"avgPrice": "0.00000", "workingType": "MARK_PRICE", "timeInForce": "GTC",
			"reduceOnly": false, "updateTime": 1700000000000}`, orderID)
	}))
	defer server.Close()

	copyOrders := &fakeCopyOrderStore{}
	service := &ReplicationService{
		cfg: config.BinanceConfig{RestBaseURL: server.URL},
		accounts: &fakeAccountStore{
			master: entity.MasterAccount{ID: 1},
			followers: []entity.CopyTradeAccount{
				{ID: 10, APIKey: "key-a", APISecret: "secret-a"},
				{ID: 11, APIKey: "key-b", APISecret: "secret-b"},
			},
		},
		symbols:    &fakeSymbolStore{symbols: map[string]*entity.Symbol{"BTCUSDT": testSymbol(t)}},
		settings:   &fakeMainSettingsStore{settings: entity.MainSettings{Coefficient: 0.5}},
		copyOrders: copyOrders,
		newClient:  binance.NewClient,
	}

	master := &entity.OrderEvent{
		OrderID:   777,
		Symbol:    "BTCUSDT",
		Status:    entity.OrderStatusNew,
		Side:      entity.OrderSideBuy,
		OrderType: entity.OrderTypeMarket,
		OrigQty:   0.5,
	}

	ctx := context.Background()
	require.NoError(t, service.ReplicateOrder(ctx, 10, master))
	require.NoError(t, service.ReplicateOrder(ctx, 11, master))

	require.Len(t, placed, 2)
	for _, form := range placed {
		require.Equal(t, "BTCUSDT", form.Get("symbol"))
		require.Equal(t, "BUY", form.Get("side"))
		require.Equal(t, "MARKET", form.Get("type"))
		require.Equal(t, "0.25", form.Get("quantity"))
		require.NotEmpty(t, form.Get("signature"))
	}

	require.Len(t, copyOrders.orders, 2)
	seen := map[int64]bool{}
	for _, mirror := range copyOrders.orders {
		seen[mirror.CopyTradeAccountID] = true
		require.Equal(t, int64(777), mirror.MasterOrderID.Int64)
		require.Equal(t, entity.OrderStatusNew, mirror.Status)
		require.InDelta(t, 0.25, mirror.OrigQty, 1e-9)
	}
	require.True(t, seen[10])
	require.True(t, seen[11])
}
