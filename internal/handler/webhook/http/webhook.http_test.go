package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/romnatson3/copy-trade/internal/config"
	"github.com/romnatson3/copy-trade/internal/entity"
	"github.com/romnatson3/copy-trade/internal/service/signal"
	"github.com/stretchr/testify/require"
)

type fakePositionStore struct {
	open map[string]*entity.Position
}

func (s *fakePositionStore) GetByID(_ context.Context, id int64) (*entity.Position, error) {
	for _, position := range s.open {
		if position.ID == id {
			return position, nil
		}
	}
	return nil, entity.ErrPositionNotFound
}

func (s *fakePositionStore) GetOpenBySymbol(_ context.Context, symbol string) (*entity.Position, error) {
	position, ok := s.open[symbol]
	if !ok {
		return nil, entity.ErrPositionNotFound
	}
	return position, nil
}

func (s *fakePositionStore) GetOpen(_ context.Context) ([]entity.Position, error) {
	return nil, nil
}

func (s *fakePositionStore) CountOpenBySide(_ context.Context, _ entity.OrderSide) (int, error) {
	return 0, nil
}

type fakeSettingsStore struct{}

func (s *fakeSettingsStore) GetByPositionID(_ context.Context, _ int64) (*entity.PositionSettings, error) {
	return nil, entity.ErrPositionNotFound
}

func (s *fakeSettingsStore) Update(_ context.Context, _ *entity.PositionSettings) error {
	return nil
}

type fakeOrderStore struct{}

func (s *fakeOrderStore) GetByPositionID(_ context.Context, _ int64) ([]entity.Order, error) {
	return nil, nil
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

func (s *fakeSymbolStore) GetActive(_ context.Context) ([]entity.Symbol, error) {
	var active []entity.Symbol
	for _, symbol := range s.symbols {
		if symbol.IsActive {
			active = append(active, *symbol)
		}
	}
	return active, nil
}

func (s *fakeSymbolStore) UpdateLeverage(_ context.Context, _ string, _ int) error {
	return nil
}

type fakeMainSettingsStore struct {
	settings entity.MainSettings
}

func (s *fakeMainSettingsStore) Get(_ context.Context) (*entity.MainSettings, error) {
	clone := s.settings
	return &clone, nil
}

type fakeAccountStore struct{}

func (s *fakeAccountStore) GetMasterAccount(_ context.Context) (*entity.MasterAccount, error) {
	return &entity.MasterAccount{ID: 1}, nil
}

func newTestHandler(open map[string]*entity.Position) *Handler {
	service := signal.NewService(
		config.BinanceConfig{RestBaseURL: "https://fapi.invalid"},
		nil,
		nil,
		nil,
		&fakePositionStore{open: open},
		&fakeSettingsStore{},
		&fakeOrderStore{},
		&fakeSymbolStore{symbols: map[string]*entity.Symbol{
			"BTCUSDT": {Symbol: "BTCUSDT", IsActive: true, Leverage: 10},
		}},
		&fakeMainSettingsStore{settings: entity.MainSettings{SignalSourceName: entity.SignalSourceRSI}},
		&fakeAccountStore{},
	)
	return NewWebhookHTTPHandler(service)
}

func setTestConfig(t *testing.T, sourceIPs []string) {
	t.Helper()

	previous := config.Env
	config.Env = &config.EnvConfig{}
	config.Env.Signal.SourceIPs = sourceIPs
	t.Cleanup(func() { config.Env = previous })
}

func postSignal(t *testing.T, handler *Handler, body, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhook/v1/signal", strings.NewReader(body))
	req.RemoteAddr = remoteAddr
	recorder := httptest.NewRecorder()
	handler.Signal(recorder, req)
	return recorder
}

func TestSignalMethodNotAllowed(t *testing.T) {
	setTestConfig(t, nil)
	handler := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/webhook/v1/signal", nil)
	recorder := httptest.NewRecorder()
	handler.Signal(recorder, req)

	require.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}

func TestSignalSourceIPAllowlist(t *testing.T) {
	setTestConfig(t, []string{"203.0.113.7"})
	handler := newTestHandler(nil)

	recorder := postSignal(t, handler, `{"symbol":"BTCUSDT","side":"LONG","signal_name":"RSI"}`, "198.51.100.1:50000")
	require.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestSignalInvalidBody(t *testing.T) {
	setTestConfig(t, nil)
	handler := newTestHandler(nil)

	recorder := postSignal(t, handler, `{not json`, "198.51.100.1:50000")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestSignalMissingFields(t *testing.T) {
	setTestConfig(t, nil)
	handler := newTestHandler(nil)

	recorder := postSignal(t, handler, `{"symbol":"BTCUSDT"}`, "198.51.100.1:50000")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestSignalInvalidSide(t *testing.T) {
	setTestConfig(t, nil)
	handler := newTestHandler(nil)

	recorder := postSignal(t, handler, `{"symbol":"BTCUSDT","side":"BUY","signal_name":"RSI"}`, "198.51.100.1:50000")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, recorder.Body.String(), "LONG or SHORT")
}

func TestSignalUnknownSymbolIs404(t *testing.T) {
	setTestConfig(t, nil)
	handler := newTestHandler(nil)

	recorder := postSignal(t, handler, `{"symbol":"DOGEUSDT","side":"LONG","signal_name":"RSI"}`, "198.51.100.1:50000")
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestSignalOpenPositionIsRejected(t *testing.T) {
	setTestConfig(t, nil)
	handler := newTestHandler(map[string]*entity.Position{
		"BTCUSDT": {ID: 1, Symbol: "BTCUSDT", IsOpen: true},
	})

	recorder := postSignal(t, handler, `{"symbol":"BTCUSDT","side":"SHORT","signal_name":"RSI"}`, "198.51.100.1:50000")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestMapSignalSide(t *testing.T) {
	side, err := mapSignalSide("LONG")
	require.NoError(t, err)
	require.Equal(t, entity.OrderSideBuy, side)

	side, err = mapSignalSide("short")
	require.NoError(t, err)
	require.Equal(t, entity.OrderSideSell, side)

	_, err = mapSignalSide("BUY")
	require.ErrorIs(t, err, errInvalidSide)
}

func TestValidateProtectiveRates(t *testing.T) {
	tests := []struct {
		name    string
		req     PositionSettingsRequest
		wantErr bool
	}{
		{name: "take profit only", req: PositionSettingsRequest{TakeProfitRate: 5}},
		{name: "stop loss only", req: PositionSettingsRequest{StopLossRate: 10}},
		{name: "trailing stop pair", req: PositionSettingsRequest{TrailingStopCallbackRate: 1, TrailingStopActivationPriceRate: 2}},
		{name: "all zero", req: PositionSettingsRequest{}},
		{name: "take profit with trailing", req: PositionSettingsRequest{TakeProfitRate: 5, TrailingStopCallbackRate: 1, TrailingStopActivationPriceRate: 2}, wantErr: true},
		{name: "callback without activation", req: PositionSettingsRequest{TrailingStopCallbackRate: 1}, wantErr: true},
		{name: "activation without callback", req: PositionSettingsRequest{TrailingStopActivationPriceRate: 2}, wantErr: true},
		{name: "callback below range", req: PositionSettingsRequest{TrailingStopCallbackRate: 0.05, TrailingStopActivationPriceRate: 2}, wantErr: true},
		{name: "callback above range", req: PositionSettingsRequest{TrailingStopCallbackRate: 11, TrailingStopActivationPriceRate: 2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateProtectiveRates(&tt.req)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateOpenPositionRequest(t *testing.T) {
	valid := OpenPositionHTTPRequest{
		Symbol:     "BTCUSDT",
		Side:       "buy",
		OrderType:  "market",
		AmountUSDT: 100,
		Leverage:   10,
	}
	require.NoError(t, validateOpenPositionRequest(&valid))

	limitNoPrice := valid
	limitNoPrice.OrderType = "LIMIT"
	require.Error(t, validateOpenPositionRequest(&limitNoPrice))

	noAmount := valid
	noAmount.AmountUSDT = 0
	require.Error(t, validateOpenPositionRequest(&noAmount))

	badSide := valid
	badSide.Side = "LONG"
	require.Error(t, validateOpenPositionRequest(&badSide))

	badLeverage := valid
	badLeverage.Leverage = 0
	require.Error(t, validateOpenPositionRequest(&badLeverage))
}

func TestReducePositionValidation(t *testing.T) {
	setTestConfig(t, nil)
	handler := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/positions/reduce", strings.NewReader(`{"position_id":1,"quantity_rate":150}`))
	recorder := httptest.NewRecorder()
	handler.ReducePosition(recorder, req)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestIncreasePositionValidation(t *testing.T) {
	setTestConfig(t, nil)
	handler := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/positions/increase", strings.NewReader(`{"position_id":1,"multiplier":0}`))
	recorder := httptest.NewRecorder()
	handler.IncreasePosition(recorder, req)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestListSymbols(t *testing.T) {
	setTestConfig(t, nil)
	handler := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/symbols", nil)
	recorder := httptest.NewRecorder()
	handler.ListSymbols(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "BTCUSDT")
}

func TestUpdatePositionSettingsNotFound(t *testing.T) {
	setTestConfig(t, nil)
	handler := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/positions/settings", strings.NewReader(`{"position_id":99,"stop_loss_rate":10}`))
	recorder := httptest.NewRecorder()
	handler.UpdatePositionSettings(recorder, req)

	require.Equal(t, http.StatusNotFound, recorder.Code)
}
