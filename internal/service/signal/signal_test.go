package signal

import (
	"context"
	"testing"

	"github.com/romnatson3/copy-trade/internal/entity"
	"github.com/stretchr/testify/require"
)

type fakePositionStore struct {
	open      map[string]*entity.Position
	sideCount map[entity.OrderSide]int
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{open: map[string]*entity.Position{}, sideCount: map[entity.OrderSide]int{}}
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
	var open []entity.Position
	for _, position := range s.open {
		open = append(open, *position)
	}
	return open, nil
}

func (s *fakePositionStore) CountOpenBySide(_ context.Context, side entity.OrderSide) (int, error) {
	return s.sideCount[side], nil
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

func (s *fakeSymbolStore) UpdateLeverage(_ context.Context, symbol string, leverage int) error {
	if found, ok := s.symbols[symbol]; ok {
		found.Leverage = leverage
	}
	return nil
}

type fakeMainSettingsStore struct {
	settings entity.MainSettings
}

func (s *fakeMainSettingsStore) Get(_ context.Context) (*entity.MainSettings, error) {
	clone := s.settings
	return &clone, nil
}

func newValidationService(settings entity.MainSettings, positions *fakePositionStore) *Service {
	return &Service{
		positions: positions,
		symbols: &fakeSymbolStore{symbols: map[string]*entity.Symbol{
			"BTCUSDT": {Symbol: "BTCUSDT", IsActive: true, Leverage: 10},
			"XRPUSDT": {Symbol: "XRPUSDT", IsActive: false, Leverage: 10},
		}},
		mainSettings: &fakeMainSettingsStore{settings: settings},
	}
}

func TestValidateSignalAccepts(t *testing.T) {
	service := newValidationService(entity.MainSettings{
		SignalSourceName: entity.SignalSourceRSI,
	}, newFakePositionStore())

	err := service.ValidateSignal(context.Background(), "BTCUSDT", entity.OrderSideBuy, entity.SignalSourceRSI)
	require.NoError(t, err)
}

func TestValidateSignalRejections(t *testing.T) {
	tests := []struct {
		name      string
		settings  entity.MainSettings
		positions func() *fakePositionStore
		symbol    string
		side      entity.OrderSide
		signal    entity.SignalSource
		wantErr   error
	}{
		{
			name:     "wrong signal source",
			settings: entity.MainSettings{SignalSourceName: entity.SignalSourceRSI},
			symbol:   "BTCUSDT",
			side:     entity.OrderSideBuy,
			signal:   entity.SignalSourceTelegram,
			wantErr:  entity.ErrSignalSource,
		},
		{
			name:     "short rejected in bull mode",
			settings: entity.MainSettings{SignalSourceName: entity.SignalSourceRSI, BullMode: true},
			symbol:   "BTCUSDT",
			side:     entity.OrderSideSell,
			signal:   entity.SignalSourceRSI,
			wantErr:  entity.ErrTradeSideDisabled,
		},
		{
			name:     "long rejected in bear mode",
			settings: entity.MainSettings{SignalSourceName: entity.SignalSourceRSI, BearMode: true},
			symbol:   "BTCUSDT",
			side:     entity.OrderSideBuy,
			signal:   entity.SignalSourceRSI,
			wantErr:  entity.ErrTradeSideDisabled,
		},
		{
			name:     "long position limit reached",
			settings: entity.MainSettings{SignalSourceName: entity.SignalSourceRSI, LongPositionLimit: 2},
			positions: func() *fakePositionStore {
				positions := newFakePositionStore()
				positions.sideCount[entity.OrderSideBuy] = 2
				return positions
			},
			symbol:  "BTCUSDT",
			side:    entity.OrderSideBuy,
			signal:  entity.SignalSourceRSI,
			wantErr: entity.ErrPositionLimit,
		},
		{
			name:     "short position limit reached",
			settings: entity.MainSettings{SignalSourceName: entity.SignalSourceRSI, ShortPositionLimit: 1},
			positions: func() *fakePositionStore {
				positions := newFakePositionStore()
				positions.sideCount[entity.OrderSideSell] = 1
				return positions
			},
			symbol:  "BTCUSDT",
			side:    entity.OrderSideSell,
			signal:  entity.SignalSourceRSI,
			wantErr: entity.ErrPositionLimit,
		},
		{
			name:     "unknown symbol",
			settings: entity.MainSettings{SignalSourceName: entity.SignalSourceRSI},
			symbol:   "DOGEUSDT",
			side:     entity.OrderSideBuy,
			signal:   entity.SignalSourceRSI,
			wantErr:  entity.ErrSymbolNotFound,
		},
		{
			name:     "inactive symbol",
			settings: entity.MainSettings{SignalSourceName: entity.SignalSourceRSI},
			symbol:   "XRPUSDT",
			side:     entity.OrderSideBuy,
			signal:   entity.SignalSourceRSI,
			wantErr:  entity.ErrSymbolInactive,
		},
		{
			name:     "position already open",
			settings: entity.MainSettings{SignalSourceName: entity.SignalSourceRSI},
			positions: func() *fakePositionStore {
				positions := newFakePositionStore()
				positions.open["BTCUSDT"] = &entity.Position{ID: 1, Symbol: "BTCUSDT", IsOpen: true}
				return positions
			},
			symbol:  "BTCUSDT",
			side:    entity.OrderSideBuy,
			signal:  entity.SignalSourceRSI,
			wantErr: entity.ErrPositionOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			positions := newFakePositionStore()
			if tt.positions != nil {
				positions = tt.positions()
			}
			service := newValidationService(tt.settings, positions)

			err := service.ValidateSignal(context.Background(), tt.symbol, tt.side, tt.signal)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// A zero limit means unlimited positions on that side.
func TestValidateSignalZeroLimitIsUnlimited(t *testing.T) {
	positions := newFakePositionStore()
	positions.sideCount[entity.OrderSideBuy] = 50

	service := newValidationService(entity.MainSettings{
		SignalSourceName: entity.SignalSourceRSI,
	}, positions)

	err := service.ValidateSignal(context.Background(), "BTCUSDT", entity.OrderSideBuy, entity.SignalSourceRSI)
	require.NoError(t, err)
}
