package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/guregu/null/v6"
	"github.com/romnatson3/copy-trade/internal/constant"
	"github.com/romnatson3/copy-trade/internal/entity"
	"github.com/sirupsen/logrus"
)

// Store interfaces are narrowed to what reconciliation needs so tests can run
// against in-memory fakes.

type positionStore interface {
	Create(ctx context.Context, position *entity.Position) error
	Update(ctx context.Context, position *entity.Position) error
	GetOpenBySymbol(ctx context.Context, symbol string) (*entity.Position, error)
}

type positionSettingsStore interface {
	Create(ctx context.Context, settings *entity.PositionSettings) error
}

type orderStore interface {
	Upsert(ctx context.Context, order *entity.Order) error
	GetByOrderID(ctx context.Context, orderID int64) (*entity.Order, error)
	AttachOrphans(ctx context.Context, positionID int64, symbol string, transactionTime int64) (int64, error)
}

type symbolStore interface {
	GetBySymbol(ctx context.Context, symbol string) (*entity.Symbol, error)
	UpdateLeverage(ctx context.Context, symbol string, leverage int) error
}

type mainSettingsStore interface {
	Get(ctx context.Context) (*entity.MainSettings, error)
}

type marketCache interface {
	SetMarketPrice(ctx context.Context, symbol string, price float64) error
	GetMarketPrice(ctx context.Context, symbol string) (float64, error)
	TakeManualSettings(ctx context.Context, symbol string) (*entity.ProtectiveRates, error)
}

type publisher interface {
	Publish(ctx context.Context, subject string, data any) error
}

// Service keeps the mirror store consistent with what the exchange reports,
// through stream events and periodic pulls.
type Service struct {
	positions    positionStore
	settings     positionSettingsStore
	orders       orderStore
	symbols      symbolStore
	mainSettings mainSettingsStore
	cache        marketCache
	events       publisher
}

func NewService(
	positions positionStore,
	settings positionSettingsStore,
	orders orderStore,
	symbols symbolStore,
	mainSettings mainSettingsStore,
	cache marketCache,
	events publisher,
) *Service {
	return &Service{
		positions:    positions,
		settings:     settings,
		orders:       orders,
		symbols:      symbols,
		mainSettings: mainSettings,
		cache:        cache,
		events:       events,
	}
}

// HandleMarkPrices refreshes the short-lived price cache from one mark-price
// frame covering all symbols.
func (s *Service) HandleMarkPrices(ctx context.Context, entries []any) {
	updated := 0
	for _, entry := range entries {
		raw, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		symbol, _ := raw["s"].(string)
		priceRaw, _ := raw["p"].(string)
		if symbol == "" || priceRaw == "" {
			continue
		}
		price, err := parsePrice(priceRaw)
		if err != nil {
			continue
		}
		if err := s.cache.SetMarketPrice(ctx, symbol, price); err != nil {
			logrus.WithError(err).WithField("symbol", symbol).Error("failed to cache market price")
			continue
		}
		updated++
	}
	logrus.WithField("count", updated).Trace("updated market prices")
}

// HandleOrderEvent upserts the order snapshot. A first-seen order is attached
// to the symbol's current open position when one exists.
func (s *Service) HandleOrderEvent(ctx context.Context, event *entity.OrderEvent) error {
	log := logrus.WithFields(logrus.Fields{
		"symbol": event.Symbol,
		"side":   event.Side,
		"id":     event.OrderID,
	})

	order := event.ToOrder()

	existing, err := s.orders.GetByOrderID(ctx, event.OrderID)
	switch {
	case errors.Is(err, entity.ErrOrderNotFound):
		if position, perr := s.positions.GetOpenBySymbol(ctx, event.Symbol); perr == nil {
			order.PositionID = null.IntFrom(position.ID)
		}
		if err := s.orders.Upsert(ctx, &order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		log.WithFields(logrus.Fields{"status": order.Status, "orig_qty": order.OrigQty}).Debug("created order in database")
	case err != nil:
		return err
	default:
		order.PositionID = existing.PositionID
		if err := s.orders.Upsert(ctx, &order); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		log.WithFields(logrus.Fields{"status": order.Status, "orig_qty": order.OrigQty}).Info("updated order in database")
	}

	return nil
}

// HandlePositionEvent applies one account-update position entry to the mirror.
// Nonzero amount with no open position creates one (and its settings), zero
// amount closes the open one, nonzero with an open one updates in place.
func (s *Service) HandlePositionEvent(ctx context.Context, event *entity.PositionEvent) error {
	log := logrus.WithField("symbol", event.Symbol)

	if _, err := s.symbols.GetBySymbol(ctx, event.Symbol); err != nil {
		return err
	}

	position, err := s.positions.GetOpenBySymbol(ctx, event.Symbol)
	if errors.Is(err, entity.ErrPositionNotFound) {
		if event.PositionAmt == 0 {
			return nil
		}
		return s.openPosition(ctx, event)
	}
	if err != nil {
		return err
	}

	if event.PositionAmt == 0 {
		position.IsOpen = false
		position.AccumulatedRealized = event.AccumulatedRealized
		if price, perr := s.cache.GetMarketPrice(ctx, event.Symbol); perr == nil && price > 0 {
			position.MarkPrice = null.FloatFrom(price)
		}
		applyTimes(position, event)
		if err := s.positions.Update(ctx, position); err != nil {
			return fmt.Errorf("close position: %w", err)
		}
		log.WithFields(logrus.Fields{
			"side": position.Side,
			"id":   position.ID,
		}).Warn("closed position in database")

		return s.events.Publish(ctx, constant.PositionStreamSubjectCancelOrders, entity.CancelOpenOrdersEvent{Symbol: event.Symbol})
	}

	applyEvent(position, event)
	if err := s.positions.Update(ctx, position); err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	log.WithFields(logrus.Fields{
		"side":         position.Side,
		"id":           position.ID,
		"position_amt": position.PositionAmt,
	}).Trace("updated position in database")

	return nil
}

func (s *Service) openPosition(ctx context.Context, event *entity.PositionEvent) error {
	position := &entity.Position{
		Symbol:     event.Symbol,
		IsOpen:     true,
		EntryPrice: event.EntryPrice,
	}
	applyEvent(position, event)
	if event.PositionAmt > 0 {
		position.PositionSide = entity.PositionSideLong
		position.Side = entity.OrderSideBuy
	} else {
		position.PositionSide = entity.PositionSideShort
		position.Side = entity.OrderSideSell
	}

	if err := s.positions.Create(ctx, position); err != nil {
		return fmt.Errorf("create position: %w", err)
	}

	log := logrus.WithFields(logrus.Fields{
		"symbol": event.Symbol,
		"side":   position.Side,
		"id":     position.ID,
	})
	log.WithFields(logrus.Fields{
		"position_amt": position.PositionAmt,
		"entry_price":  position.EntryPrice,
	}).Warn("created position in database")

	mainSettings, err := s.mainSettings.Get(ctx)
	if err != nil {
		return fmt.Errorf("read main settings: %w", err)
	}
	rates := mainSettings.ProtectiveRates()

	override, err := s.cache.TakeManualSettings(ctx, event.Symbol)
	if err != nil {
		log.WithError(err).Error("failed to read manual settings")
	}
	if override != nil {
		rates = *override
		log.Trace("applied manual settings from cache")
	}

	settings := &entity.PositionSettings{
		PositionID:                      position.ID,
		TakeProfitRate:                  rates.TakeProfitRate,
		StopLossRate:                    rates.StopLossRate,
		TrailingStopCallbackRate:        rates.TrailingStopCallbackRate,
		TrailingStopActivationPriceRate: rates.TrailingStopActivationPriceRate,
	}
	if err := s.settings.Create(ctx, settings); err != nil {
		return fmt.Errorf("create position settings: %w", err)
	}
	log.WithField("rates", rates).Info("created position settings")

	if event.TransactionTime.Valid {
		linked, err := s.orders.AttachOrphans(ctx, position.ID, event.Symbol, event.TransactionTime.Int64)
		if err != nil {
			return fmt.Errorf("attach orders: %w", err)
		}
		if linked > 0 {
			log.WithField("count", linked).Info("referenced orders to position in database")
		}
	}

	return s.events.Publish(ctx, constant.PositionStreamSubjectOpened, entity.PositionOpenedEvent{PositionID: position.ID})
}

// HandleLeverageEvent stores the leverage the master account switched to.
func (s *Service) HandleLeverageEvent(ctx context.Context, event *entity.LeverageEvent) error {
	if err := s.symbols.UpdateLeverage(ctx, event.Symbol, event.Leverage); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"symbol":   event.Symbol,
		"leverage": event.Leverage,
	}).Info("updated symbol leverage")
	return nil
}

func applyEvent(position *entity.Position, event *entity.PositionEvent) {
	position.PositionAmt = event.PositionAmt
	if event.EntryPrice != 0 {
		position.EntryPrice = event.EntryPrice
	}
	position.BreakEvenPrice = event.BreakEvenPrice
	if event.UnrealizedProfit.Valid {
		position.UnrealizedProfit = event.UnrealizedProfit.Float64
	}
	if event.AccumulatedRealized.Valid {
		position.AccumulatedRealized = event.AccumulatedRealized
	}
	if event.Notional.Valid {
		position.Notional = event.Notional
	}
	if event.MarkPrice.Valid {
		position.MarkPrice = event.MarkPrice
	}
	if event.LiquidationPrice.Valid {
		position.LiquidationPrice = event.LiquidationPrice
	}
	applyTimes(position, event)
}

func parsePrice(raw string) (float64, error) {
	return strconv.ParseFloat(raw, 64)
}

func applyTimes(position *entity.Position, event *entity.PositionEvent) {
	if event.UpdateTime.Valid {
		position.UpdateTime = event.UpdateTime
	}
	if event.TransactionTime.Valid {
		position.TransactionTime = event.TransactionTime
	}
}
