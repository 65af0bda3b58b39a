package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/romnatson3/copy-trade/internal/config"
	"github.com/romnatson3/copy-trade/internal/constant"
	"github.com/romnatson3/copy-trade/internal/entity"
	"github.com/romnatson3/copy-trade/internal/service/binance"
	"github.com/romnatson3/copy-trade/internal/service/lock"
	"github.com/romnatson3/copy-trade/internal/util"
	"github.com/sirupsen/logrus"
)

// Lock TTLs bound how long a crashed worker can keep a symbol or position
// blocked for the rest of the fleet.
const (
	openPositionLockTTL    = time.Minute
	protectiveOrderLockTTL = time.Minute
	cancelAllOrdersLockTTL = time.Minute
)

type positionStore interface {
	GetByID(ctx context.Context, id int64) (*entity.Position, error)
	GetOpenBySymbol(ctx context.Context, symbol string) (*entity.Position, error)
	GetOpen(ctx context.Context) ([]entity.Position, error)
	CountOpenBySide(ctx context.Context, side entity.OrderSide) (int, error)
}

type positionSettingsStore interface {
	GetByPositionID(ctx context.Context, positionID int64) (*entity.PositionSettings, error)
	Update(ctx context.Context, settings *entity.PositionSettings) error
}

type orderStore interface {
	GetByPositionID(ctx context.Context, positionID int64) ([]entity.Order, error)
}

type symbolStore interface {
	GetBySymbol(ctx context.Context, symbol string) (*entity.Symbol, error)
	GetActive(ctx context.Context) ([]entity.Symbol, error)
	UpdateLeverage(ctx context.Context, symbol string, leverage int) error
}

type mainSettingsStore interface {
	Get(ctx context.Context) (*entity.MainSettings, error)
}

type accountStore interface {
	GetMasterAccount(ctx context.Context) (*entity.MasterAccount, error)
}

type clientFactory func(cfg config.BinanceConfig, creds binance.Credentials, testnet bool) (*binance.Client, error)

// Service drives all master-account trading: it opens positions on incoming
// signals, places protective orders after a position opens and cancels the
// orders left behind when one closes. Every unit of work runs under a
// distributed lock keyed by the symbol or position it touches.
type Service struct {
	cfg          config.BinanceConfig
	js           nats.JetStreamContext
	locks        lock.Store
	cache        *lock.Cache
	positions    positionStore
	settings     positionSettingsStore
	orders       orderStore
	symbols      symbolStore
	mainSettings mainSettingsStore
	accounts     accountStore
	newClient    clientFactory
}

func NewService(
	cfg config.BinanceConfig,
	js nats.JetStreamContext,
	locks lock.Store,
	cache *lock.Cache,
	positions positionStore,
	settings positionSettingsStore,
	orders orderStore,
	symbols symbolStore,
	mainSettings mainSettingsStore,
	accounts accountStore,
) *Service {
	return &Service{
		cfg:          cfg,
		js:           js,
		locks:        locks,
		cache:        cache,
		positions:    positions,
		settings:     settings,
		orders:       orders,
		symbols:      symbols,
		mainSettings: mainSettings,
		accounts:     accounts,
		newClient:    binance.NewClient,
	}
}

func (s *Service) JetstreamEventInit(ctx context.Context) error {
	streamConfig := &nats.StreamConfig{
		Name:      constant.PositionStreamName,
		Subjects:  []string{constant.PositionStreamSubjectAll},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
	}

	stream, err := s.js.StreamInfo(constant.PositionStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.PositionStreamName)
		_, err = s.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.PositionStreamName)
	_, err = s.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	return nil
}

func (s *Service) JetstreamEventSubscribe(ctx context.Context) error {
	err := s.JetstreamEventInit(ctx)
	if err != nil {
		logrus.Error(err)
		return err
	}

	subscriptions := []struct {
		subject    string
		queue      string
		timeoutKey string
		handler    func(ctx context.Context, msg *nats.Msg) error
	}{
		{constant.PositionStreamSubjectOpened, constant.PositionOpenedQueueName, "position_opened", s.handlePositionOpened},
		{constant.PositionStreamSubjectCancelOrders, constant.PositionCancelOrdersQueueName, "position_cancel_orders", s.handleCancelOrders},
		{constant.PositionStreamSubjectSignal, constant.PositionSignalQueueName, "position_signal", s.handleOpenSignal},
	}

	for _, sub := range subscriptions {
		handler := sub.handler
		timeout := config.Env.NatsJetstream.TimeoutHandler[sub.timeoutKey]

		_, err = s.js.QueueSubscribe(
			sub.subject,
			sub.queue,
			func(msg *nats.Msg) {
				err := util.ProcessWithTimeout(timeout, msg, handler)
				if err != nil {
					logrus.Errorf("error processing message: %v", err)
					return
				}

				err = msg.Ack()
				if err != nil {
					logrus.Errorf("failed to acknowledge message: %v", err)
					return
				}
			},
			nats.ManualAck(),
			nats.Durable(sub.queue),
		)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) handlePositionOpened(ctx context.Context, msg *nats.Msg) (err error) {
	logger := logrus.WithField("req", string(msg.Data))

	var req *entity.PositionOpenedEvent
	err = json.Unmarshal(msg.Data, &req)
	if err != nil {
		logger.Error(err)
		return err
	}

	defer func() {
		if err != nil {
			logger.Error(err)
			req.RetryCount++
			if req.RetryCount >= config.Env.NatsJetstream.MaxRetries {
				return
			}

			err := util.PublishEvent(s.js, constant.PositionStreamSubjectOpened, req)
			if err != nil {
				logger.Error(err)
			}
		}
	}()

	err = s.PlaceProtectiveOrders(ctx, req.PositionID)
	if errors.Is(err, lock.ErrAlreadyLocked) {
		logger.Trace("protective order placement is already running")
		return nil
	}
	if errors.Is(err, entity.ErrPlaceOrder) {
		req.RetryCount = config.Env.NatsJetstream.MaxRetries
		return nil
	}

	return err
}

func (s *Service) handleCancelOrders(ctx context.Context, msg *nats.Msg) (err error) {
	logger := logrus.WithField("req", string(msg.Data))

	var req *entity.CancelOpenOrdersEvent
	err = json.Unmarshal(msg.Data, &req)
	if err != nil {
		logger.Error(err)
		return err
	}

	defer func() {
		if err != nil {
			logger.Error(err)
			req.RetryCount++
			if req.RetryCount >= config.Env.NatsJetstream.MaxRetries {
				return
			}

			err := util.PublishEvent(s.js, constant.PositionStreamSubjectCancelOrders, req)
			if err != nil {
				logger.Error(err)
			}
		}
	}()

	err = s.CancelAllOpenOrders(ctx, req.Symbol)
	if errors.Is(err, lock.ErrAlreadyLocked) {
		logger.Trace("cancel all open orders is already running")
		return nil
	}
	if errors.Is(err, entity.ErrCancelOrder) {
		req.RetryCount = config.Env.NatsJetstream.MaxRetries
		return nil
	}

	return err
}

func (s *Service) handleOpenSignal(ctx context.Context, msg *nats.Msg) (err error) {
	logger := logrus.WithField("req", string(msg.Data))

	var req *entity.OpenPositionSignalEvent
	err = json.Unmarshal(msg.Data, &req)
	if err != nil {
		logger.Error(err)
		return err
	}

	defer func() {
		if err != nil {
			logger.Error(err)
			req.RetryCount++
			if req.RetryCount >= config.Env.NatsJetstream.MaxRetries {
				return
			}

			err := util.PublishEvent(s.js, constant.PositionStreamSubjectSignal, req)
			if err != nil {
				logger.Error(err)
			}
		}
	}()

	err = s.OpenPositionSignal(ctx, req.Symbol, req.Side)
	if errors.Is(err, lock.ErrAlreadyLocked) {
		logger.Trace("open position is already running")
		return nil
	}
	if errors.Is(err, entity.ErrPlaceOrder) {
		req.RetryCount = config.Env.NatsJetstream.MaxRetries
		return nil
	}

	return err
}

// masterClient builds a REST client from the stored master credentials. The
// row is re-read on every call so credential changes apply without a restart.
func (s *Service) masterClient(ctx context.Context) (*binance.Client, error) {
	master, err := s.accounts.GetMasterAccount(ctx)
	if err != nil {
		return nil, err
	}

	return s.newClient(s.cfg, binance.Credentials{
		APIKey:    master.APIKey,
		APISecret: master.APISecret,
	}, master.Testnet)
}

// PlaceProtectiveOrders places the take-profit, stop-loss and trailing-stop
// orders a freshly opened position asked for. Zero rates mean the order type
// is disabled. The trailing stop needs both its rates.
func (s *Service) PlaceProtectiveOrders(ctx context.Context, positionID int64) error {
	key := constant.LockKeyProtectiveOrders(positionID)

	return lock.WithLock(ctx, s.locks, key, protectiveOrderLockTTL, lock.Options{}, func(ctx context.Context) error {
		position, err := s.positions.GetByID(ctx, positionID)
		if err != nil {
			return err
		}
		if !position.IsOpen {
			logrus.WithField("id", positionID).Warn("position is already closed, skipping protective orders")
			return nil
		}

		settings, err := s.settings.GetByPositionID(ctx, positionID)
		if err != nil {
			return err
		}

		symbol, err := s.symbols.GetBySymbol(ctx, position.Symbol)
		if err != nil {
			return err
		}

		client, err := s.masterClient(ctx)
		if err != nil {
			return err
		}

		executor, err := binance.NewTradeExecutor(client, symbol, position.Side, position.Quantity())
		if err != nil {
			return err
		}

		if settings.TakeProfitRate > 0 {
			price := position.TakeProfitPrice(settings.TakeProfitRate, symbol.Leverage)
			if _, err := executor.PlaceTakeProfitMarketOrder(ctx, price, 0, false); err != nil {
				return err
			}
		}
		if settings.StopLossRate > 0 {
			price := position.StopLossPrice(settings.StopLossRate, symbol.Leverage)
			if _, err := executor.PlaceStopLossMarketOrder(ctx, price); err != nil {
				return err
			}
		}
		if settings.TrailingStopCallbackRate > 0 && settings.TrailingStopActivationPriceRate > 0 {
			activationPrice := position.TrailingStopActivationPrice(settings.TrailingStopActivationPriceRate)
			if _, err := executor.PlaceTrailingStopMarketOrder(ctx, settings.TrailingStopCallbackRate, activationPrice); err != nil {
				return err
			}
		}

		return nil
	})
}

// CancelAllOpenOrders removes every working order on the symbol, typically
// the protective orders left behind by a position that just closed.
func (s *Service) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	key := constant.LockKeyCancelAllOpenOrders(symbol)

	return lock.WithLock(ctx, s.locks, key, cancelAllOrdersLockTTL, lock.Options{}, func(ctx context.Context) error {
		client, err := s.masterClient(ctx)
		if err != nil {
			return err
		}

		return binance.NewOrderCanceler(client, symbol).CancelAllOpenOrders(ctx)
	})
}

// OpenPositionSignal opens a market position on a validated external signal:
// leverage falls back to the configured default, stale working orders and any
// staged manual override are dropped first, and the quantity comes from the
// global per-position USDT amount at the cached mark price.
func (s *Service) OpenPositionSignal(ctx context.Context, symbolName string, side entity.OrderSide) error {
	key := constant.LockKeyOpenPosition(symbolName)

	return lock.WithLock(ctx, s.locks, key, openPositionLockTTL, lock.Options{GuardLimitUsage: true}, func(ctx context.Context) error {
		symbol, err := s.symbols.GetBySymbol(ctx, symbolName)
		if err != nil {
			return err
		}

		if err := s.symbols.UpdateLeverage(ctx, symbol.Symbol, s.cfg.DefaultLeverage); err != nil {
			return err
		}
		symbol.Leverage = s.cfg.DefaultLeverage

		client, err := s.masterClient(ctx)
		if err != nil {
			return err
		}

		if err := binance.NewOrderCanceler(client, symbol.Symbol).CancelAllOpenOrders(ctx); err != nil {
			return err
		}
		if err := s.cache.DeleteManualSettings(ctx, symbol.Symbol); err != nil {
			return err
		}

		mainSettings, err := s.mainSettings.Get(ctx)
		if err != nil {
			return err
		}

		marketPrice, err := s.cache.GetMarketPrice(ctx, symbol.Symbol)
		if err != nil {
			return err
		}

		quantity, err := binance.QuantityFromUSDT(symbol, mainSettings.AmountUSDT, marketPrice)
		if err != nil {
			return err
		}

		executor, err := binance.NewTradeExecutor(client, symbol, side, quantity)
		if err != nil {
			return err
		}

		if err := executor.SetLeverage(ctx, symbol.Leverage); err != nil {
			return err
		}

		placed, err := executor.PlaceMarketOrder(ctx, 0, false)
		if err != nil {
			return err
		}

		logrus.WithFields(logrus.Fields{
			"symbol":   symbol.Symbol,
			"side":     side,
			"id":       placed.OrderID,
			"orig_qty": placed.OrigQty,
		}).Info("opened position from signal")
		return nil
	})
}

// FanOutSignal publishes a validated signal for asynchronous execution.
func (s *Service) FanOutSignal(ctx context.Context, symbol string, side entity.OrderSide) error {
	return util.PublishEvent(s.js, constant.PositionStreamSubjectSignal, entity.OpenPositionSignalEvent{
		Symbol: symbol,
		Side:   side,
	})
}

// ActiveSymbols lists the tradable contracts, for the management API.
func (s *Service) ActiveSymbols(ctx context.Context) ([]entity.Symbol, error) {
	return s.symbols.GetActive(ctx)
}

// ValidateSignal applies every admission rule for an external signal before
// any exchange call happens: the source must be the enabled one, the symbol
// must be a known active contract with no open position, the side must pass
// the bull/bear mode gate and the per-side open-position limit.
func (s *Service) ValidateSignal(ctx context.Context, symbolName string, side entity.OrderSide, signalName entity.SignalSource) error {
	mainSettings, err := s.mainSettings.Get(ctx)
	if err != nil {
		return err
	}

	if signalName != mainSettings.SignalSourceName {
		return fmt.Errorf("%w: %s is disabled, allowed source: %s", entity.ErrSignalSource, signalName, mainSettings.SignalSourceName)
	}

	if mainSettings.BullMode && side == entity.OrderSideSell {
		return fmt.Errorf("%w: short signals are rejected in bull mode", entity.ErrTradeSideDisabled)
	}
	if mainSettings.BearMode && side == entity.OrderSideBuy {
		return fmt.Errorf("%w: long signals are rejected in bear mode", entity.ErrTradeSideDisabled)
	}

	limit := mainSettings.LongPositionLimit
	if side == entity.OrderSideSell {
		limit = mainSettings.ShortPositionLimit
	}
	if limit > 0 {
		count, err := s.positions.CountOpenBySide(ctx, side)
		if err != nil {
			return err
		}
		if count >= limit {
			return fmt.Errorf("%w: %d open positions on side %s, limit %d", entity.ErrPositionLimit, count, side, limit)
		}
	}

	symbol, err := s.symbols.GetBySymbol(ctx, symbolName)
	if err != nil {
		return err
	}
	if !symbol.IsActive {
		return fmt.Errorf("%w: %s", entity.ErrSymbolInactive, symbolName)
	}

	_, err = s.positions.GetOpenBySymbol(ctx, symbolName)
	if err == nil {
		return fmt.Errorf("%w: %s", entity.ErrPositionOpen, symbolName)
	}
	if !errors.Is(err, entity.ErrPositionNotFound) {
		return err
	}

	return nil
}
