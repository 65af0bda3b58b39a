package replication

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
	"github.com/romnatson3/copy-trade/internal/util"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const replicatedQuantityPlaces = 3

type accountStore interface {
	GetMasterAccount(ctx context.Context) (*entity.MasterAccount, error)
	ListCopyTradeAccounts(ctx context.Context) ([]entity.CopyTradeAccount, error)
	GetCopyTradeAccount(ctx context.Context, id int64) (*entity.CopyTradeAccount, error)
}

type symbolStore interface {
	GetBySymbol(ctx context.Context, symbol string) (*entity.Symbol, error)
}

type mainSettingsStore interface {
	Get(ctx context.Context) (*entity.MainSettings, error)
}

type copyOrderStore interface {
	Upsert(ctx context.Context, order *entity.CopyTradeOrder) error
	GetByMasterOrderID(ctx context.Context, accountID, masterOrderID int64) (*entity.CopyTradeOrder, error)
}

// clientFactory builds the follower-bound REST client. Swapped for a stub in
// tests so replication logic runs without a network.
type clientFactory func(cfg config.BinanceConfig, creds binance.Credentials, testnet bool) (*binance.Client, error)

// ReplicationService mirrors master order activity onto every follower. Each
// (event, follower) pair travels as its own queue message, so one follower's
// failure never blocks the others.
type ReplicationService struct {
	cfg        config.BinanceConfig
	js         nats.JetStreamContext
	accounts   accountStore
	symbols    symbolStore
	settings   mainSettingsStore
	copyOrders copyOrderStore
	newClient  clientFactory
}

func NewReplicationService(
	cfg config.BinanceConfig,
	js nats.JetStreamContext,
	accounts accountStore,
	symbols symbolStore,
	settings mainSettingsStore,
	copyOrders copyOrderStore,
) *ReplicationService {
	return &ReplicationService{
		cfg:        cfg,
		js:         js,
		accounts:   accounts,
		symbols:    symbols,
		settings:   settings,
		copyOrders: copyOrders,
		newClient:  binance.NewClient,
	}
}

func (s *ReplicationService) JetstreamEventInit(ctx context.Context) error {
	streamConfig := &nats.StreamConfig{
		Name:      constant.CopyTradeStreamName,
		Subjects:  []string{constant.CopyTradeStreamSubjectAll},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
	}

	stream, err := s.js.StreamInfo(constant.CopyTradeStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.CopyTradeStreamName)
		_, err = s.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.CopyTradeStreamName)
	_, err = s.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	return nil
}

func (s *ReplicationService) JetstreamEventSubscribe(ctx context.Context) error {
	err := s.JetstreamEventInit(ctx)
	if err != nil {
		logrus.Error(err)
		return err
	}

	_, err = s.js.QueueSubscribe(
		constant.CopyTradeStreamSubjectOrder,
		constant.CopyTradeOrderQueueName,
		func(msg *nats.Msg) {
			err := util.ProcessWithTimeout(config.Env.NatsJetstream.TimeoutHandler["copy_trade_order"], msg, s.handleOrderEvent)
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
		nats.Durable(constant.CopyTradeOrderQueueName),
	)
	if err != nil {
		return err
	}

	_, err = s.js.QueueSubscribe(
		constant.CopyTradeStreamSubjectConfig,
		constant.CopyTradeLeverageQueueName,
		func(msg *nats.Msg) {
			err := util.ProcessWithTimeout(config.Env.NatsJetstream.TimeoutHandler["copy_trade_leverage"], msg, s.handleLeverageEvent)
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
		nats.Durable(constant.CopyTradeLeverageQueueName),
	)

	return err
}

// FanOutOrder publishes one replication event per follower for a master
// order-lifecycle event.
func (s *ReplicationService) FanOutOrder(ctx context.Context, event *entity.OrderEvent) error {
	accounts, err := s.accounts.ListCopyTradeAccounts(ctx)
	if err != nil {
		return err
	}

	for _, account := range accounts {
		err := util.PublishEvent(s.js, constant.CopyTradeStreamSubjectOrder, entity.ReplicationOrderEvent{
			AccountID: account.ID,
			Data:      *event,
		})
		if err != nil {
			logrus.WithError(err).WithField("account", account.ID).Error("failed to publish replication order event")
		}
	}
	return nil
}

// FanOutLeverage publishes one leverage replication event per follower.
func (s *ReplicationService) FanOutLeverage(ctx context.Context, event *entity.LeverageEvent) error {
	accounts, err := s.accounts.ListCopyTradeAccounts(ctx)
	if err != nil {
		return err
	}

	for _, account := range accounts {
		err := util.PublishEvent(s.js, constant.CopyTradeStreamSubjectConfig, entity.ReplicationLeverageEvent{
			AccountID: account.ID,
			Data:      *event,
		})
		if err != nil {
			logrus.WithError(err).WithField("account", account.ID).Error("failed to publish replication leverage event")
		}
	}
	return nil
}

func (s *ReplicationService) handleOrderEvent(ctx context.Context, msg *nats.Msg) (err error) {
	logger := logrus.WithField("req", string(msg.Data))

	var req *entity.ReplicationOrderEvent
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

			err := util.PublishEvent(s.js, constant.CopyTradeStreamSubjectOrder, req)
			if err != nil {
				logger.Error(err)
			}
		}
	}()

	err = s.ReplicateOrder(ctx, req.AccountID, &req.Data)
	if errors.Is(err, entity.ErrPlaceOrder) || errors.Is(err, entity.ErrCancelOrder) {
		// exchange rejections are final, retrying replays the same rejection
		req.RetryCount = config.Env.NatsJetstream.MaxRetries
		return nil
	}

	return err
}

func (s *ReplicationService) handleLeverageEvent(ctx context.Context, msg *nats.Msg) (err error) {
	logger := logrus.WithField("req", string(msg.Data))

	var req *entity.ReplicationLeverageEvent
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

			err := util.PublishEvent(s.js, constant.CopyTradeStreamSubjectConfig, req)
			if err != nil {
				logger.Error(err)
			}
		}
	}()

	return s.ReplicateLeverage(ctx, req.AccountID, &req.Data)
}

// ReplicatedQuantity scales a master quantity by the global coefficient,
// rounded to three decimal places.
func ReplicatedQuantity(masterQty, coefficient float64) float64 {
	quantity := decimal.NewFromFloat(masterQty).
		Mul(decimal.NewFromFloat(coefficient)).
		Round(replicatedQuantityPlaces)
	result, _ := quantity.Float64()
	return result
}

// ReplicateOrder applies one master order event on one follower account.
// NEW places the structurally equivalent order, CANCELED cancels the mirror
// order via the back-reference, FILLED and EXPIRED are no-ops.
func (s *ReplicationService) ReplicateOrder(ctx context.Context, accountID int64, master *entity.OrderEvent) error {
	log := logrus.WithFields(logrus.Fields{
		"account": accountID,
		"symbol":  master.Symbol,
		"side":    master.Side,
	})

	switch master.Status {
	case entity.OrderStatusFilled, entity.OrderStatusExpired:
		return nil
	}

	account, err := s.accounts.GetCopyTradeAccount(ctx, accountID)
	if err != nil {
		return err
	}

	symbol, err := s.symbols.GetBySymbol(ctx, master.Symbol)
	if err != nil {
		return err
	}

	masterAccount, err := s.accounts.GetMasterAccount(ctx)
	if err != nil {
		return err
	}

	client, err := s.newClient(s.cfg, binance.Credentials{
		APIKey:    account.APIKey,
		APISecret: account.APISecret,
		Proxy:     account.ProxyURL(),
	}, masterAccount.Testnet)
	if err != nil {
		return err
	}

	if master.Status == entity.OrderStatusCanceled {
		return s.cancelMirrorOrder(ctx, client, account, master, log)
	}
	if master.Status != entity.OrderStatusNew {
		return nil
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return err
	}

	quantity := ReplicatedQuantity(master.OrigQty, settings.Coefficient)
	log.WithFields(logrus.Fields{
		"master_qty":  master.OrigQty,
		"coefficient": settings.Coefficient,
		"quantity":    quantity,
	}).Info("calculated quantity for copy trade")

	executor, err := binance.NewReplicaTradeExecutor(
		client, symbol, master.Side, quantity, account.ID,
		master.WorkingType.String, master.TimeInForce.String,
	)
	if err != nil {
		return err
	}

	var placed *entity.OrderEvent
	switch master.OrderType {
	case entity.OrderTypeMarket:
		placed, err = executor.PlaceMarketOrder(ctx, 0, master.ReduceOnly.Bool)
	case entity.OrderTypeLimit:
		placed, err = executor.PlaceLimitOrder(ctx, master.Price.Float64, 0, master.ReduceOnly.Bool)
	case entity.OrderTypeTakeProfitMarket:
		placed, err = executor.PlaceTakeProfitMarketOrder(ctx, master.StopPrice.Float64, 0, false)
	case entity.OrderTypeStopMarket:
		placed, err = executor.PlaceStopLossMarketOrder(ctx, master.StopPrice.Float64)
	case entity.OrderTypeTrailingStopMarket:
		placed, err = executor.PlaceTrailingStopMarketOrder(ctx, master.PriceRate.Float64, master.ActivationPrice.Float64)
	default:
		log.WithField("order_type", master.OrderType).Warn("unsupported order type for replication")
		return nil
	}
	if err != nil {
		return err
	}

	mirror := placed.ToCopyTradeOrder(account.ID, master.OrderID)
	if err := s.copyOrders.Upsert(ctx, &mirror); err != nil {
		return fmt.Errorf("store copy trade order: %w", err)
	}
	log.WithFields(logrus.Fields{
		"id":       mirror.OrderID,
		"status":   mirror.Status,
		"orig_qty": mirror.OrigQty,
	}).Debug("stored copy trade order in database")

	return nil
}

func (s *ReplicationService) cancelMirrorOrder(ctx context.Context, client *binance.Client, account *entity.CopyTradeAccount, master *entity.OrderEvent, log *logrus.Entry) error {
	mirror, err := s.copyOrders.GetByMasterOrderID(ctx, account.ID, master.OrderID)
	if errors.Is(err, entity.ErrOrderNotFound) {
		log.WithField("master_order_id", master.OrderID).Error("not found copy trade order for master order")
		return nil
	}
	if err != nil {
		return err
	}

	canceler := binance.NewReplicaOrderCanceler(client, master.Symbol, account.ID)
	if err := canceler.CancelOrder(ctx, mirror.OrderID); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"id":              mirror.OrderID,
		"master_order_id": master.OrderID,
	}).Warn("canceled order related to master order")
	return nil
}

// ReplicateLeverage applies a master leverage change on one follower.
func (s *ReplicationService) ReplicateLeverage(ctx context.Context, accountID int64, event *entity.LeverageEvent) error {
	account, err := s.accounts.GetCopyTradeAccount(ctx, accountID)
	if err != nil {
		return err
	}

	masterAccount, err := s.accounts.GetMasterAccount(ctx)
	if err != nil {
		return err
	}

	client, err := s.newClient(s.cfg, binance.Credentials{
		APIKey:    account.APIKey,
		APISecret: account.APISecret,
		Proxy:     account.ProxyURL(),
	}, masterAccount.Testnet)
	if err != nil {
		return err
	}

	result, err := client.ChangeLeverage(ctx, event.Symbol, event.Leverage)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"account":  account.ID,
		"symbol":   event.Symbol,
		"leverage": result["leverage"],
	}).Info("set leverage")
	return nil
}
