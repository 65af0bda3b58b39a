package reconciler

import (
	"context"

	"github.com/guregu/null/v6"
	"github.com/romnatson3/copy-trade/internal/entity"
	"github.com/romnatson3/copy-trade/internal/service/binance"
	"github.com/sirupsen/logrus"
)

type replicator interface {
	FanOutOrder(ctx context.Context, event *entity.OrderEvent) error
	FanOutLeverage(ctx context.Context, event *entity.LeverageEvent) error
}

// Dispatcher routes raw stream frames to the mirror and the replication
// fan-out. It is the only place that knows the envelope layout of the
// user-data and market streams.
type Dispatcher struct {
	service    *Service
	replicator replicator
}

func NewDispatcher(service *Service, replicator replicator) *Dispatcher {
	return &Dispatcher{service: service, replicator: replicator}
}

// HandleMarketFrame consumes one mark-price broadcast. Array payloads arrive
// wrapped under the data key by the stream session.
func (d *Dispatcher) HandleMarketFrame(ctx context.Context, frame map[string]any) {
	entries, ok := frame["data"].([]any)
	if !ok {
		return
	}
	d.service.HandleMarkPrices(ctx, entries)
}

// HandleUserDataFrame consumes one user-data frame, keyed by the event type.
func (d *Dispatcher) HandleUserDataFrame(ctx context.Context, frame map[string]any) {
	eventType, _ := frame["e"].(string)

	switch eventType {
	case entity.EventOrderTradeUpdate:
		d.handleOrderFrame(ctx, frame)
	case entity.EventAccountUpdate:
		d.handleAccountFrame(ctx, frame)
	case entity.EventAccountConfigUpdate:
		d.handleConfigFrame(ctx, frame)
	case entity.EventListenKeyExpired:
		logrus.Warn("listen key expired, stream will reconnect")
	}
}

func (d *Dispatcher) handleOrderFrame(ctx context.Context, frame map[string]any) {
	raw, ok := frame["o"].(map[string]any)
	if !ok {
		logrus.WithField("frame", frame).Error("order frame without order payload")
		return
	}

	event, err := binance.DecodeOrder(raw)
	if err != nil {
		logrus.Error(err)
		return
	}
	// the order payload carries the trade time under T, the event time of the
	// outer frame is the transaction time orphan linking matches on
	if transactionTime, ok := floatValue(frame["T"]); ok {
		event.TransactionTime = null.IntFrom(int64(transactionTime))
	}

	if err := d.service.HandleOrderEvent(ctx, event); err != nil {
		logrus.Error(err)
		return
	}

	if err := d.replicator.FanOutOrder(ctx, event); err != nil {
		logrus.Error(err)
	}
}

func (d *Dispatcher) handleAccountFrame(ctx context.Context, frame map[string]any) {
	update, ok := frame["a"].(map[string]any)
	if !ok {
		logrus.WithField("frame", frame).Error("account frame without update payload")
		return
	}

	entries, ok := update["P"].([]any)
	if !ok {
		return
	}

	for _, entry := range entries {
		raw, ok := entry.(map[string]any)
		if !ok {
			continue
		}

		event, err := binance.DecodePosition(raw)
		if err != nil {
			logrus.Error(err)
			continue
		}
		if updateTime, ok := floatValue(frame["E"]); ok {
			event.UpdateTime = null.IntFrom(int64(updateTime))
		}
		if transactionTime, ok := floatValue(frame["T"]); ok {
			event.TransactionTime = null.IntFrom(int64(transactionTime))
		}

		if err := d.service.HandlePositionEvent(ctx, event); err != nil {
			logrus.Error(err)
		}
	}
}

func (d *Dispatcher) handleConfigFrame(ctx context.Context, frame map[string]any) {
	raw, ok := frame["ac"].(map[string]any)
	if !ok {
		// ACCOUNT_CONFIG_UPDATE also reports margin mode changes under ai,
		// only leverage changes matter here
		return
	}

	event, err := binance.DecodeLeverage(raw)
	if err != nil {
		logrus.Error(err)
		return
	}

	if err := d.service.HandleLeverageEvent(ctx, event); err != nil {
		logrus.Error(err)
		return
	}

	if err := d.replicator.FanOutLeverage(ctx, event); err != nil {
		logrus.Error(err)
	}
}

func floatValue(value any) (float64, bool) {
	v, ok := value.(float64)
	return v, ok
}
