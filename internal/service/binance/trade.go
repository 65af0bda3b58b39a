package binance

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/romnatson3/copy-trade/internal/entity"
	"github.com/sirupsen/logrus"
)

// TradeExecutor binds one client to a symbol, side and default quantity and
// exposes the order operations the system places. Exchange rejections are
// wrapped in ErrPlaceOrder and never retried.
type TradeExecutor struct {
	client      *Client
	symbol      *entity.Symbol
	side        entity.OrderSide
	quantity    string
	workingType string
	timeInForce string
	replica     bool
	log         *logrus.Entry
}

// NewTradeExecutor builds an executor for the master account. Reduce-only
// operations invert the side, closing what the bound side opened.
func NewTradeExecutor(client *Client, symbol *entity.Symbol, side entity.OrderSide, quantity float64) (*TradeExecutor, error) {
	formatted, err := QuantityToPrecision(symbol, quantity)
	if err != nil {
		return nil, err
	}

	return &TradeExecutor{
		client:      client,
		symbol:      symbol,
		side:        side,
		quantity:    formatted,
		workingType: entity.WorkingTypeMarkPrice,
		timeInForce: entity.TimeInForceGTC,
		log:         logrus.WithFields(logrus.Fields{"symbol": symbol.Symbol, "side": side}),
	}, nil
}

// NewReplicaTradeExecutor builds an executor for a follower account. The side
// is replayed exactly as received: the master event already carries the
// inversion when it is a closing order. Working type and time in force are
// inherited from the master order when present.
func NewReplicaTradeExecutor(client *Client, symbol *entity.Symbol, side entity.OrderSide, quantity float64, accountID int64, workingType, timeInForce string) (*TradeExecutor, error) {
	executor, err := NewTradeExecutor(client, symbol, side, quantity)
	if err != nil {
		return nil, err
	}
	executor.replica = true
	if workingType != "" {
		executor.workingType = workingType
	}
	if timeInForce != "" {
		executor.timeInForce = timeInForce
	}
	executor.log = executor.log.WithField("account", accountID)
	return executor, nil
}

func (t *TradeExecutor) exitSide() entity.OrderSide {
	if t.replica {
		return t.side
	}
	return entity.OppositeSide(t.side)
}

func (t *TradeExecutor) SetLeverage(ctx context.Context, leverage int) error {
	result, err := t.client.ChangeLeverage(ctx, t.symbol.Symbol, leverage)
	if err != nil {
		t.log.WithError(err).Error("failed to set leverage")
		return fmt.Errorf("%w: %w", entity.ErrPlaceOrder, err)
	}

	t.log.WithField("leverage", result["leverage"]).Info("set leverage")
	return nil
}

func (t *TradeExecutor) placeOrder(ctx context.Context, params url.Values) (*entity.OrderEvent, error) {
	result, err := t.client.NewOrder(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrPlaceOrder, err)
	}

	event, err := DecodeOrder(result)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrPlaceOrder, err)
	}
	return event, nil
}

// PlaceMarketOrder opens (or with reduceOnly closes) at market. A zero
// quantity falls back to the executor's bound quantity.
func (t *TradeExecutor) PlaceMarketOrder(ctx context.Context, quantity float64, reduceOnly bool) (*entity.OrderEvent, error) {
	params := url.Values{}
	params.Set("symbol", t.symbol.Symbol)
	params.Set("side", string(t.side))
	params.Set("type", string(entity.OrderTypeMarket))
	params.Set("quantity", t.quantity)
	params.Set("workingType", t.workingType)

	if quantity > 0 {
		formatted, err := QuantityToPrecision(t.symbol, quantity)
		if err != nil {
			return nil, err
		}
		params.Set("quantity", formatted)
	}
	if reduceOnly {
		params.Set("reduceOnly", "true")
		params.Set("side", string(t.exitSide()))
	}

	event, err := t.placeOrder(ctx, params)
	if err != nil {
		t.log.WithError(err).WithField("reduce_only", reduceOnly).Error("failed to place market order")
		return nil, err
	}

	t.log.WithFields(logrus.Fields{
		"id":       event.OrderID,
		"status":   event.Status,
		"orig_qty": event.OrigQty,
	}).Info("placed market order")
	return event, nil
}

func (t *TradeExecutor) PlaceLimitOrder(ctx context.Context, price, quantity float64, reduceOnly bool) (*entity.OrderEvent, error) {
	formattedPrice, err := PriceToPrecision(t.symbol, price)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", t.symbol.Symbol)
	params.Set("side", string(t.side))
	params.Set("type", string(entity.OrderTypeLimit))
	params.Set("quantity", t.quantity)
	params.Set("price", formattedPrice)
	params.Set("timeInForce", t.timeInForce)

	if quantity > 0 {
		formatted, err := QuantityToPrecision(t.symbol, quantity)
		if err != nil {
			return nil, err
		}
		params.Set("quantity", formatted)
	}
	if reduceOnly {
		params.Set("reduceOnly", "true")
		params.Set("side", string(t.exitSide()))
	}

	event, err := t.placeOrder(ctx, params)
	if err != nil {
		t.log.WithError(err).WithField("price", formattedPrice).Error("failed to place limit order")
		return nil, err
	}

	t.log.WithFields(logrus.Fields{
		"id":       event.OrderID,
		"status":   event.Status,
		"price":    formattedPrice,
		"orig_qty": event.OrigQty,
	}).Info("placed limit order")
	return event, nil
}

// PlaceStopLossMarketOrder arms a close-position stop triggered on mark price.
func (t *TradeExecutor) PlaceStopLossMarketOrder(ctx context.Context, price float64) (*entity.OrderEvent, error) {
	formattedPrice, err := PriceToPrecision(t.symbol, price)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", t.symbol.Symbol)
	params.Set("side", string(t.exitSide()))
	params.Set("type", string(entity.OrderTypeStopMarket))
	params.Set("closePosition", "true")
	params.Set("stopPrice", formattedPrice)
	params.Set("workingType", t.workingType)

	event, err := t.placeOrder(ctx, params)
	if err != nil {
		t.log.WithError(err).WithField("stop_price", formattedPrice).Error("failed to place stop loss order")
		return nil, err
	}

	t.log.WithFields(logrus.Fields{
		"id":         event.OrderID,
		"status":     event.Status,
		"stop_price": formattedPrice,
	}).Info("placed stop loss order")
	return event, nil
}

func (t *TradeExecutor) PlaceTakeProfitMarketOrder(ctx context.Context, price, quantity float64, reduceOnly bool) (*entity.OrderEvent, error) {
	formattedPrice, err := PriceToPrecision(t.symbol, price)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", t.symbol.Symbol)
	params.Set("side", string(t.exitSide()))
	params.Set("type", string(entity.OrderTypeTakeProfitMarket))
	params.Set("closePosition", "true")
	params.Set("stopPrice", formattedPrice)
	params.Set("workingType", t.workingType)

	if quantity > 0 {
		formatted, err := QuantityToPrecision(t.symbol, quantity)
		if err != nil {
			return nil, err
		}
		params.Set("quantity", formatted)
	}
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}

	event, err := t.placeOrder(ctx, params)
	if err != nil {
		t.log.WithError(err).WithField("stop_price", formattedPrice).Error("failed to place take profit order")
		return nil, err
	}

	t.log.WithFields(logrus.Fields{
		"id":         event.OrderID,
		"status":     event.Status,
		"stop_price": formattedPrice,
	}).Info("placed take profit order")
	return event, nil
}

// PlaceTrailingStopMarketOrder arms the exchange-side trailing stop. The
// callback rate is capped to one decimal place by the API.
func (t *TradeExecutor) PlaceTrailingStopMarketOrder(ctx context.Context, callbackRate, activationPrice float64) (*entity.OrderEvent, error) {
	formattedPrice, err := PriceToPrecision(t.symbol, activationPrice)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", t.symbol.Symbol)
	params.Set("side", string(t.exitSide()))
	params.Set("type", string(entity.OrderTypeTrailingStopMarket))
	params.Set("quantity", t.quantity)
	params.Set("callbackRate", strconv.FormatFloat(callbackRate, 'f', 1, 64))
	params.Set("activationPrice", formattedPrice)
	params.Set("workingType", t.workingType)

	event, err := t.placeOrder(ctx, params)
	if err != nil {
		t.log.WithError(err).WithFields(logrus.Fields{
			"callback_rate":    callbackRate,
			"activation_price": formattedPrice,
		}).Error("failed to place trailing stop order")
		return nil, err
	}

	t.log.WithFields(logrus.Fields{
		"id":               event.OrderID,
		"status":           event.Status,
		"activation_price": formattedPrice,
	}).Info("placed trailing stop order")
	return event, nil
}

// OrderCanceler groups cancellation calls on one symbol. Rejections are
// wrapped in ErrCancelOrder.
type OrderCanceler struct {
	client *Client
	symbol string
	log    *logrus.Entry
}

func NewOrderCanceler(client *Client, symbol string) *OrderCanceler {
	return &OrderCanceler{
		client: client,
		symbol: symbol,
		log:    logrus.WithField("symbol", symbol),
	}
}

func NewReplicaOrderCanceler(client *Client, symbol string, accountID int64) *OrderCanceler {
	canceler := NewOrderCanceler(client, symbol)
	canceler.log = canceler.log.WithField("account", accountID)
	return canceler
}

func (o *OrderCanceler) CancelOrder(ctx context.Context, orderID int64) error {
	result, err := o.client.CancelOrder(ctx, o.symbol, orderID)
	if err != nil {
		o.log.WithError(err).WithField("id", orderID).Error("failed to cancel order")
		return fmt.Errorf("%w: %w", entity.ErrCancelOrder, err)
	}

	o.log.WithFields(logrus.Fields{"id": orderID, "status": result["status"]}).Info("cancelled order")
	return nil
}

func (o *OrderCanceler) CancelAllOpenOrders(ctx context.Context) error {
	result, err := o.client.CancelAllOpenOrders(ctx, o.symbol)
	if err != nil {
		o.log.WithError(err).Error("failed to cancel all open orders")
		return fmt.Errorf("%w: %w", entity.ErrCancelOrder, err)
	}

	o.log.WithField("msg", result["msg"]).Info("cancelled all open orders")
	return nil
}

func (o *OrderCanceler) CancelMultipleOrders(ctx context.Context, orderIDs []int64) error {
	results, err := o.client.CancelMultipleOrders(ctx, o.symbol, orderIDs)
	if err != nil {
		o.log.WithError(err).Error("failed to cancel orders")
		return fmt.Errorf("%w: %w", entity.ErrCancelOrder, err)
	}

	for _, result := range results {
		if msg, ok := result["msg"]; ok {
			o.log.WithField("msg", msg).Warn("order was not cancelled")
			continue
		}
		o.log.WithField("id", result["orderId"]).Info("cancelled order")
	}
	return nil
}
