package signal

import (
	"context"
	"fmt"

	"github.com/romnatson3/copy-trade/internal/entity"
	"github.com/romnatson3/copy-trade/internal/service/binance"
	"github.com/sirupsen/logrus"
)

// OpenPositionRequest carries the operator-chosen parameters of a manual
// position open. The protective rates override the global defaults for this
// position only.
type OpenPositionRequest struct {
	Symbol     string                 `json:"symbol"`
	Side       entity.OrderSide       `json:"side"`
	OrderType  entity.OrderType       `json:"order_type"`
	AmountUSDT float64                `json:"amount_usdt"`
	Price      float64                `json:"price"`
	Leverage   int                    `json:"leverage"`
	Rates      entity.ProtectiveRates `json:"rates"`
}

// OpenPositionManually opens a position with explicit parameters instead of
// the global defaults. The protective rates are staged in the cache; the
// mirror consumes them when the resulting position event arrives.
func (s *Service) OpenPositionManually(ctx context.Context, req OpenPositionRequest) (*entity.OrderEvent, error) {
	log := logrus.WithFields(logrus.Fields{
		"symbol": req.Symbol,
		"side":   req.Side,
	})

	symbol, err := s.symbols.GetBySymbol(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	if err := s.symbols.UpdateLeverage(ctx, symbol.Symbol, req.Leverage); err != nil {
		return nil, err
	}
	symbol.Leverage = req.Leverage

	if err := s.cache.PutManualSettings(ctx, symbol.Symbol, req.Rates); err != nil {
		return nil, err
	}
	log.Debug("staged manual settings in cache")

	marketPrice, err := s.cache.GetMarketPrice(ctx, symbol.Symbol)
	if err != nil {
		return nil, err
	}

	quantity, err := binance.QuantityFromUSDT(symbol, req.AmountUSDT, marketPrice)
	if err != nil {
		return nil, err
	}

	client, err := s.masterClient(ctx)
	if err != nil {
		return nil, err
	}

	executor, err := binance.NewTradeExecutor(client, symbol, req.Side, quantity)
	if err != nil {
		return nil, err
	}

	if err := executor.SetLeverage(ctx, req.Leverage); err != nil {
		return nil, err
	}

	var placed *entity.OrderEvent
	switch req.OrderType {
	case entity.OrderTypeMarket:
		placed, err = executor.PlaceMarketOrder(ctx, 0, false)
	case entity.OrderTypeLimit:
		placed, err = executor.PlaceLimitOrder(ctx, req.Price, 0, false)
	default:
		return nil, fmt.Errorf("unsupported order type for manual open: %s", req.OrderType)
	}
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"id":         placed.OrderID,
		"orig_qty":   placed.OrigQty,
		"order_type": placed.OrderType,
	}).Info("opened position manually")
	return placed, nil
}

// CloseResult reports the outcome of one position in a bulk close.
type CloseResult struct {
	PositionID int64  `json:"position_id"`
	Closed     bool   `json:"closed"`
	Detail     string `json:"detail,omitempty"`
}

// ClosePosition closes one position by id with a reduce-only market order.
func (s *Service) ClosePosition(ctx context.Context, positionID int64) error {
	position, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return err
	}
	return s.closePosition(ctx, position)
}

// CloseOpenPositions closes every open position, or only the ones currently
// in profit when profitableOnly is set. Per-position failures are collected,
// not fatal, so one stuck symbol never blocks the rest.
func (s *Service) CloseOpenPositions(ctx context.Context, profitableOnly bool) ([]CloseResult, error) {
	positions, err := s.positions.GetOpen(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]CloseResult, 0, len(positions))
	for i := range positions {
		position := &positions[i]
		if profitableOnly && position.UnrealizedProfit <= 0 {
			continue
		}

		result := CloseResult{PositionID: position.ID, Closed: true}
		if err := s.closePosition(ctx, position); err != nil {
			result.Closed = false
			result.Detail = err.Error()
		}
		results = append(results, result)
	}

	logrus.WithFields(logrus.Fields{
		"total":           len(positions),
		"profitable_only": profitableOnly,
	}).Debug("closed open positions")
	return results, nil
}

func (s *Service) closePosition(ctx context.Context, position *entity.Position) error {
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

	if _, err := executor.PlaceMarketOrder(ctx, 0, true); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"symbol":            position.Symbol,
		"id":                position.ID,
		"unrealized_profit": position.UnrealizedProfit,
	}).Warn("closed position")
	return nil
}

// ReducePosition closes quantityRate percent of the position. When priceRate
// is nonzero the close is a reduce-only limit order priceRate percent away
// from the entry price, otherwise an immediate market order.
func (s *Service) ReducePosition(ctx context.Context, positionID int64, quantityRate, priceRate float64) error {
	position, err := s.positions.GetByID(ctx, positionID)
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

	quantity := position.QuantityByRate(quantityRate)
	if priceRate > 0 {
		_, err = executor.PlaceLimitOrder(ctx, position.LimitOrderPrice(priceRate), quantity, true)
		return err
	}

	_, err = executor.PlaceMarketOrder(ctx, quantity, true)
	return err
}

// IncreasePosition adds multiplier times the current quantity to the
// position with a market order on the same side.
func (s *Service) IncreasePosition(ctx context.Context, positionID int64, multiplier int) error {
	position, err := s.positions.GetByID(ctx, positionID)
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

	_, err = executor.PlaceMarketOrder(ctx, position.IncreasedQuantity(multiplier), false)
	return err
}

// ReplaceProtectiveOrders applies new protective rates to an open position.
// For each rate that changed, the working order of that type is canceled and
// a new one placed when the rate stays nonzero; a zero rate disables the
// order type.
func (s *Service) ReplaceProtectiveOrders(ctx context.Context, positionID int64, rates entity.ProtectiveRates) error {
	position, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return err
	}
	if !position.IsOpen {
		return fmt.Errorf("position %d is closed", positionID)
	}

	settings, err := s.settings.GetByPositionID(ctx, positionID)
	if err != nil {
		return err
	}

	symbol, err := s.symbols.GetBySymbol(ctx, position.Symbol)
	if err != nil {
		return err
	}

	orders, err := s.orders.GetByPositionID(ctx, positionID)
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
	canceler := binance.NewOrderCanceler(client, position.Symbol)

	log := logrus.WithFields(logrus.Fields{
		"symbol": position.Symbol,
		"id":     positionID,
	})

	if rates.TakeProfitRate != settings.TakeProfitRate {
		if err := cancelWorkingOrder(ctx, canceler, orders, entity.OrderTypeTakeProfitMarket); err != nil {
			return err
		}
		if rates.TakeProfitRate > 0 {
			price := position.TakeProfitPrice(rates.TakeProfitRate, symbol.Leverage)
			if _, err := executor.PlaceTakeProfitMarketOrder(ctx, price, 0, false); err != nil {
				return err
			}
		} else {
			log.Debug("take profit was disabled")
		}
	}

	if rates.StopLossRate != settings.StopLossRate {
		if err := cancelWorkingOrder(ctx, canceler, orders, entity.OrderTypeStopMarket); err != nil {
			return err
		}
		if rates.StopLossRate > 0 {
			price := position.StopLossPrice(rates.StopLossRate, symbol.Leverage)
			if _, err := executor.PlaceStopLossMarketOrder(ctx, price); err != nil {
				return err
			}
		} else {
			log.Debug("stop loss was disabled")
		}
	}

	trailingChanged := rates.TrailingStopCallbackRate != settings.TrailingStopCallbackRate ||
		rates.TrailingStopActivationPriceRate != settings.TrailingStopActivationPriceRate
	if trailingChanged {
		if err := cancelWorkingOrder(ctx, canceler, orders, entity.OrderTypeTrailingStopMarket); err != nil {
			return err
		}
		if rates.TrailingStopCallbackRate > 0 && rates.TrailingStopActivationPriceRate > 0 {
			activationPrice := position.TrailingStopActivationPrice(rates.TrailingStopActivationPriceRate)
			if _, err := executor.PlaceTrailingStopMarketOrder(ctx, rates.TrailingStopCallbackRate, activationPrice); err != nil {
				return err
			}
		} else {
			log.Debug("trailing stop was disabled")
		}
	}

	settings.TakeProfitRate = rates.TakeProfitRate
	settings.StopLossRate = rates.StopLossRate
	settings.TrailingStopCallbackRate = rates.TrailingStopCallbackRate
	settings.TrailingStopActivationPriceRate = rates.TrailingStopActivationPriceRate
	if err := s.settings.Update(ctx, settings); err != nil {
		return err
	}

	log.Info("replaced protective orders")
	return nil
}

func cancelWorkingOrder(ctx context.Context, canceler *binance.OrderCanceler, orders []entity.Order, orderType entity.OrderType) error {
	ids := make([]int64, 0, len(orders))
	for _, order := range orders {
		if order.OrderType != orderType {
			continue
		}
		if order.Status != entity.OrderStatusNew && order.Status != entity.OrderStatusPartiallyFilled {
			continue
		}
		ids = append(ids, order.OrderID)
	}
	if len(ids) == 0 {
		return nil
	}
	if len(ids) == 1 {
		return canceler.CancelOrder(ctx, ids[0])
	}
	return canceler.CancelMultipleOrders(ctx, ids)
}
