package entity

import (
	"github.com/guregu/null/v6"
)

// Event types carried on the user-data stream.
const (
	EventOrderTradeUpdate    = "ORDER_TRADE_UPDATE"
	EventAccountUpdate       = "ACCOUNT_UPDATE"
	EventAccountConfigUpdate = "ACCOUNT_CONFIG_UPDATE"
	EventListenKeyExpired    = "listenKeyExpired"
)

// OrderEvent is the canonical record decoded from a raw order payload, either
// a stream frame (single-letter keys) or a REST row (long keys). Absent fields
// stay invalid rather than erroring.
type OrderEvent struct {
	OrderID         int64       `json:"order_id"`
	ClientOrderID   null.String `json:"client_order_id"`
	Symbol          string      `json:"symbol"`
	Status          string      `json:"status"`
	Side            OrderSide   `json:"side"`
	PositionSide    null.String `json:"position_side"`
	OrderType       OrderType   `json:"order_type"`
	OrigType        null.String `json:"orig_type"`
	OrigQty         float64     `json:"orig_qty"`
	AvgPrice        null.Float  `json:"avg_price"`
	Price           null.Float  `json:"price"`
	WorkingType     null.String `json:"working_type"`
	ReduceOnly      null.Bool   `json:"reduce_only"`
	ClosePosition   null.Bool   `json:"close_position"`
	StopPrice       null.Float  `json:"stop_price"`
	TimeInForce     null.String `json:"time_in_force"`
	Time            int64       `json:"time"`
	ActivationPrice null.Float  `json:"activation_price"`
	PriceRate       null.Float  `json:"price_rate"`
	RealizedProfit  null.Float  `json:"realized_profit"`
	ExecutionType   null.String `json:"execution_type"`
	LastFilledQty   null.Float  `json:"last_filled_qty"`
	LastFilledPrice null.Float  `json:"last_filled_price"`
	FilledAccumQty  null.Float  `json:"filled_accum_qty"`
	CommissionAsset null.String `json:"commission_asset"`
	Commission      null.Float  `json:"commission"`
	TradeID         null.Int    `json:"trade_id"`
	IsMaker         null.Bool   `json:"is_maker"`
	CumQuote        null.Float  `json:"cum_quote"`
	ExecutedQty     null.Float  `json:"executed_qty"`
	UpdateTime      null.Int    `json:"update_time"`
	TransactionTime null.Int    `json:"transaction_time"`
}

// PositionEvent is the canonical record decoded from an account-update
// position entry or a REST position-risk row.
type PositionEvent struct {
	Symbol              string      `json:"symbol"`
	PositionSide        null.String `json:"position_side"`
	PositionAmt         float64     `json:"position_amt"`
	EntryPrice          float64     `json:"entry_price"`
	BreakEvenPrice      null.Float  `json:"break_even_price"`
	UnrealizedProfit    null.Float  `json:"unrealized_profit"`
	AccumulatedRealized null.Float  `json:"accumulated_realized"`
	Notional            null.Float  `json:"notional"`
	MarkPrice           null.Float  `json:"mark_price"`
	LiquidationPrice    null.Float  `json:"liquidation_price"`
	Leverage            null.Int    `json:"leverage"`
	UpdateTime          null.Int    `json:"update_time"`
	TransactionTime     null.Int    `json:"transaction_time"`
}

// LeverageEvent is the canonical record of an ACCOUNT_CONFIG_UPDATE frame.
type LeverageEvent struct {
	Symbol   string `json:"symbol"`
	Leverage int    `json:"leverage"`
}

// ToOrder materializes the event into a mirror-store row.
func (e OrderEvent) ToOrder() Order {
	return Order{
		OrderID:         e.OrderID,
		Symbol:          e.Symbol,
		ClientOrderID:   e.ClientOrderID,
		Status:          e.Status,
		Side:            e.Side,
		PositionSide:    e.PositionSide,
		OrderType:       e.OrderType,
		OrigType:        e.OrigType,
		OrigQty:         e.OrigQty,
		AvgPrice:        e.AvgPrice,
		Price:           e.Price,
		WorkingType:     e.WorkingType,
		ReduceOnly:      e.ReduceOnly,
		ClosePosition:   e.ClosePosition,
		StopPrice:       e.StopPrice,
		TimeInForce:     e.TimeInForce,
		ActivationPrice: e.ActivationPrice,
		PriceRate:       e.PriceRate,
		RealizedProfit:  e.RealizedProfit,
		ExecutionType:   e.ExecutionType,
		LastFilledQty:   e.LastFilledQty,
		LastFilledPrice: e.LastFilledPrice,
		FilledAccumQty:  e.FilledAccumQty,
		CommissionAsset: e.CommissionAsset,
		Commission:      e.Commission,
		TradeID:         e.TradeID,
		IsMaker:         e.IsMaker,
		CumQuote:        e.CumQuote,
		ExecutedQty:     e.ExecutedQty,
		Time:            e.Time,
		UpdateTime:      e.UpdateTime,
		TransactionTime: e.TransactionTime,
	}
}

// ToCopyTradeOrder materializes the event into a follower-account row linked
// back to the master order.
func (e OrderEvent) ToCopyTradeOrder(accountID, masterOrderID int64) CopyTradeOrder {
	return CopyTradeOrder{
		OrderID:            e.OrderID,
		CopyTradeAccountID: accountID,
		MasterOrderID:      null.IntFrom(masterOrderID),
		Symbol:             e.Symbol,
		ClientOrderID:      e.ClientOrderID,
		Status:             e.Status,
		Side:               e.Side,
		PositionSide:       e.PositionSide,
		OrderType:          e.OrderType,
		OrigType:           e.OrigType,
		OrigQty:            e.OrigQty,
		AvgPrice:           e.AvgPrice,
		Price:              e.Price,
		WorkingType:        e.WorkingType,
		ReduceOnly:         e.ReduceOnly,
		ClosePosition:      e.ClosePosition,
		StopPrice:          e.StopPrice,
		TimeInForce:        e.TimeInForce,
		ActivationPrice:    e.ActivationPrice,
		PriceRate:          e.PriceRate,
		Time:               e.Time,
		TransactionTime:    e.TransactionTime,
	}
}
