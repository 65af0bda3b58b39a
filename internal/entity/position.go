package entity

import (
	"math"
	"time"

	"github.com/guregu/null/v6"
)

type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// Position is the local mirror of one exchange-side futures position. A symbol
// has at most one open position at a time; closed positions are kept as history
// and never deleted.
type Position struct {
	ID                  int64        `db:"id" json:"id"`
	Symbol              string       `db:"symbol" json:"symbol"`
	PositionSide        PositionSide `db:"position_side" json:"position_side"`
	Side                OrderSide    `db:"side" json:"side"`
	PositionAmt         float64      `db:"position_amt" json:"position_amt"`
	EntryPrice          float64      `db:"entry_price" json:"entry_price"`
	BreakEvenPrice      null.Float   `db:"break_even_price" json:"break_even_price"`
	UnrealizedProfit    float64      `db:"unrealized_profit" json:"unrealized_profit"`
	AccumulatedRealized null.Float   `db:"accumulated_realized" json:"accumulated_realized"`
	Notional            null.Float   `db:"notional" json:"notional"`
	MarkPrice           null.Float   `db:"mark_price" json:"mark_price"`
	LiquidationPrice    null.Float   `db:"liquidation_price" json:"liquidation_price"`
	IsOpen              bool         `db:"is_open" json:"is_open"`
	UpdateTime          null.Int     `db:"update_time" json:"update_time"`
	TransactionTime     null.Int     `db:"transaction_time" json:"transaction_time"`
	CreatedAt           time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time    `db:"updated_at" json:"updated_at"`
}

func (p Position) TableName() string {
	return "positions"
}

// Quantity is the unsigned position size.
func (p Position) Quantity() float64 {
	return math.Abs(p.PositionAmt)
}

// TakeProfitPrice derives the protective take-profit trigger from the entry
// price. The rate is a percentage of margin, so it is scaled down by leverage.
func (p Position) TakeProfitPrice(rate float64, leverage int) float64 {
	if p.Side == OrderSideBuy {
		return p.EntryPrice * (1 + rate/float64(leverage)/100)
	}
	return p.EntryPrice * (1 - rate/float64(leverage)/100)
}

func (p Position) StopLossPrice(rate float64, leverage int) float64 {
	if p.Side == OrderSideBuy {
		return p.EntryPrice * (1 - rate/float64(leverage)/100)
	}
	return p.EntryPrice * (1 + rate/float64(leverage)/100)
}

// TrailingStopActivationPrice is rate percent away from entry, not scaled by
// leverage: the exchange trails the mark price itself.
func (p Position) TrailingStopActivationPrice(rate float64) float64 {
	if p.Side == OrderSideBuy {
		return p.EntryPrice * (1 + rate/100)
	}
	return p.EntryPrice * (1 - rate/100)
}

func (p Position) LimitOrderPrice(rate float64) float64 {
	if p.Side == OrderSideBuy {
		return p.EntryPrice * (1 + rate/100)
	}
	return p.EntryPrice * (1 - rate/100)
}

func (p Position) QuantityByRate(rate float64) float64 {
	return p.Quantity() * rate / 100
}

func (p Position) IncreasedQuantity(multiplier int) float64 {
	return p.Quantity() * float64(multiplier)
}

// PositionSettings holds the protective-order parameters chosen for one
// position at the moment it was opened.
type PositionSettings struct {
	ID                              int64     `db:"id" json:"id"`
	PositionID                      int64     `db:"position_id" json:"position_id"`
	TakeProfitRate                  float64   `db:"take_profit_rate" json:"take_profit_rate"`
	StopLossRate                    float64   `db:"stop_loss_rate" json:"stop_loss_rate"`
	TrailingStopCallbackRate        float64   `db:"trailing_stop_callback_rate" json:"trailing_stop_callback_rate"`
	TrailingStopActivationPriceRate float64   `db:"trailing_stop_activation_price_rate" json:"trailing_stop_activation_price_rate"`
	CreatedAt                       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt                       time.Time `db:"updated_at" json:"updated_at"`
}

func (s PositionSettings) TableName() string {
	return "position_settings"
}
