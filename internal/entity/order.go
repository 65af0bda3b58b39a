package entity

import (
	"time"

	"github.com/guregu/null/v6"
)

type OrderSide string
type OrderType string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"

	OrderTypeMarket             OrderType = "MARKET"
	OrderTypeLimit              OrderType = "LIMIT"
	OrderTypeStopMarket         OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket   OrderType = "TAKE_PROFIT_MARKET"
	OrderTypeTrailingStopMarket OrderType = "TRAILING_STOP_MARKET"

	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusExpired         = "EXPIRED"

	WorkingTypeMarkPrice     = "MARK_PRICE"
	WorkingTypeContractPrice = "CONTRACT_PRICE"

	TimeInForceGTC = "GTC"
)

// OppositeSide is the side that reduces a position opened on the given side.
func OppositeSide(side OrderSide) OrderSide {
	if side == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Order is the full lifecycle snapshot of one master-account order, keyed by
// the exchange-assigned order id and upserted on every lifecycle event.
type Order struct {
	OrderID         int64       `db:"order_id" json:"order_id"`
	PositionID      null.Int    `db:"position_id" json:"position_id"`
	Symbol          string      `db:"symbol" json:"symbol"`
	ClientOrderID   null.String `db:"client_order_id" json:"client_order_id"`
	Status          string      `db:"status" json:"status"`
	Side            OrderSide   `db:"side" json:"side"`
	PositionSide    null.String `db:"position_side" json:"position_side"`
	OrderType       OrderType   `db:"order_type" json:"order_type"`
	OrigType        null.String `db:"orig_type" json:"orig_type"`
	OrigQty         float64     `db:"orig_qty" json:"orig_qty"`
	AvgPrice        null.Float  `db:"avg_price" json:"avg_price"`
	Price           null.Float  `db:"price" json:"price"`
	WorkingType     null.String `db:"working_type" json:"working_type"`
	ReduceOnly      null.Bool   `db:"reduce_only" json:"reduce_only"`
	ClosePosition   null.Bool   `db:"close_position" json:"close_position"`
	StopPrice       null.Float  `db:"stop_price" json:"stop_price"`
	TimeInForce     null.String `db:"time_in_force" json:"time_in_force"`
	ActivationPrice null.Float  `db:"activation_price" json:"activation_price"`
	PriceRate       null.Float  `db:"price_rate" json:"price_rate"`
	RealizedProfit  null.Float  `db:"realized_profit" json:"realized_profit"`
	ExecutionType   null.String `db:"execution_type" json:"execution_type"`
	LastFilledQty   null.Float  `db:"last_filled_qty" json:"last_filled_qty"`
	LastFilledPrice null.Float  `db:"last_filled_price" json:"last_filled_price"`
	FilledAccumQty  null.Float  `db:"filled_accum_qty" json:"filled_accum_qty"`
	CommissionAsset null.String `db:"commission_asset" json:"commission_asset"`
	Commission      null.Float  `db:"commission" json:"commission"`
	TradeID         null.Int    `db:"trade_id" json:"trade_id"`
	IsMaker         null.Bool   `db:"is_maker" json:"is_maker"`
	CumQuote        null.Float  `db:"cum_quote" json:"cum_quote"`
	ExecutedQty     null.Float  `db:"executed_qty" json:"executed_qty"`
	Time            int64       `db:"time" json:"time"`
	UpdateTime      null.Int    `db:"update_time" json:"update_time"`
	TransactionTime null.Int    `db:"transaction_time" json:"transaction_time"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

func (o Order) TableName() string {
	return "orders"
}

// CopyTradeOrder has the same lifecycle shape as Order but lives on a follower
// account and keeps a back-reference to the master order that produced it, so
// master cancellations can be routed to the right follower order.
type CopyTradeOrder struct {
	OrderID            int64       `db:"order_id" json:"order_id"`
	CopyTradeAccountID int64       `db:"copy_trade_account_id" json:"copy_trade_account_id"`
	MasterOrderID      null.Int    `db:"master_order_id" json:"master_order_id"`
	Symbol             string      `db:"symbol" json:"symbol"`
	ClientOrderID      null.String `db:"client_order_id" json:"client_order_id"`
	Status             string      `db:"status" json:"status"`
	Side               OrderSide   `db:"side" json:"side"`
	PositionSide       null.String `db:"position_side" json:"position_side"`
	OrderType          OrderType   `db:"order_type" json:"order_type"`
	OrigType           null.String `db:"orig_type" json:"orig_type"`
	OrigQty            float64     `db:"orig_qty" json:"orig_qty"`
	AvgPrice           null.Float  `db:"avg_price" json:"avg_price"`
	Price              null.Float  `db:"price" json:"price"`
	WorkingType        null.String `db:"working_type" json:"working_type"`
	ReduceOnly         null.Bool   `db:"reduce_only" json:"reduce_only"`
	ClosePosition      null.Bool   `db:"close_position" json:"close_position"`
	StopPrice          null.Float  `db:"stop_price" json:"stop_price"`
	TimeInForce        null.String `db:"time_in_force" json:"time_in_force"`
	ActivationPrice    null.Float  `db:"activation_price" json:"activation_price"`
	PriceRate          null.Float  `db:"price_rate" json:"price_rate"`
	Time               int64       `db:"time" json:"time"`
	TransactionTime    null.Int    `db:"transaction_time" json:"transaction_time"`
	CreatedAt          time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at" json:"updated_at"`
}

func (o CopyTradeOrder) TableName() string {
	return "copy_trade_orders"
}
