package constant

import "fmt"

const (
	DevelopmentEnvironment = "development"
	ProductionEnvironment  = "production"
)

const (
	CopyTradeStreamName          = "copy_trade"
	CopyTradeStreamSubjectAll    = "copy_trade.*"
	CopyTradeStreamSubjectOrder  = "copy_trade.order"
	CopyTradeStreamSubjectConfig = "copy_trade.leverage"

	CopyTradeOrderQueueName    = "copy_trade_order_queue"
	CopyTradeLeverageQueueName = "copy_trade_leverage_queue"

	PositionStreamName                = "position"
	PositionStreamSubjectAll          = "position.*"
	PositionStreamSubjectOpened       = "position.opened"
	PositionStreamSubjectCancelOrders = "position.cancel_orders"
	PositionStreamSubjectSignal       = "position.signal"

	PositionOpenedQueueName       = "position_opened_queue"
	PositionCancelOrdersQueueName = "position_cancel_orders_queue"
	PositionSignalQueueName       = "position_signal_queue"
)

// Lock keys guard scheduled and event-triggered units so each logical resource
// runs at most once across the worker fleet.
const (
	LockKeyLimitUsage        = "task_get_limit_usage"
	LockKeyUpdateBalances    = "task_update_balances"
	LockKeyUpdatePositions   = "task_update_positions"
	LockKeyUpdateOpenOrders  = "task_update_open_orders"
	LockKeyUpdateSymbols     = "task_update_symbols"
	LockKeyMarketPriceStream = "task_run_websocket_market_price"
	LockKeyUserDataStream    = "task_run_websocket_user_data"
)

func LockKeyCancelAllOpenOrders(symbol string) string {
	return fmt.Sprintf("task_cancel_all_open_orders_%s", symbol)
}

func LockKeyOpenPosition(symbol string) string {
	return fmt.Sprintf("task_open_position_%s", symbol)
}

func LockKeyProtectiveOrders(positionID int64) string {
	return fmt.Sprintf("placing_orders_after_opening_position_%d", positionID)
}

// Cache keys on the shared store.
const (
	CacheKeyLimitUsageTooHigh = "limit_usage_too_high"
)

func CacheKeyMarketPrice(symbol string) string {
	return fmt.Sprintf("market_price_%s", symbol)
}

func CacheKeyManualSettings(symbol string) string {
	return fmt.Sprintf("open_position_manually_%s", symbol)
}
