package entity

import (
	"errors"
	"fmt"
)

var (
	ErrSymbolNotFound     = errors.New("symbol not found")
	ErrPositionNotFound   = errors.New("position not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrAccountNotFound    = errors.New("account not found")
	ErrPlaceOrder         = errors.New("failed to place order")
	ErrCancelOrder        = errors.New("failed to cancel order")
	ErrSymbolInactive     = errors.New("symbol is not active")
	ErrPositionOpen       = errors.New("position already open")
	ErrPositionLimit      = errors.New("open position limit reached")
	ErrSignalSource       = errors.New("signal source is not enabled")
	ErrTradeSideDisabled  = errors.New("trading side is disabled")
	ErrMalformedEvent     = errors.New("malformed stream event")
)

// ExchangeError is a rejection returned by the exchange REST API. Rejections
// are never retried; the code and message travel up to the caller's log entry.
type ExchangeError struct {
	Code    int64  `json:"code"`
	Message string `json:"msg"`
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Message)
}
