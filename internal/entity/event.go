package entity

import "context"

type Publisher interface {
	JetstreamEventInit(ctx context.Context) error
}

type Subscriber interface {
	JetstreamEventSubscribe(ctx context.Context) error
}

// Envelopes published on JetStream. RetryCount is bumped by the consumer on
// failure and the event republished until the configured maximum.

type ReplicationOrderEvent struct {
	RetryCount int        `json:"retry"`
	AccountID  int64      `json:"account_id"`
	Data       OrderEvent `json:"data"`
}

type ReplicationLeverageEvent struct {
	RetryCount int           `json:"retry"`
	AccountID  int64         `json:"account_id"`
	Data       LeverageEvent `json:"data"`
}

type PositionOpenedEvent struct {
	RetryCount int   `json:"retry"`
	PositionID int64 `json:"position_id"`
}

type CancelOpenOrdersEvent struct {
	RetryCount int    `json:"retry"`
	Symbol     string `json:"symbol"`
}

type OpenPositionSignalEvent struct {
	RetryCount int       `json:"retry"`
	Symbol     string    `json:"symbol"`
	Side       OrderSide `json:"side"`
}
