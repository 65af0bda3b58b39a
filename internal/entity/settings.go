package entity

import "time"

type SignalSource string

const (
	SignalSourceRSI      SignalSource = "RSI"
	SignalSourceTelegram SignalSource = "TLG"
)

// MainSettings is the singleton row (id 1) of global defaults: protective-order
// rates applied to new positions, per-side open-position limits, the enabled
// signal source and the quantity coefficient used for replication.
type MainSettings struct {
	ID                              int64        `db:"id" json:"id"`
	TakeProfitRate                  float64      `db:"take_profit_rate" json:"take_profit_rate"`
	StopLossRate                    float64      `db:"stop_loss_rate" json:"stop_loss_rate"`
	TrailingStopCallbackRate        float64      `db:"trailing_stop_callback_rate" json:"trailing_stop_callback_rate"`
	TrailingStopActivationPriceRate float64      `db:"trailing_stop_activation_price_rate" json:"trailing_stop_activation_price_rate"`
	ShortPositionLimit              int          `db:"short_position_limit" json:"short_position_limit"`
	LongPositionLimit               int          `db:"long_position_limit" json:"long_position_limit"`
	BullMode                        bool         `db:"bull_mode" json:"bull_mode"`
	BearMode                        bool         `db:"bear_mode" json:"bear_mode"`
	SignalSourceName                SignalSource `db:"signal_source_name" json:"signal_source_name"`
	AmountUSDT                      float64      `db:"amount_usdt" json:"amount_usdt"`
	Coefficient                     float64      `db:"coefficient" json:"coefficient"`
	CreatedAt                       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt                       time.Time    `db:"updated_at" json:"updated_at"`
}

func (s MainSettings) TableName() string {
	return "main_settings"
}

// ProtectiveRates is the subset of settings copied into PositionSettings when a
// position opens.
type ProtectiveRates struct {
	TakeProfitRate                  float64 `json:"take_profit_rate"`
	StopLossRate                    float64 `json:"stop_loss_rate"`
	TrailingStopCallbackRate        float64 `json:"trailing_stop_callback_rate"`
	TrailingStopActivationPriceRate float64 `json:"trailing_stop_activation_price_rate"`
}

func (s MainSettings) ProtectiveRates() ProtectiveRates {
	return ProtectiveRates{
		TakeProfitRate:                  s.TakeProfitRate,
		StopLossRate:                    s.StopLossRate,
		TrailingStopCallbackRate:        s.TrailingStopCallbackRate,
		TrailingStopActivationPriceRate: s.TrailingStopActivationPriceRate,
	}
}
