package entity

import (
	"time"

	"github.com/guregu/null/v6"
)

// MasterAccount is the single account whose trades are mirrored. It is kept as
// a fixed singleton row, id 1.
type MasterAccount struct {
	ID                 int64     `db:"id" json:"id"`
	Name               string    `db:"name" json:"name"`
	Testnet            bool      `db:"testnet" json:"testnet"`
	APIKey             string    `db:"api_key" json:"api_key"`
	APISecret          string    `db:"api_secret" json:"api_secret"`
	WalletBalance      float64   `db:"wallet_balance" json:"wallet_balance"`
	AvailableBalance   float64   `db:"available_balance" json:"available_balance"`
	MarginBalance      float64   `db:"margin_balance" json:"margin_balance"`
	CrossUnrealizedPnl float64   `db:"cross_unrealized_pnl" json:"cross_unrealized_pnl"`
	UnrealizedProfit   float64   `db:"unrealized_profit" json:"unrealized_profit"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

func (a MasterAccount) TableName() string {
	return "master_accounts"
}

// CopyTradeAccount is one follower. Each follower has its own API keys and may
// route exchange calls through its own outbound proxy.
type CopyTradeAccount struct {
	ID                 int64       `db:"id" json:"id"`
	Name               string      `db:"name" json:"name"`
	APIKey             string      `db:"api_key" json:"api_key"`
	APISecret          string      `db:"api_secret" json:"api_secret"`
	Proxy              null.String `db:"proxy" json:"proxy"`
	UseProxy           bool        `db:"use_proxy" json:"use_proxy"`
	WalletBalance      float64     `db:"wallet_balance" json:"wallet_balance"`
	AvailableBalance   float64     `db:"available_balance" json:"available_balance"`
	MarginBalance      float64     `db:"margin_balance" json:"margin_balance"`
	CrossUnrealizedPnl float64     `db:"cross_unrealized_pnl" json:"cross_unrealized_pnl"`
	UnrealizedProfit   float64     `db:"unrealized_profit" json:"unrealized_profit"`
	CreatedAt          time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at" json:"updated_at"`
}

func (a CopyTradeAccount) TableName() string {
	return "copy_trade_accounts"
}

// ProxyURL returns the outbound proxy endpoint or "" when the account calls
// the exchange directly.
func (a CopyTradeAccount) ProxyURL() string {
	if a.UseProxy && a.Proxy.Valid {
		return a.Proxy.String
	}
	return ""
}
