package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Symbol mirrors one tradable futures contract. The raw exchange metadata
// blob is kept verbatim so precision rules always reflect what the exchange
// reported last.
type Symbol struct {
	Symbol    string          `db:"symbol" json:"symbol"`
	Data      json.RawMessage `db:"data" json:"data"`
	IsActive  bool            `db:"is_active" json:"is_active"`
	Leverage  int             `db:"leverage" json:"leverage"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

func (s Symbol) TableName() string {
	return "symbols"
}

type SymbolFilter struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize"`
	StepSize   string `json:"stepSize"`
}

type SymbolData struct {
	Symbol            string         `json:"symbol"`
	Status            string         `json:"status"`
	PricePrecision    int            `json:"pricePrecision"`
	QuantityPrecision int            `json:"quantityPrecision"`
	Filters           []SymbolFilter `json:"filters"`
}

func (s Symbol) ParseData() (SymbolData, error) {
	var data SymbolData
	if len(s.Data) == 0 {
		return data, fmt.Errorf("symbol %s has no instrument data", s.Symbol)
	}
	if err := json.Unmarshal(s.Data, &data); err != nil {
		return data, fmt.Errorf("parse instrument data for %s: %w", s.Symbol, err)
	}
	return data, nil
}

// TickSize returns the minimum price increment for the symbol, taken from the
// exchange PRICE_FILTER. A wrong tick size causes order rejection on the
// exchange side, so the metadata is treated as authoritative.
func (s Symbol) TickSize() (string, error) {
	data, err := s.ParseData()
	if err != nil {
		return "", err
	}
	for _, filter := range data.Filters {
		if filter.FilterType == "PRICE_FILTER" && strings.TrimSpace(filter.TickSize) != "" {
			return filter.TickSize, nil
		}
	}
	return "", fmt.Errorf("symbol %s has no PRICE_FILTER tick size", s.Symbol)
}

func (s Symbol) QuantityPrecision() (int, error) {
	data, err := s.ParseData()
	if err != nil {
		return 0, err
	}
	return data.QuantityPrecision, nil
}
