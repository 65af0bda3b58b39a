package binance

import (
	"fmt"
	"strings"

	"github.com/romnatson3/copy-trade/internal/entity"
	"github.com/shopspring/decimal"
)

// PriceToPrecision quantizes a price DOWN to the symbol's tick size and strips
// trailing zeros. Rounding down means an order is never rejected for a price
// finer than the contract allows.
func PriceToPrecision(symbol *entity.Symbol, price float64) (string, error) {
	tickSizeRaw, err := symbol.TickSize()
	if err != nil {
		return "", err
	}

	tickSize, err := decimal.NewFromString(tickSizeRaw)
	if err != nil {
		return "", fmt.Errorf("parse tick size %q for %s: %w", tickSizeRaw, symbol.Symbol, err)
	}
	if tickSize.IsZero() {
		return "", fmt.Errorf("symbol %s has zero tick size", symbol.Symbol)
	}

	value := decimal.NewFromFloat(price)
	quantized := value.Div(tickSize).Floor().Mul(tickSize)

	return stripTrailingZeros(quantized.StringFixed(int32(-tickSize.Exponent()))), nil
}

// QuantityToPrecision formats a quantity to the symbol's quantityPrecision
// digits and strips trailing zeros.
func QuantityToPrecision(symbol *entity.Symbol, quantity float64) (string, error) {
	precision, err := symbol.QuantityPrecision()
	if err != nil {
		return "", err
	}

	formatted := decimal.NewFromFloat(quantity).StringFixed(int32(precision))

	return stripTrailingZeros(formatted), nil
}

// QuantityFromUSDT sizes an order so its notional at the cached market price
// equals usdt at the symbol's leverage.
func QuantityFromUSDT(symbol *entity.Symbol, usdt, marketPrice float64) (float64, error) {
	if marketPrice <= 0 {
		return 0, fmt.Errorf("no market price for %s", symbol.Symbol)
	}

	precision, err := symbol.QuantityPrecision()
	if err != nil {
		return 0, err
	}

	quantity := decimal.NewFromFloat(usdt * float64(symbol.Leverage)).
		Div(decimal.NewFromFloat(marketPrice)).
		Round(int32(precision))

	result, _ := quantity.Float64()
	return result, nil
}

func stripTrailingZeros(value string) string {
	if !strings.Contains(value, ".") {
		return value
	}
	value = strings.TrimRight(value, "0")
	return strings.TrimRight(value, ".")
}
