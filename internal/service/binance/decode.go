package binance

import (
	"fmt"
	"strconv"

	"github.com/guregu/null/v6"
	"github.com/romnatson3/copy-trade/internal/entity"
)

// The exchange reports the same order in two dialects: single-letter keys on
// the stream, long camel-case keys over REST. Each canonical field maps to a
// priority-ordered key list; the first key present wins and absent fields stay
// invalid.

func pickRaw(raw map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if value, ok := raw[key]; ok && value != nil {
			return value, true
		}
	}
	return nil, false
}

func pickString(raw map[string]any, keys ...string) (string, bool) {
	value, ok := pickRaw(raw, keys...)
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

func pickFloat(raw map[string]any, keys ...string) (float64, bool, error) {
	value, ok := pickRaw(raw, keys...)
	if !ok {
		return 0, false, nil
	}
	switch v := value.(type) {
	case float64:
		return v, true, nil
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%w: %q is not a number", entity.ErrMalformedEvent, v)
		}
		return parsed, true, nil
	default:
		return 0, false, fmt.Errorf("%w: unexpected numeric type %T", entity.ErrMalformedEvent, value)
	}
}

func pickInt(raw map[string]any, keys ...string) (int64, bool, error) {
	value, found, err := pickFloat(raw, keys...)
	return int64(value), found, err
}

func pickBool(raw map[string]any, keys ...string) (bool, bool) {
	value, ok := pickRaw(raw, keys...)
	if !ok {
		return false, false
	}
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		return v == "true", true
	default:
		return false, false
	}
}

func nullFloat(raw map[string]any, keys ...string) (null.Float, error) {
	value, found, err := pickFloat(raw, keys...)
	if err != nil {
		return null.Float{}, err
	}
	if !found {
		return null.Float{}, nil
	}
	return null.FloatFrom(value), nil
}

func nullInt(raw map[string]any, keys ...string) (null.Int, error) {
	value, found, err := pickInt(raw, keys...)
	if err != nil {
		return null.Int{}, err
	}
	if !found {
		return null.Int{}, nil
	}
	return null.IntFrom(value), nil
}

func nullString(raw map[string]any, keys ...string) null.String {
	value, found := pickString(raw, keys...)
	if !found {
		return null.String{}
	}
	return null.StringFrom(value)
}

func nullBool(raw map[string]any, keys ...string) null.Bool {
	value, found := pickBool(raw, keys...)
	if !found {
		return null.Bool{}
	}
	return null.BoolFrom(value)
}

// DecodeOrder normalizes a raw order payload (stream frame inner object or
// REST row) into the canonical order event. The caller stamps TransactionTime
// from the outer frame when decoding stream data.
func DecodeOrder(raw map[string]any) (*entity.OrderEvent, error) {
	orderID, found, err := pickInt(raw, "i", "orderId")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: order id is missing", entity.ErrMalformedEvent)
	}

	symbol, found := pickString(raw, "s", "symbol")
	if !found {
		return nil, fmt.Errorf("%w: symbol is missing", entity.ErrMalformedEvent)
	}

	event := &entity.OrderEvent{
		OrderID:         orderID,
		Symbol:          symbol,
		ClientOrderID:   nullString(raw, "c", "clientOrderId"),
		PositionSide:    nullString(raw, "ps", "positionSide"),
		OrigType:        nullString(raw, "ot", "origType"),
		WorkingType:     nullString(raw, "wt", "workingType"),
		TimeInForce:     nullString(raw, "f", "timeInForce"),
		ExecutionType:   nullString(raw, "x"),
		CommissionAsset: nullString(raw, "N"),
		ReduceOnly:      nullBool(raw, "R", "reduceOnly"),
		ClosePosition:   nullBool(raw, "cp", "closePosition"),
		IsMaker:         nullBool(raw, "m"),
	}

	if status, ok := pickString(raw, "X", "status"); ok {
		event.Status = status
	}
	if side, ok := pickString(raw, "S", "side"); ok {
		event.Side = entity.OrderSide(side)
	}
	if orderType, ok := pickString(raw, "o", "type"); ok {
		event.OrderType = entity.OrderType(orderType)
	}

	origQty, _, err := pickFloat(raw, "q", "origQty")
	if err != nil {
		return nil, err
	}
	event.OrigQty = origQty

	eventTime, _, err := pickInt(raw, "T", "time", "updateTime")
	if err != nil {
		return nil, err
	}
	event.Time = eventTime

	for _, field := range []struct {
		dst  *null.Float
		keys []string
	}{
		{&event.AvgPrice, []string{"ap", "avgPrice"}},
		{&event.Price, []string{"p", "price"}},
		{&event.StopPrice, []string{"sp", "stopPrice"}},
		{&event.ActivationPrice, []string{"AP", "activatePrice"}},
		{&event.PriceRate, []string{"cr", "priceRate"}},
		{&event.RealizedProfit, []string{"rp"}},
		{&event.LastFilledQty, []string{"l"}},
		{&event.LastFilledPrice, []string{"L"}},
		{&event.FilledAccumQty, []string{"z"}},
		{&event.Commission, []string{"n"}},
		{&event.CumQuote, []string{"cumQuote"}},
		{&event.ExecutedQty, []string{"executedQty"}},
	} {
		value, err := nullFloat(raw, field.keys...)
		if err != nil {
			return nil, err
		}
		*field.dst = value
	}

	if event.TradeID, err = nullInt(raw, "t"); err != nil {
		return nil, err
	}
	if event.UpdateTime, err = nullInt(raw, "updateTime"); err != nil {
		return nil, err
	}

	return event, nil
}

// DecodePosition normalizes an account-update position entry or a REST
// position-risk row.
func DecodePosition(raw map[string]any) (*entity.PositionEvent, error) {
	symbol, found := pickString(raw, "s", "symbol")
	if !found {
		return nil, fmt.Errorf("%w: symbol is missing", entity.ErrMalformedEvent)
	}

	event := &entity.PositionEvent{
		Symbol:       symbol,
		PositionSide: nullString(raw, "ps", "positionSide"),
	}

	positionAmt, _, err := pickFloat(raw, "pa", "positionAmt")
	if err != nil {
		return nil, err
	}
	event.PositionAmt = positionAmt

	entryPrice, _, err := pickFloat(raw, "ep", "entryPrice")
	if err != nil {
		return nil, err
	}
	event.EntryPrice = entryPrice

	for _, field := range []struct {
		dst  *null.Float
		keys []string
	}{
		{&event.BreakEvenPrice, []string{"bep", "breakEvenPrice"}},
		{&event.UnrealizedProfit, []string{"up", "unRealizedProfit", "unrealizedProfit"}},
		{&event.AccumulatedRealized, []string{"cr"}},
		{&event.Notional, []string{"notional"}},
		{&event.MarkPrice, []string{"markPrice"}},
		{&event.LiquidationPrice, []string{"liquidationPrice"}},
	} {
		value, err := nullFloat(raw, field.keys...)
		if err != nil {
			return nil, err
		}
		*field.dst = value
	}

	if event.Leverage, err = nullInt(raw, "leverage"); err != nil {
		return nil, err
	}
	if event.UpdateTime, err = nullInt(raw, "updateTime"); err != nil {
		return nil, err
	}

	return event, nil
}

// DecodeLeverage normalizes the "ac" object of an ACCOUNT_CONFIG_UPDATE frame.
func DecodeLeverage(raw map[string]any) (*entity.LeverageEvent, error) {
	symbol, found := pickString(raw, "s", "symbol")
	if !found {
		return nil, fmt.Errorf("%w: symbol is missing", entity.ErrMalformedEvent)
	}

	leverage, found, err := pickInt(raw, "l", "leverage")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: leverage is missing", entity.ErrMalformedEvent)
	}

	return &entity.LeverageEvent{Symbol: symbol, Leverage: int(leverage)}, nil
}
