package lock

import (
	"context"
	"errors"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/romnatson3/copy-trade/internal/constant"
	"github.com/romnatson3/copy-trade/internal/entity"
)

const (
	marketPriceTTL    = 5 * time.Second
	manualSettingsTTL = time.Hour
	limitUsageTTL     = 60 * time.Second
)

// Cache is the short-lived shared state next to the locks: last mark prices,
// the rate-limit breaker flag and the manual-override settings handoff.
type Cache struct {
	store Store
}

func NewCache(store Store) *Cache {
	return &Cache{store: store}
}

func (c *Cache) SetMarketPrice(ctx context.Context, symbol string, price float64) error {
	value := strconv.FormatFloat(price, 'f', -1, 64)
	return c.store.Set(ctx, constant.CacheKeyMarketPrice(symbol), value, marketPriceTTL)
}

// GetMarketPrice returns the cached mark price, or 0 when the cache entry has
// expired. Callers treat 0 as "price unknown".
func (c *Cache) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	value, err := c.store.Get(ctx, constant.CacheKeyMarketPrice(symbol))
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(value, 64)
}

func (c *Cache) SetLimitUsageTooHigh(ctx context.Context) error {
	return c.store.Set(ctx, constant.CacheKeyLimitUsageTooHigh, "1", limitUsageTTL)
}

func (c *Cache) ClearLimitUsageTooHigh(ctx context.Context) error {
	return c.store.Del(ctx, constant.CacheKeyLimitUsageTooHigh)
}

// PutManualSettings stages protective rates for the next position opened on
// the symbol.
func (c *Cache) PutManualSettings(ctx context.Context, symbol string, rates entity.ProtectiveRates) error {
	payload, err := json.Marshal(rates)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, constant.CacheKeyManualSettings(symbol), string(payload), manualSettingsTTL)
}

// TakeManualSettings consumes the staged override: the entry is deleted on
// read so it applies to exactly one position.
func (c *Cache) TakeManualSettings(ctx context.Context, symbol string) (*entity.ProtectiveRates, error) {
	value, err := c.store.GetDel(ctx, constant.CacheKeyManualSettings(symbol))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rates entity.ProtectiveRates
	if err := json.Unmarshal([]byte(value), &rates); err != nil {
		return nil, err
	}
	return &rates, nil
}

func (c *Cache) DeleteManualSettings(ctx context.Context, symbol string) error {
	return c.store.Del(ctx, constant.CacheKeyManualSettings(symbol))
}
