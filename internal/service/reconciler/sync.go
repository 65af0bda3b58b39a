package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/romnatson3/copy-trade/internal/config"
	"github.com/romnatson3/copy-trade/internal/entity"
	"github.com/romnatson3/copy-trade/internal/service/binance"
	"github.com/sirupsen/logrus"
)

type accountStore interface {
	GetMasterAccount(ctx context.Context) (*entity.MasterAccount, error)
	UpdateMasterBalances(ctx context.Context, account *entity.MasterAccount) error
	ListCopyTradeAccounts(ctx context.Context) ([]entity.CopyTradeAccount, error)
	UpdateCopyTradeBalances(ctx context.Context, account *entity.CopyTradeAccount) error
}

type symbolSyncStore interface {
	Upsert(ctx context.Context, symbol *entity.Symbol) error
	GetBySymbol(ctx context.Context, symbol string) (*entity.Symbol, error)
	DeactivateMissing(ctx context.Context, activeSymbols []string) error
}

type breakerCache interface {
	SetLimitUsageTooHigh(ctx context.Context) error
	ClearLimitUsageTooHigh(ctx context.Context) error
}

// SyncService runs the periodic pull-based reconciliation against the
// exchange REST API, applying the same rules as the stream handlers. The one
// difference: an exchange-side position absent from the mirror is logged
// critical, never auto-created, because its settings and entry history are
// unknowable after the fact.
type SyncService struct {
	cfg      config.BinanceConfig
	service  *Service
	accounts accountStore
	symbols  symbolSyncStore
	breaker  breakerCache
}

func NewSyncService(cfg config.BinanceConfig, service *Service, accounts accountStore, symbols symbolSyncStore, breaker breakerCache) *SyncService {
	return &SyncService{
		cfg:      cfg,
		service:  service,
		accounts: accounts,
		symbols:  symbols,
		breaker:  breaker,
	}
}

// MasterClient builds a REST client from the stored master credentials. The
// credentials are re-read on every call so a key rotation takes effect
// without a restart.
func (s *SyncService) MasterClient(ctx context.Context) (*binance.Client, *entity.MasterAccount, error) {
	master, err := s.accounts.GetMasterAccount(ctx)
	if err != nil {
		return nil, nil, err
	}

	client, err := binance.NewClient(s.cfg, binance.Credentials{
		APIKey:    master.APIKey,
		APISecret: master.APISecret,
	}, master.Testnet)
	if err != nil {
		return nil, nil, err
	}
	return client, master, nil
}

func (s *SyncService) followerClient(account *entity.CopyTradeAccount, testnet bool) (*binance.Client, error) {
	return binance.NewClient(s.cfg, binance.Credentials{
		APIKey:    account.APIKey,
		APISecret: account.APISecret,
		Proxy:     account.ProxyURL(),
	}, testnet)
}

// UpdateBalances refreshes the USDT balance snapshot of the master and every
// follower. Followers run concurrently; a failing follower only loses its own
// update.
func (s *SyncService) UpdateBalances(ctx context.Context) error {
	client, master, err := s.MasterClient(ctx)
	if err != nil {
		return err
	}

	if err := s.updateMasterBalances(ctx, client, master); err != nil {
		logrus.WithError(err).Error("failed to update master balances")
	}

	followers, err := s.accounts.ListCopyTradeAccounts(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := range followers {
		account := followers[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.updateFollowerBalances(ctx, &account, master.Testnet); err != nil {
				logrus.WithError(err).WithField("account", account.ID).Error("failed to update follower balances")
			}
		}()
	}
	wg.Wait()

	return nil
}

func (s *SyncService) updateMasterBalances(ctx context.Context, client *binance.Client, master *entity.MasterAccount) error {
	balances, err := fetchUSDTBalances(ctx, client)
	if err != nil {
		return err
	}

	master.WalletBalance = balances.wallet
	master.MarginBalance = balances.margin
	master.AvailableBalance = balances.available
	master.CrossUnrealizedPnl = balances.crossUnPnl
	master.UnrealizedProfit = balances.unrealized

	if err := s.accounts.UpdateMasterBalances(ctx, master); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"account":        "master",
		"wallet_balance": balances.wallet,
	}).Trace("updated balances")
	return nil
}

func (s *SyncService) updateFollowerBalances(ctx context.Context, account *entity.CopyTradeAccount, testnet bool) error {
	client, err := s.followerClient(account, testnet)
	if err != nil {
		return err
	}

	balances, err := fetchUSDTBalances(ctx, client)
	if err != nil {
		return err
	}

	account.WalletBalance = balances.wallet
	account.MarginBalance = balances.margin
	account.AvailableBalance = balances.available
	account.CrossUnrealizedPnl = balances.crossUnPnl
	account.UnrealizedProfit = balances.unrealized

	if err := s.accounts.UpdateCopyTradeBalances(ctx, account); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"account":        account.ID,
		"wallet_balance": balances.wallet,
	}).Trace("updated balances")
	return nil
}

type usdtBalances struct {
	wallet     float64
	margin     float64
	available  float64
	crossUnPnl float64
	unrealized float64
}

func fetchUSDTBalances(ctx context.Context, client *binance.Client) (*usdtBalances, error) {
	info, err := client.AccountInfo(ctx)
	if err != nil {
		return nil, err
	}

	assets, ok := info["assets"].([]any)
	if !ok {
		return nil, fmt.Errorf("account info has no assets")
	}

	for _, entry := range assets {
		asset, ok := entry.(map[string]any)
		if !ok || asset["asset"] != "USDT" {
			continue
		}
		return &usdtBalances{
			wallet:     floatField(asset, "walletBalance"),
			margin:     floatField(asset, "marginBalance"),
			available:  floatField(asset, "availableBalance"),
			crossUnPnl: floatField(asset, "crossUnPnl"),
			unrealized: floatField(asset, "unrealizedProfit"),
		}, nil
	}

	return nil, fmt.Errorf("no USDT asset in account info")
}

func floatField(raw map[string]any, key string) float64 {
	value, ok := raw[key].(string)
	if !ok {
		return 0
	}
	parsed, err := parsePrice(value)
	if err != nil {
		return 0
	}
	return parsed
}

// SyncPositions pulls exchange-side positions and updates open mirror rows in
// place. A position the exchange reports but the mirror does not know is a
// missed event: logged critical and left alone.
func (s *SyncService) SyncPositions(ctx context.Context) error {
	client, _, err := s.MasterClient(ctx)
	if err != nil {
		return err
	}

	rows, err := client.PositionRisk(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		logrus.Trace("no open positions found")
		return nil
	}

	for _, row := range rows {
		event, err := binance.DecodePosition(row)
		if err != nil {
			logrus.WithError(err).Error("failed to decode position row")
			continue
		}

		log := logrus.WithField("symbol", event.Symbol)

		if _, err := s.symbols.GetBySymbol(ctx, event.Symbol); err != nil {
			log.Warn("symbol not found in database")
			continue
		}

		position, err := s.service.positions.GetOpenBySymbol(ctx, event.Symbol)
		if errors.Is(err, entity.ErrPositionNotFound) {
			log.WithFields(logrus.Fields{
				"position_amt": event.PositionAmt,
				"entry_price":  event.EntryPrice,
			}).Error("found position in binance, but not in database")
			continue
		}
		if err != nil {
			return err
		}

		applyEvent(position, event)
		if err := s.service.positions.Update(ctx, position); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"id":           position.ID,
			"position_amt": position.PositionAmt,
		}).Trace("updated position in database")
	}

	return nil
}

// SyncOpenOrders pulls the exchange's open orders and applies the usual order
// upsert rules. Runs once at worker start to catch events missed while down.
func (s *SyncService) SyncOpenOrders(ctx context.Context) error {
	client, _, err := s.MasterClient(ctx)
	if err != nil {
		return err
	}

	rows, err := client.OpenOrders(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		logrus.Trace("no open orders found")
		return nil
	}

	for _, row := range rows {
		event, err := binance.DecodeOrder(row)
		if err != nil {
			logrus.WithError(err).Error("failed to decode order row")
			continue
		}
		if err := s.service.HandleOrderEvent(ctx, event); err != nil {
			logrus.WithError(err).WithField("id", event.OrderID).Error("failed to sync order")
		}
	}

	return nil
}

// UpdateSymbols refreshes the contract catalogue: metadata from exchangeInfo,
// leverage defaults from the first leverage bracket.
func (s *SyncService) UpdateSymbols(ctx context.Context) error {
	client, _, err := s.MasterClient(ctx)
	if err != nil {
		return err
	}

	info, err := client.ExchangeInfo(ctx)
	if err != nil {
		return err
	}

	brackets, err := client.LeverageBrackets(ctx)
	if err != nil {
		return err
	}
	maxLeverage := make(map[string]int, len(brackets))
	for _, entry := range brackets {
		name, _ := entry["symbol"].(string)
		tiers, _ := entry["brackets"].([]any)
		if name == "" || len(tiers) == 0 {
			continue
		}
		if first, ok := tiers[0].(map[string]any); ok {
			if initial, ok := first["initialLeverage"].(float64); ok {
				maxLeverage[name] = int(initial)
			}
		}
	}

	rawSymbols, ok := info["symbols"].([]any)
	if !ok {
		return fmt.Errorf("exchange info has no symbols")
	}

	updated := 0
	listed := make([]string, 0, len(rawSymbols))
	for _, entry := range rawSymbols {
		raw, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		name, _ := raw["symbol"].(string)
		status, _ := raw["status"].(string)
		if name == "" {
			continue
		}
		listed = append(listed, name)

		leverage := s.cfg.DefaultLeverage
		if max, ok := maxLeverage[name]; ok && max > leverage {
			leverage = max
		}

		data, err := marshalSymbolData(raw)
		if err != nil {
			logrus.WithError(err).WithField("symbol", name).Error("failed to encode symbol data")
			continue
		}

		symbol := &entity.Symbol{
			Symbol:   name,
			Data:     data,
			IsActive: status == "TRADING",
			Leverage: leverage,
		}
		if err := s.symbols.Upsert(ctx, symbol); err != nil {
			return fmt.Errorf("upsert symbol %s: %w", name, err)
		}
		updated++
	}

	if err := s.symbols.DeactivateMissing(ctx, listed); err != nil {
		return fmt.Errorf("deactivate delisted symbols: %w", err)
	}

	logrus.WithField("count", updated).Info("updated symbols")
	return nil
}

func marshalSymbolData(raw map[string]any) ([]byte, error) {
	return json.Marshal(raw)
}

// ProbeLimitUsage reads the consumed 1-minute request weight and trips (or
// clears) the breaker flag accordingly.
func (s *SyncService) ProbeLimitUsage(ctx context.Context) error {
	client, _, err := s.MasterClient(ctx)
	if err != nil {
		return err
	}

	usedWeight, err := client.UsedWeight(ctx)
	if err != nil {
		return err
	}
	logrus.WithField("used_weight", usedWeight).Trace("limit usage")

	if usedWeight > s.cfg.LimitUsage {
		logrus.WithField("used_weight", usedWeight).Warn("limit usage is too high")
		return s.breaker.SetLimitUsageTooHigh(ctx)
	}
	return s.breaker.ClearLimitUsageTooHigh(ctx)
}
