package bootstrap

import (
	"context"
	"errors"
	"time"

	"github.com/romnatson3/copy-trade/internal/config"
	"github.com/romnatson3/copy-trade/internal/constant"
	"github.com/romnatson3/copy-trade/internal/infrastructure"
	"github.com/romnatson3/copy-trade/internal/repository"
	"github.com/romnatson3/copy-trade/internal/service/lock"
	"github.com/romnatson3/copy-trade/internal/service/reconciler"
	"github.com/romnatson3/copy-trade/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// StartSyncWorker runs the periodic pull reconciliation against the exchange:
// balances, position drift, open orders, symbol metadata and the rate-limit
// probe. Every unit runs under a fleet-wide lock with a wall-clock ceiling.
func StartSyncWorker(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := infrastructure.NewPostgresConnection(ctx, config.Env.Database["copy_trade"])
	util.ContinueOrFatal(err)
	infrastructure.StartPostgresHealthCheck(ctx, db, config.Env.Database["copy_trade"].PingInterval)

	redisClient, err := infrastructure.NewRedisClient(ctx, config.Env.Redis["cache"])
	util.ContinueOrFatal(err)

	nc, js, err := infrastructure.NewJetstream()
	util.ContinueOrFatal(err)

	symbolRepo := repository.NewSymbolRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	positionSettingsRepo := repository.NewPositionSettingsRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	mainSettingsRepo := repository.NewMainSettingsRepository(db)

	lockStore := lock.NewRedisStore(redisClient)
	cache := lock.NewCache(lockStore)

	reconcilerService := reconciler.NewService(
		positionRepo,
		positionSettingsRepo,
		orderRepo,
		symbolRepo,
		mainSettingsRepo,
		cache,
		util.NewJetstreamPublisher(js),
	)
	syncService := reconciler.NewSyncService(config.Env.Binance, reconcilerService, accountRepo, symbolRepo, cache)

	scheduler := &syncScheduler{sync: syncService, lockStore: lockStore}

	// one-shot backfill so restarts pick up orders placed while down
	if err := scheduler.run(ctx, constant.LockKeyUpdateOpenOrders, syncService.SyncOpenOrders); err != nil {
		logrus.WithError(err).Error("open order backfill failed")
	}

	runEvery(ctx, "update balances", config.Env.Scheduler.UpdateBalancesInterval, func(ctx context.Context) error {
		return scheduler.run(ctx, constant.LockKeyUpdateBalances, syncService.UpdateBalances)
	})
	runEvery(ctx, "update positions", config.Env.Scheduler.UpdatePositionsInterval, func(ctx context.Context) error {
		return scheduler.run(ctx, constant.LockKeyUpdatePositions, syncService.SyncPositions)
	})
	runEvery(ctx, "limit usage", config.Env.Scheduler.LimitUsageInterval, func(ctx context.Context) error {
		return scheduler.run(ctx, constant.LockKeyLimitUsage, syncService.ProbeLimitUsage)
	})
	runEvery(ctx, "update symbols", config.Env.Scheduler.UpdateSymbolsInterval, func(ctx context.Context) error {
		return scheduler.run(ctx, constant.LockKeyUpdateSymbols, syncService.UpdateSymbols)
	})

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"database": func(ctx context.Context) error {
			cancel()
			return db.Close()
		},
		"redis": func(ctx context.Context) error {
			return redisClient.Close()
		},
		"nats connection": func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		},
	})

	<-wait
}

type syncScheduler struct {
	sync      *reconciler.SyncService
	lockStore lock.Store
}

// run executes one scheduled unit under its fleet-wide lock. A held lock or a
// tripped rate-limit breaker means another worker owns this round.
func (s *syncScheduler) run(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	timeout := config.Env.Scheduler.TaskTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	err := lock.WithLock(ctx, s.lockStore, key, timeout, lock.Options{GuardLimitUsage: key != constant.LockKeyLimitUsage}, func(ctx context.Context) error {
		return util.RunWithTimeout(key, timeout, fn)
	})
	if errors.Is(err, lock.ErrLimitUsage) {
		logrus.WithField("task", key).Warn(err)
		return nil
	}
	if errors.Is(err, lock.ErrAlreadyLocked) {
		logrus.WithField("task", key).Trace(err)
		return nil
	}
	return err
}
