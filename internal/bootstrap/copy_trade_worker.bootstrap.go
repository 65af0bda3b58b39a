package bootstrap

import (
	"context"

	"github.com/romnatson3/copy-trade/internal/config"
	"github.com/romnatson3/copy-trade/internal/entity"
	"github.com/romnatson3/copy-trade/internal/infrastructure"
	"github.com/romnatson3/copy-trade/internal/repository"
	"github.com/romnatson3/copy-trade/internal/service/lock"
	"github.com/romnatson3/copy-trade/internal/service/replication"
	"github.com/romnatson3/copy-trade/internal/service/signal"
	"github.com/romnatson3/copy-trade/internal/util"
	"github.com/spf13/cobra"
)

// StartCopyTradeWorker consumes the queues: replication events fan out master
// activity to the followers, position events drive protective orders and
// signal-triggered opens on the master.
func StartCopyTradeWorker(cmd *cobra.Command, args []string) {
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
	copyTradeOrderRepo := repository.NewCopyTradeOrderRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	mainSettingsRepo := repository.NewMainSettingsRepository(db)

	lockStore := lock.NewRedisStore(redisClient)
	cache := lock.NewCache(lockStore)

	replicationService := replication.NewReplicationService(
		config.Env.Binance,
		js,
		accountRepo,
		symbolRepo,
		mainSettingsRepo,
		copyTradeOrderRepo,
	)

	signalService := signal.NewService(
		config.Env.Binance,
		js,
		lockStore,
		cache,
		positionRepo,
		positionSettingsRepo,
		orderRepo,
		symbolRepo,
		mainSettingsRepo,
		accountRepo,
	)

	subscribers := []entity.Subscriber{replicationService, signalService}
	for _, v := range subscribers {
		err = v.JetstreamEventSubscribe(ctx)
		util.ContinueOrFatal(err)
	}

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
