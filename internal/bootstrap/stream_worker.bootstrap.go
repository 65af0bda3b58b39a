package bootstrap

import (
	"context"
	"errors"

	"github.com/romnatson3/copy-trade/internal/config"
	"github.com/romnatson3/copy-trade/internal/constant"
	"github.com/romnatson3/copy-trade/internal/entity"
	"github.com/romnatson3/copy-trade/internal/infrastructure"
	"github.com/romnatson3/copy-trade/internal/repository"
	"github.com/romnatson3/copy-trade/internal/service/binance"
	"github.com/romnatson3/copy-trade/internal/service/lock"
	"github.com/romnatson3/copy-trade/internal/service/reconciler"
	"github.com/romnatson3/copy-trade/internal/service/replication"
	"github.com/romnatson3/copy-trade/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// StartStreamWorker runs the websocket sessions: the shared mark-price stream
// and the master-account user-data stream. A supervisor tick keeps both alive
// and rebuilds the user-data session when the stored credentials change.
func StartStreamWorker(cmd *cobra.Command, args []string) {
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

	replicationService := replication.NewReplicationService(
		config.Env.Binance,
		js,
		accountRepo,
		symbolRepo,
		mainSettingsRepo,
		copyTradeOrderRepo,
	)

	publishers := []entity.Publisher{replicationService}
	for _, v := range publishers {
		err = v.JetstreamEventInit(ctx)
		util.ContinueOrFatal(err)
	}

	dispatcher := reconciler.NewDispatcher(reconcilerService, replicationService)
	registry := binance.NewRegistry()

	supervisor := &streamSupervisor{
		registry:   registry,
		dispatcher: dispatcher,
		sync:       syncService,
		lockStore:  lockStore,
	}

	runEvery(ctx, "stream supervisor", config.Env.Scheduler.StreamSupervisorInterval, supervisor.tick)

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"database": func(ctx context.Context) error {
			cancel()
			return db.Close()
		},
		"stream sessions": func(ctx context.Context) error {
			supervisor.stop()
			return nil
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

type streamSupervisor struct {
	registry   *binance.Registry
	dispatcher *reconciler.Dispatcher
	sync       *reconciler.SyncService
	lockStore  lock.Store

	// credentials of the running user-data session; a mismatch against the
	// stored master row forces a rebuild
	userStreamAPIKey string
}

func (s *streamSupervisor) tick(ctx context.Context) error {
	ttl := config.Env.Scheduler.StreamSupervisorInterval

	err := lock.WithLock(ctx, s.lockStore, constant.LockKeyMarketPriceStream, ttl, lock.Options{}, func(ctx context.Context) error {
		return s.ensureMarketStream(ctx)
	})
	if err != nil && !errors.Is(err, lock.ErrAlreadyLocked) {
		logrus.WithError(err).Error("market stream supervision failed")
	}

	err = lock.WithLock(ctx, s.lockStore, constant.LockKeyUserDataStream, ttl, lock.Options{}, func(ctx context.Context) error {
		return s.ensureUserDataStream(ctx)
	})
	if err != nil && !errors.Is(err, lock.ErrAlreadyLocked) {
		logrus.WithError(err).Error("user data stream supervision failed")
	}

	return nil
}

func (s *streamSupervisor) ensureMarketStream(ctx context.Context) error {
	_, master, err := s.sync.MasterClient(ctx)
	if err != nil {
		return err
	}

	session := s.registry.GetOrCreate(binance.MarketStreamID, func() *binance.Session {
		created := binance.NewMarketSession(wsBaseURL(master.Testnet))
		created.AddHandler(s.dispatcher.HandleMarketFrame)
		return created
	})

	if !session.IsAlive() {
		session.Kill()
		session.Start()
	}
	return nil
}

func (s *streamSupervisor) ensureUserDataStream(ctx context.Context) error {
	client, master, err := s.sync.MasterClient(ctx)
	if err != nil {
		return err
	}

	if s.userStreamAPIKey != "" && s.userStreamAPIKey != master.APIKey {
		logrus.Warn("master credentials changed, restarting user data stream")
		if existing := s.registry.Get(master.ID); existing != nil {
			existing.Kill()
		}
		s.registry.Remove(master.ID)
	}

	session := s.registry.GetOrCreate(master.ID, func() *binance.Session {
		created := binance.NewUserDataSession(client, wsBaseURL(master.Testnet), master.ID)
		created.AddHandler(s.dispatcher.HandleUserDataFrame)
		return created
	})
	s.userStreamAPIKey = master.APIKey

	if !session.IsAlive() {
		session.Kill()
		session.Start()
	}
	return nil
}

func (s *streamSupervisor) stop() {
	for _, session := range s.registry.All() {
		session.Stop()
	}
}

func wsBaseURL(testnet bool) string {
	if testnet {
		return config.Env.Binance.WSTestnetBaseURL
	}
	return config.Env.Binance.WSBaseURL
}
