package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/romnatson3/copy-trade/internal/config"
	httpHandler "github.com/romnatson3/copy-trade/internal/handler/webhook/http"
	"github.com/romnatson3/copy-trade/internal/infrastructure"
	"github.com/romnatson3/copy-trade/internal/repository"
	"github.com/romnatson3/copy-trade/internal/service/lock"
	"github.com/romnatson3/copy-trade/internal/service/signal"
	"github.com/romnatson3/copy-trade/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// StartWebhookGateway serves the signal webhook and the manual trading API.
func StartWebhookGateway(cmd *cobra.Command, args []string) {
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

	err = signalService.JetstreamEventInit(ctx)
	util.ContinueOrFatal(err)

	webhookHTTPHandler := httpHandler.NewWebhookHTTPHandler(signalService)
	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	webhookHTTPHandler.Register(httpMux)

	httpServer := infrastructure.NewHTTPServer(httpMux)

	go func() {
		err := httpServer.Start()
		if err != nil {
			logrus.Error(err)
		}
	}()
	logrus.Info(fmt.Sprintf("http server started on %s", config.Env.Port["http"]))

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"database": func(ctx context.Context) error {
			cancel()
			return db.Close()
		},
		"http": func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
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
