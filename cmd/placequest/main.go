package main

import (
	"context"
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"placequest-core/internal/httpapi"
	"placequest-core/pkg/config"
	"placequest-core/pkg/db"
	"placequest-core/pkg/health"
	"placequest-core/pkg/logger"
	"placequest-core/pkg/profiling"
	"placequest-core/pkg/redis"
	"placequest-core/pkg/server"
	"placequest-core/pkg/task"
	"placequest-core/services/antispoof"
	"placequest-core/services/mission"
	"placequest-core/services/wallet"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		task.Client,
		fx.Provide(provideSnowflakeNode),
		antispoof.Module,
		wallet.Module,
		mission.Module,
		health.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
		fx.Invoke(migrate),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func migrate(lc fx.Lifecycle, db *gorm.DB) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return db.AutoMigrate(
				&mission.Place{},
				&mission.Mission{},
				&mission.MissionRun{},
				&wallet.Wallet{},
				&wallet.WalletTransaction{},
			)
		},
	})
}
