package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"placequest-core/pkg/config"
	"placequest-core/pkg/db"
	"placequest-core/pkg/logger"
	"placequest-core/pkg/redis"
	"placequest-core/pkg/task"
	"placequest-core/pkg/taskname"
	"placequest-core/services/antispoof"
	"placequest-core/services/mission"
	"placequest-core/services/wallet"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		fx.Provide(provideSnowflakeNode),
		antispoof.Module,
		wallet.Module,
		wallet.TaskModule,
		mission.Module,
		mission.TaskModule,
		fx.Invoke(registerHandlers),
		task.Server,
		task.Scheduler,
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

func registerHandlers(mux *asynq.ServeMux, missions *mission.Task, wallets *wallet.Task) {
	mux.HandleFunc(taskname.MissionRunExpiry, missions.HandleExpireRunsTask)
	mux.HandleFunc(taskname.WalletReconcile, wallets.HandleReconcileTask)
}
