package main

import (
	"context"
	"log"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"placequest-core/pkg/config"
	"placequest-core/pkg/db"
	"placequest-core/pkg/logger"
	"placequest-core/services/mission"
	"placequest-core/services/wallet"
)

// Seeds a demo place and mission for local development.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Provide(provideSnowflakeNode),
		fx.Invoke(seed),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
	_ = app.Stop(ctx)
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func seed(lc fx.Lifecycle, gdb *gorm.DB, node *snowflake.Node) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := gdb.AutoMigrate(
				&mission.Place{},
				&mission.Mission{},
				&mission.MissionRun{},
				&wallet.Wallet{},
				&wallet.WalletTransaction{},
			); err != nil {
				return err
			}

			now := time.Now()
			place := &mission.Place{
				ID:        node.Generate().String(),
				Name:      "Kopi Tuku Senopati",
				Lat:       -6.2294,
				Lng:       106.8064,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := gdb.WithContext(ctx).Create(place).Error; err != nil {
				return err
			}

			m := &mission.Mission{
				ID:              node.Generate().String(),
				PlaceID:         place.ID,
				Title:           "Visit Kopi Tuku and post a reel",
				Status:          mission.MissionStatusActive,
				RewardAmount:    1000,
				MaxRunsPerUser:  1,
				GeofenceRadiusM: 100,
				RequireQR:       true,
				RequireReels:    true,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := gdb.WithContext(ctx).Create(m).Error; err != nil {
				return err
			}

			zap.L().Info("seeded demo mission",
				zap.String("place_id", place.ID),
				zap.String("mission_id", m.ID),
			)
			return nil
		},
	})
}
