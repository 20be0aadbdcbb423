package antispoof

import (
	"placequest-core/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("antispoof",
	fx.Provide(
		ProvideFixStore,
		ProvideChecker,
	),
)

type FixStoreParams struct {
	fx.In
	Redis  *redis.Client
	Config *config.Config
}

func ProvideFixStore(p FixStoreParams) FixStore {
	return NewRedisFixStore(p.Redis, p.Config.Antispoof.FixHistoryTTL)
}

type CheckerParams struct {
	fx.In
	Config  *config.Config
	History FixStore
}

func ProvideChecker(p CheckerParams) Checker {
	return NewPipeline(p.Config.Antispoof, p.History)
}
