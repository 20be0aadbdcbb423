package mission

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("mission.service",
	fx.Provide(
		ProvideTokenStore,
		NewService,
	),
)

type TokenStoreParams struct {
	fx.In
	Redis *redis.Client
}

func ProvideTokenStore(p TokenStoreParams) TokenStore {
	return NewRedisTokenStore(p.Redis)
}
