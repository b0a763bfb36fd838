package subscription

import (
	"github.com/clearhaven/dunlin/internal/subscription/repository"
	"github.com/clearhaven/dunlin/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription",
	fx.Provide(repository.Provide),
	fx.Provide(repository.ProvideSystem),
	fx.Provide(service.NewService),
)
