package eventledger

import (
	"github.com/clearhaven/dunlin/internal/eventledger/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("eventledger",
	fx.Provide(repository.Provide),
)
