package gateway

import (
	"github.com/clearhaven/dunlin/internal/config"
	"github.com/clearhaven/dunlin/internal/gateway/domain"
	"github.com/clearhaven/dunlin/internal/gateway/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func Provide(cfg config.Config, log *zap.Logger) domain.Gateway {
	if !cfg.GatewayConfigured() {
		log.Warn("payment gateway credentials missing, running with disabled gateway")
		return NewDisabled()
	}
	return stripe.NewClient(cfg, log)
}

var Module = fx.Module("gateway",
	fx.Provide(Provide),
)
