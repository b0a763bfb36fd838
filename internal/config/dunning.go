package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DunningPolicy controls the payment-failure escalation timeline.
type DunningPolicy struct {
	GracePeriod          time.Duration `mapstructure:"gracePeriod"`
	NotificationCooldown time.Duration `mapstructure:"notificationCooldown"`
}

func DefaultDunningPolicy() DunningPolicy {
	return DunningPolicy{
		GracePeriod:          72 * time.Hour,
		NotificationCooldown: 24 * time.Hour,
	}
}

// DunningPolicyHolder serves the current policy and hot-reloads it when the
// config file changes on disk.
type DunningPolicyHolder struct {
	current atomic.Value // holds DunningPolicy
}

func NewDunningPolicyHolder(log *zap.Logger) (*DunningPolicyHolder, error) {
	log = log.Named("config.dunning")

	v := viper.New()

	v.SetConfigName("dunning")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/dunlin/config")
	v.AddConfigPath("/etc/dunlin")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DUNLIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultDunningPolicy()
	v.SetDefault("dunning.gracePeriod", defaults.GracePeriod)
	v.SetDefault("dunning.notificationCooldown", defaults.NotificationCooldown)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var policy DunningPolicy
	if err := v.UnmarshalKey("dunning", &policy); err != nil {
		return nil, err
	}
	if err := validateDunningPolicy(policy); err != nil {
		return nil, err
	}

	holder := &DunningPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated DunningPolicy
		if err := v.UnmarshalKey("dunning", &updated); err != nil {
			log.Error("dunning policy reload failed", zap.Error(err))
			return
		}
		if err := validateDunningPolicy(updated); err != nil {
			log.Warn("invalid dunning policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("dunning policy reloaded",
			zap.String("file", e.Name),
			zap.Duration("grace_period", updated.GracePeriod),
			zap.Duration("notification_cooldown", updated.NotificationCooldown),
		)
	})

	return holder, nil
}

func (h *DunningPolicyHolder) Get() DunningPolicy {
	return h.current.Load().(DunningPolicy)
}

func validateDunningPolicy(policy DunningPolicy) error {
	if policy.GracePeriod <= 0 {
		return errors.New("dunning.gracePeriod must be positive")
	}
	if policy.NotificationCooldown <= 0 {
		return errors.New("dunning.notificationCooldown must be positive")
	}
	if policy.NotificationCooldown > policy.GracePeriod {
		return errors.New("dunning.notificationCooldown cannot exceed gracePeriod")
	}
	return nil
}
