// Package bootstrap assembles the engine from its configuration. It is shared
// by the HTTP server and the refctl command.
package bootstrap

import (
	"referral_engine/internal/config"
	"referral_engine/internal/metrics"
	"referral_engine/internal/notify"
	"referral_engine/internal/repository"
	"referral_engine/internal/service"
	"referral_engine/internal/store"
	"referral_engine/internal/store/memory"
	"referral_engine/pkg/logger"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

type Runtime struct {
	Config   *config.Config
	Store    store.Store
	Service  *service.Service
	Registry *prometheus.Registry

	closers []func() error
}

func New(cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{Config: cfg}

	switch cfg.Storage.Driver {
	case config.StorageMemory:
		logger.Logger().Warn("Using in-memory storage, data is lost on restart")
		rt.Store = memory.New(nil)
	case config.StoragePostgres:
		repo, err := repository.New(cfg.Database)
		if err != nil {
			return nil, errors.Wrap(err, "initialize repository")
		}
		rt.Store = repo
		rt.closers = append(rt.closers, repo.Close)
	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	rt.Registry = prometheus.NewRegistry()
	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rt.Service = service.NewService(rt.Store, cfg.Service(), service.Options{
		Notifier: newNotifier(cfg),
		Metrics:  metrics.New(rt.Registry),
	})

	return rt, nil
}

func newNotifier(cfg *config.Config) notify.Notifier {
	if !cfg.Notifications.Enabled {
		return notify.Nop{}
	}
	if cfg.TelegramAuth.BotToken == "" {
		logger.Logger().Warn("Notifications enabled without a bot token, disabling")
		return notify.Nop{}
	}

	n, err := notify.NewTelegramNotifier(cfg.TelegramAuth.BotToken, cfg.TelegramAuth.Debug)
	if err != nil {
		logger.Logger().Warn("Failed to initialize telegram notifier, disabling", zap.Error(err))
		return notify.Nop{}
	}
	return n
}

func (r *Runtime) Close() error {
	var firstErr error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.closers = nil
	return firstErr
}
