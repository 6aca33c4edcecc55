package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"activations-controlplane/pkg/celengine"
	"activations-controlplane/pkg/config"
	"activations-controlplane/pkg/db"
	"activations-controlplane/pkg/featureflags"
	"activations-controlplane/pkg/gen"
	"activations-controlplane/pkg/hashistack/secretmanager"
	"activations-controlplane/pkg/hashistack/servicediscover"
	"activations-controlplane/pkg/health"
	"activations-controlplane/pkg/httpapi"
	"activations-controlplane/pkg/logger"
	"activations-controlplane/pkg/otelcol"
	"activations-controlplane/pkg/profiling"
	"activations-controlplane/pkg/redis"
	"activations-controlplane/pkg/sequence"
	"activations-controlplane/pkg/server"
	pkgtask "activations-controlplane/pkg/task"
	"activations-controlplane/services/activation"
	handler "activations-controlplane/services/httpapi"
	"activations-controlplane/services/metrics"
	"activations-controlplane/services/partnersync"
	"activations-controlplane/services/pricing"
	"activations-controlplane/services/settlement"
	"activations-controlplane/services/task"
	"activations-controlplane/services/wallet"
)

func main() {
	app := fx.New(
		secrets(),
		config.Source(),
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		featureflags.Module,
		celengine.Module,
		otelcol.Module,
		profiling.Module,

		pricing.Module,
		activation.Module,
		wallet.Module,
		partnersync.Module,
		settlement.Module,
		metrics.Module,
		pkgtask.Client,
		task.Module,

		health.Module,
		httpapi.Module,
		handler.Module,
		server.ProvideHTTPServer,
		servicediscover.Module,

		fx.Invoke(migrate),
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func secrets() fx.Option {
	if !secretmanager.Enabled() {
		return fx.Options()
	}
	return secretmanager.Module
}

func migrate(cfg *config.Config, conn *gorm.DB) error {
	var models []any
	models = append(models, activation.Models()...)
	models = append(models, wallet.Models()...)
	models = append(models, settlement.Models()...)
	models = append(models, partnersync.Models()...)
	models = append(models, task.Models()...)
	return db.Migrate(cfg, conn, models...)
}
