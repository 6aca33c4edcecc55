package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"activations-controlplane/pkg/celengine"
	"activations-controlplane/pkg/config"
	"activations-controlplane/pkg/db"
	"activations-controlplane/pkg/featureflags"
	"activations-controlplane/pkg/gen"
	"activations-controlplane/pkg/hashistack/secretmanager"
	"activations-controlplane/pkg/logger"
	"activations-controlplane/pkg/otelcol"
	"activations-controlplane/pkg/profiling"
	"activations-controlplane/pkg/redis"
	"activations-controlplane/pkg/sequence"
	pkgtask "activations-controlplane/pkg/task"
	"activations-controlplane/services/activation"
	"activations-controlplane/services/metrics"
	"activations-controlplane/services/partnersync"
	"activations-controlplane/services/pricing"
	"activations-controlplane/services/settlement"
	"activations-controlplane/services/task"
	"activations-controlplane/services/wallet"
)

// The worker drains the partner outbox, rescrapes live activations and
// reconciles half-finished settlements. Schema migration is owned by the API.
func main() {
	var opts []fx.Option
	if secretmanager.Enabled() {
		opts = append(opts, secretmanager.Module)
	}

	opts = append(opts,
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
		pkgtask.Server,
		pkgtask.Scheduler,
		task.Module,
		task.WorkerModule,
		fxLogger,
	)

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
