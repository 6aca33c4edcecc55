package profiling

import (
	"context"
	"fmt"
	"strconv"

	"activations-controlplane/pkg/config"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("profiling", fx.Invoke(ProvideProfiling))

var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
}

// ProvideProfiling streams continuous profiles to PYROSCOPE.ADDR. Each
// replica is tagged with its snowflake node id so hot spots can be traced to
// one process.
func ProvideProfiling(lc fx.Lifecycle, c *config.Config) error {
	if c.Pyroscope.Addr == "" {
		zap.L().Info("pyroscope disabled, no address configured")
		return nil
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: c.AppName,
		ServerAddress:   c.Pyroscope.Addr,
		UploadRate:      c.Pyroscope.UploadRate,
		ProfileTypes:    profileTypes,
		Tags: map[string]string{
			"service_name": c.AppName,
			"env":          c.AppEnv,
			"version":      c.AppVersion,
			"node_id":      strconv.FormatInt(c.NodeID, 10),
		},
	})
	if err != nil {
		zap.L().Error("failed to start pyroscope", zap.String("pyroscope_addr", c.Pyroscope.Addr), zap.Error(err))
		return fmt.Errorf("start pyroscope: %w", err)
	}
	zap.L().Info("pyroscope started", zap.String("app_name", c.AppName), zap.String("pyroscope_addr", c.Pyroscope.Addr))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return profiler.Stop()
		},
	})
	return nil
}
