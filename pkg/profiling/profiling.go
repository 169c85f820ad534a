// Package profiling ships continuous profiles to a Pyroscope server.
package profiling

import (
	"context"
	"runtime"

	"promohive/pkg/config"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module starts the profiler when PROFILING.ADDR is set.
var Module = fx.Module("profiling", fx.Invoke(Start))

func Enabled(cfg *config.Config) bool {
	return cfg.Profiling.Addr != ""
}

// NewConfig profiles CPU, heap and goroutines always, and lock contention when
// PROFILING.CONTENTION is set. Contention profiles matter for the row-lock
// heavy review and withdrawal paths.
func NewConfig(cfg *config.Config) pyroscope.Config {
	types := []pyroscope.ProfileType{
		pyroscope.ProfileCPU,
		pyroscope.ProfileAllocObjects,
		pyroscope.ProfileAllocSpace,
		pyroscope.ProfileInuseObjects,
		pyroscope.ProfileInuseSpace,
		pyroscope.ProfileGoroutines,
	}
	if cfg.Profiling.Contention {
		types = append(types,
			pyroscope.ProfileMutexCount,
			pyroscope.ProfileMutexDuration,
			pyroscope.ProfileBlockCount,
			pyroscope.ProfileBlockDuration,
		)
	}

	return pyroscope.Config{
		ApplicationName: cfg.AppName,
		ServerAddress:   cfg.Profiling.Addr,
		ProfileTypes:    types,
		Tags: map[string]string{
			"service_name": cfg.AppName,
			"env":          cfg.AppEnv,
			"version":      cfg.AppVersion,
		},
	}
}

func Start(lc fx.Lifecycle, cfg *config.Config) error {
	if !Enabled(cfg) {
		return nil
	}
	if cfg.Profiling.Contention {
		runtime.SetMutexProfileFraction(5)
		runtime.SetBlockProfileRate(5)
	}

	profiler, err := pyroscope.Start(NewConfig(cfg))
	if err != nil {
		zap.L().Error("[Pyroscope] failed to start profiler", zap.Error(err))
		return err
	}
	zap.L().Info("[Pyroscope] profiling enabled", zap.String("addr", cfg.Profiling.Addr))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return profiler.Stop()
		},
	})
	return nil
}
