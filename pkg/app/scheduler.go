package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mosajjal/authhec/pkg/collector"
	"github.com/mosajjal/authhec/pkg/config"
)

// Runner runs one collection cycle
type Runner interface {
	RunCollectionCycle(ctx context.Context, raw config.RawConfig) collector.CollectionResult
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// NewScheduler returns a cron that recovers panicking jobs and skips a trigger while the
// previous run of the same job is still going
func NewScheduler(logger *zap.Logger) *cron.Cron {
	cl := cronLogger{sugar: logger.Named("cron").Sugar()}
	return cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
}

// Schedule adds one "@every <polling interval>" job per enabled, valid integration and
// returns how many were scheduled. Invalid and disabled integrations are logged and left out.
func Schedule(ctx context.Context, c *cron.Cron, runner Runner, raws []config.RawConfig, logger *zap.Logger) (int, error) {
	scheduled := 0
	for _, raw := range raws {
		cfg, err := config.Validate(raw)
		if err != nil {
			logger.Error("integration not scheduled, invalid configuration",
				zap.String("integration", raw.Name),
				zap.Error(err),
			)
			continue
		}
		if !cfg.Enabled {
			logger.Info("integration disabled, not scheduled", zap.String("integration", cfg.Name))
			continue
		}

		spec := fmt.Sprintf("@every %s", cfg.PollingInterval)
		if _, err := c.AddFunc(spec, func() {
			runner.RunCollectionCycle(ctx, raw)
		}); err != nil {
			return scheduled, fmt.Errorf("failed to schedule %s: %w", cfg.Name, err)
		}
		scheduled++
		logger.Info("integration scheduled",
			zap.String("integration", cfg.Name),
			zap.Duration("interval", cfg.PollingInterval),
		)
	}
	return scheduled, nil
}
