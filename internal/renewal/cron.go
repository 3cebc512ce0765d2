package renewal

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/creditgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("renewal",
	fx.Provide(New),
	fx.Invoke(Schedule),
)

// Schedule registers the worker on a cron schedule tied to the app lifecycle.
func Schedule(lc fx.Lifecycle, cfg config.Config, w *Worker, log *zap.Logger) error {
	if !cfg.Renewal.Enabled {
		log.Info("renewal worker disabled")
		return nil
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{log: log.Named("renewal.cron")}),
		cron.SkipIfStillRunning(cronLogger{log: log.Named("renewal.cron")}),
	))
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := c.AddFunc(cfg.Renewal.Schedule, func() { w.Tick(ctx) }); err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c.Start()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-c.Stop().Done():
			case <-stopCtx.Done():
			}
			return nil
		},
	})
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().With(zap.Error(err)).Errorw(msg, keysAndValues...)
}
