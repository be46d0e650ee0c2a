package processor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// runTimeout bounds one scheduled run so a hung provider call cannot overlap
// the next tick.
const runTimeout = 4 * time.Minute

// Schedule registers the processor on a standard 5-field cron expression
// (minute, hour, dom, month, dow) and starts the scheduler. Stop the
// returned cron to halt scheduled runs.
func Schedule(p *Processor, expr string, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)))

	_, err := c.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if _, err := p.Run(ctx); err != nil {
			logger.Error("sync_scheduled_run_failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	return c, nil
}
