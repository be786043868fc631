package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/flowgate/pkg/config"
	"github.com/platinummonkey/flowgate/pkg/observability"
)

const jobTimeout = 10 * time.Minute

type compactor interface {
	Compact(ctx context.Context) (int, error)
}

type eventPurger interface {
	PurgeEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

type reportExporter interface {
	ExportAll(ctx context.Context) (int, error)
}

// jobs holds the targets of the background jobs. A nil target disables its job.
type jobs struct {
	logger   *observability.Logger
	limiter  compactor
	usage    eventPurger
	exporter reportExporter
	now      func() time.Time
}

// scheduleJobs adds every job with a schedule and a target to c
func scheduleJobs(ctx context.Context, c *cron.Cron, cfg config.JobsConfig, j jobs) []cron.EntryID {
	if j.now == nil {
		j.now = time.Now
	}

	var ids []cron.EntryID
	add := func(name, schedule string, enabled bool, fn func(ctx context.Context) error) {
		if schedule == "" || !enabled {
			j.logger.Infof("Job %s disabled", name)
			return
		}
		id, err := c.AddFunc(schedule, func() {
			defer observability.RecoverPanic(j.logger, name)
			jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
			defer cancel()
			if err := fn(jobCtx); err != nil {
				j.logger.WithError(err).WithField("job", name).Error("Job failed")
			}
		})
		if err != nil {
			j.logger.WithError(err).WithField("job", name).Error("Invalid job schedule")
			return
		}
		ids = append(ids, id)
	}

	// Memory and Redis both drop idle rate limit windows
	add("rate limit compaction", cfg.CompactSchedule, j.limiter != nil, func(ctx context.Context) error {
		removed, err := j.limiter.Compact(ctx)
		if err == nil && removed > 0 {
			j.logger.WithField("removed", removed).Debug("Compacted rate limit windows")
		}
		return err
	})

	add("usage report export", cfg.ReportSchedule, j.exporter != nil, func(ctx context.Context) error {
		written, err := j.exporter.ExportAll(ctx)
		j.logger.WithField("reports", written).Info("Usage reports exported")
		return err
	})

	add("usage event purge", cfg.PurgeSchedule, j.usage != nil && cfg.UsageEventRetention > 0, func(ctx context.Context) error {
		purged, err := j.usage.PurgeEvents(ctx, j.now().Add(-cfg.UsageEventRetention))
		if err == nil {
			j.logger.WithField("purged", purged).Info("Purged usage events")
		}
		return err
	})

	return ids
}
