package forum

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/soch-community/sochbot/src/jobs"
	"github.com/soch-community/sochbot/src/logging"
	"github.com/soch-community/sochbot/src/utils"
)

/*
Runs Sweep on a cron schedule until the job is canceled. A sweep that is
still running when the next one is due is skipped rather than stacked. An
empty schedule disables sweeping.
*/
func RunSweeper(engine *Engine, schedule string) (*jobs.Job, error) {
	if schedule == "" {
		return jobs.Noop(), nil
	}

	job := jobs.New("ledger sweep")
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(schedule, func() {
		sweepOnce(job.Ctx, engine)
	})
	if err != nil {
		return nil, err
	}

	go func() {
		defer job.Finish()

		job.Logger.Info().Str("schedule", schedule).Msg("Scheduled ledger sweep")
		c.Start()
		<-job.Canceled()

		// Wait for a sweep in progress.
		<-c.Stop().Done()
	}()
	return job, nil
}

func sweepOnce(ctx context.Context, engine *Engine) {
	err := func() (err error) {
		defer utils.RecoverPanicAsError(&err)

		res, err := engine.Sweep(ctx)
		if err != nil {
			return err
		}
		logger := logging.ExtractLogger(ctx)
		if res.Pruned > 0 {
			logger.Info().Int64("num pruned", res.Pruned).Msg("Pruned orphaned bump ledger entries")
		}
		logger.Debug().Int64("active bans", res.ActiveBans).Msg("Swept bump ledger")
		return nil
	}()
	if err != nil {
		logging.ExtractLogger(ctx).Error().Err(err).Msg("Failed to sweep bump ledger")
	}
}
