package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/soch-community/sochbot/src/logging"
)

/*
Long-running parts of the bot (the gateway connection, the ledger sweep, the
health server) each run as a Job. A Job bundles a cancelable context with a
"finished" signal so that shutdown can cancel everything and then wait, with
a deadline, for the work to actually stop.
*/

type Job struct {
	Name   string
	Ctx    context.Context
	Logger zerolog.Logger
	cancel func()
	done   chan struct{}
}

func New(name string) *Job {
	logger := logging.With().Str("job", name).Logger()
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logging.AttachLoggerToContext(&logger, ctx)
	return &Job{
		Name:   name,
		Ctx:    ctx,
		Logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Runs fn in a new goroutine under a fresh Job. The Job finishes when fn
// returns, even if it panics.
func Run(name string, fn func(ctx context.Context)) *Job {
	job := New(name)
	go func() {
		defer job.Finish()
		defer logging.LogPanics(&job.Logger)
		fn(job.Ctx)
	}()
	return job
}

// A job that is already finished, for components that are switched off by
// configuration.
func Noop() *Job {
	return New("noop").Finish()
}

// Cancels the Job's context. Called from outside the job, e.g. on shutdown.
func (j *Job) Cancel() {
	j.cancel()
}

func (j *Job) Canceled() <-chan struct{} {
	return j.Ctx.Done()
}

// Marks the Job as finished. Called by the job itself.
func (j *Job) Finish() *Job {
	close(j.done)
	return j
}

func (j *Job) Finished() <-chan struct{} {
	return j.done
}

type Jobs []*Job

// Cancels all jobs and waits for them to finish, up to timeout. Returns the
// names of the jobs that did not finish in time.
func (jobs Jobs) CancelAndWait(timeout time.Duration) []string {
	allDoneChan := make(chan struct{})
	for _, job := range jobs {
		job.Cancel()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	go func() {
		for _, job := range jobs {
			<-job.Finished()
		}
		close(allDoneChan)
	}()

	select {
	case <-timer.C:
		return jobs.ListUnfinished()
	case <-allDoneChan:
		return nil
	}
}

func (jobs Jobs) ListUnfinished() []string {
	unfinished := []string{}
	for _, job := range jobs {
		select {
		case <-job.Finished():
			continue
		default:
			unfinished = append(unfinished, job.Name)
		}
	}
	return unfinished
}
