package repository

import (
	"fmt"

	"github.com/go-co-op/gocron/v2"

	"ddupbak/internal/chunkstore"
	"ddupbak/internal/repoerr"
)

// DeletionProgressFunc reports a chunk's fate during a scheduled clean,
// mirroring chunkstore.GCProgress (spec.md §6, deletion_progress callback).
type DeletionProgressFunc func(hash string, deleted bool)

// ScheduleClean registers a recurring job that runs Clean on cronExpr, for
// long-lived processes that embed the repository instead of invoking clean
// from a CLI cron job (spec.md §13, supplemental). cronExpr supports the
// optional leading seconds field, following the teacher's
// gocron.CronJob(expr, true) convention. The returned Stop func shuts the
// scheduler down and waits for any in-flight run to finish.
func (r *Repository) ScheduleClean(cronExpr string, cb DeletionProgressFunc) (stop func() error, err error) {
	if cronExpr == "" {
		return nil, repoerr.New(repoerr.InvalidArgument, "repository.ScheduleClean", nil)
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, repoerr.New(repoerr.Io, "repository.ScheduleClean", fmt.Errorf("create scheduler: %w", err))
	}

	task := func() {
		progress := func(res chunkstore.GCResult) {
			if cb != nil {
				cb(res.Hash.String(), res.Deleted)
			}
		}
		if _, err := r.Clean(progress); err != nil {
			r.logger.Error("scheduled clean failed", "error", err)
		}
	}

	if _, err := sched.NewJob(
		gocron.CronJob(cronExpr, true),
		gocron.NewTask(task),
	); err != nil {
		return nil, repoerr.New(repoerr.InvalidArgument, "repository.ScheduleClean", fmt.Errorf("register job: %w", err))
	}

	sched.Start()
	r.logger.Info("scheduled clean", "cron", cronExpr)

	return func() error {
		return sched.Shutdown()
	}, nil
}
