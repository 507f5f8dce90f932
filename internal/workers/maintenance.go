package workers

import (
	"context"

	"github.com/riverqueue/river"

	"github.com/sarathsp06/courier/internal/jobs"
)

// ReapStaleWorker runs Maintainer.ReapStale as a River job.
type ReapStaleWorker struct {
	river.WorkerDefaults[jobs.ReapStaleArgs]
	maintainer *Maintainer
}

func NewReapStaleWorker(m *Maintainer) *ReapStaleWorker {
	return &ReapStaleWorker{maintainer: m}
}

// Work processes the stale-job sweep
func (w *ReapStaleWorker) Work(ctx context.Context, job *river.Job[jobs.ReapStaleArgs]) error {
	n, err := w.maintainer.ReapStale(ctx)
	if err != nil {
		return err
	}
	w.maintainer.logger.Debug("Stale job sweep finished", "job_id", job.ID, "recovered", n)
	return nil
}

// PruneHistoryWorker runs Maintainer.PruneHistory as a River job.
type PruneHistoryWorker struct {
	river.WorkerDefaults[jobs.PruneHistoryArgs]
	maintainer *Maintainer
}

func NewPruneHistoryWorker(m *Maintainer) *PruneHistoryWorker {
	return &PruneHistoryWorker{maintainer: m}
}

// Work processes the history prune
func (w *PruneHistoryWorker) Work(ctx context.Context, job *river.Job[jobs.PruneHistoryArgs]) error {
	n, err := w.maintainer.PruneHistory(ctx)
	if err != nil {
		return err
	}
	w.maintainer.logger.Debug("History prune finished", "job_id", job.ID, "pruned", n)
	return nil
}
