package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/sarathsp06/courier/internal/jobs"
	"github.com/sarathsp06/courier/internal/logger"
	"github.com/sarathsp06/courier/internal/workers"
)

// Manager runs delivery maintenance as River periodic jobs. Unique insert
// options keep several processes sharing one database from sweeping the same
// period twice.
type Manager struct {
	client *river.Client[pgx.Tx]
}

// ManagerConfig schedules maintenance.
type ManagerConfig struct {
	ReapInterval  time.Duration
	PruneInterval time.Duration
	Lease         time.Duration
	Retention     time.Duration
}

// NewManager creates a River client on dbPool with the maintenance workers
// registered. The pool is owned by the caller.
func NewManager(dbPool *pgxpool.Pool, maintainer *workers.Maintainer, cfg ManagerConfig) (*Manager, error) {
	riverWorkers := river.NewWorkers()
	river.AddWorker(riverWorkers, workers.NewReapStaleWorker(maintainer))
	river.AddWorker(riverWorkers, workers.NewPruneHistoryWorker(maintainer))

	riverClient, err := river.NewClient(riverpgxv5.New(dbPool), &river.Config{
		Queues: map[string]river.QueueConfig{
			jobs.MaintenanceQueue: {MaxWorkers: 2},
		},
		Workers:      riverWorkers,
		PeriodicJobs: periodicJobs(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &Manager{client: riverClient}, nil
}

func periodicJobs(cfg ManagerConfig) []*river.PeriodicJob {
	reap := cfg.ReapInterval
	if reap <= 0 {
		reap = time.Minute
	}
	prune := cfg.PruneInterval
	if prune <= 0 {
		prune = time.Hour
	}

	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(reap),
			func() (river.JobArgs, *river.InsertOpts) {
				return jobs.ReapStaleArgs{Lease: cfg.Lease}, maintenanceOpts(reap)
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(prune),
			func() (river.JobArgs, *river.InsertOpts) {
				return jobs.PruneHistoryArgs{Retention: cfg.Retention}, maintenanceOpts(prune)
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}

func maintenanceOpts(period time.Duration) *river.InsertOpts {
	return &river.InsertOpts{
		Queue:       jobs.MaintenanceQueue,
		MaxAttempts: 3,
		UniqueOpts:  river.UniqueOpts{ByPeriod: period},
	}
}

// Start starts the queue processing
func (m *Manager) Start(ctx context.Context) error {
	log := logger.NewLogger("queue-manager")

	if err := m.client.Start(ctx); err != nil {
		log.Error("Failed to start River client", "error", err)
		return fmt.Errorf("failed to start River client: %w", err)
	}

	log.Info("River maintenance queue started successfully")
	return nil
}

// Stop waits for running maintenance jobs to finish
func (m *Manager) Stop(ctx context.Context) error {
	return m.client.Stop(ctx)
}
