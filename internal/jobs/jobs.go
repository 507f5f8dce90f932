// Package jobs defines the River job arguments for delivery maintenance.
package jobs

import "time"

// MaintenanceQueue is the River queue maintenance jobs run on.
const MaintenanceQueue = "maintenance"

// ReapStaleArgs recovers deliveries left in flight past their lease
type ReapStaleArgs struct {
	// Lease is recorded for visibility; the worker uses its own configured lease.
	Lease time.Duration `json:"lease,omitempty"`
}

// Kind returns the job kind for River queue
func (ReapStaleArgs) Kind() string { return "delivery_reap_stale" }

// PruneHistoryArgs deletes terminal deliveries past the retention window
type PruneHistoryArgs struct {
	Retention time.Duration `json:"retention,omitempty"`
}

// Kind returns the job kind for River queue
func (PruneHistoryArgs) Kind() string { return "delivery_prune_history" }
