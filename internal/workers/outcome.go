package workers

import (
	"time"

	"github.com/sarathsp06/courier/internal/retry"
	"github.com/sarathsp06/courier/internal/webhooks"
)

// Reasons recorded on jobs that end without an HTTP attempt.
var (
	reasonEndpointDeleted  = webhooks.ErrEndpointDeleted.Error()
	reasonEndpointInactive = webhooks.ErrEndpointInactive.Error()
	reasonLeaseExpired     = "delivery lease expired"
	reasonEventMissing     = "event not found"
)

// markDelivered records a 2xx response.
func markDelivered(job *webhooks.DeliveryJob, status int, now time.Time) {
	done := now
	job.Attempt++
	job.State = webhooks.StateDelivered
	job.LastHTTPStatus = status
	job.LastError = ""
	job.NextRetryAt = nil
	job.CompletedAt = &done
	job.UpdatedAt = now
}

// markFailed records a failed attempt and either schedules the next one or
// dead-letters the job once policy.MaxRetries attempts have been made. It
// reports whether the job was dead-lettered.
func markFailed(job *webhooks.DeliveryJob, policy retry.Policy, status int, reason string, now time.Time) bool {
	job.Attempt++
	job.LastHTTPStatus = status
	job.LastError = reason
	job.UpdatedAt = now

	if retry.Exhausted(job.Attempt, policy) {
		done := now
		job.State = webhooks.StateDeadLetter
		job.NextRetryAt = nil
		job.CompletedAt = &done
		return true
	}

	next := retry.NextRetryAt(now, job.Attempt, policy)
	job.State = webhooks.StateRetryScheduled
	job.NextRetryAt = &next
	job.CompletedAt = nil
	return false
}

// markSkipped dead-letters a job without counting an attempt.
func markSkipped(job *webhooks.DeliveryJob, reason string, now time.Time) {
	done := now
	job.State = webhooks.StateDeadLetter
	job.LastError = reason
	job.NextRetryAt = nil
	job.CompletedAt = &done
	job.UpdatedAt = now
}

// markParked puts a job back to sleep for a full max backoff without counting
// an attempt.
func markParked(job *webhooks.DeliveryJob, policy retry.Policy, reason string, now time.Time) {
	next := now.Add(policy.MaxBackoff)
	job.State = webhooks.StateRetryScheduled
	job.LastError = reason
	job.NextRetryAt = &next
	job.UpdatedAt = now
}
