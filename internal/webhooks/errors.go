package webhooks

import "errors"

// Registry and lookup errors are returned synchronously to callers. Delivery
// errors never reach Emit callers; they are recorded on the job instead.
var (
	ErrValidation    = errors.New("validation failed")
	ErrInvalidURL    = errors.New("invalid endpoint url")
	ErrNoEvents      = errors.New("at least one event type is required")
	ErrInvalidEvent  = errors.New("invalid event")
	ErrNotFound      = errors.New("not found")
	ErrStateConflict = errors.New("delivery state changed concurrently")

	// ErrTransientDelivery covers transport failures, timeouts, 5xx, 408, 425 and 429.
	ErrTransientDelivery = errors.New("transient delivery failure")
	// ErrPermanentDelivery covers other 4xx responses. They are retried like any
	// other failure but flagged separately for operators.
	ErrPermanentDelivery = errors.New("permanent delivery failure")

	ErrEndpointDeleted  = errors.New("endpoint deleted")
	ErrEndpointInactive = errors.New("endpoint inactive")
)
