package claims

import "errors"

// Admin and query errors
var (
	ErrAlreadyExists  = errors.New("scarce item already exists")
	ErrItemNotFound   = errors.New("scarce item not found")
	ErrClaimNotFound  = errors.New("claim not found")
	ErrInvalidItem    = errors.New("invalid scarce item")
	ErrResetForbidden = errors.New("reset is not allowed in production")
)

// Outcome is the result kind of one redemption attempt
type Outcome string

// Redemption outcomes
const (
	OutcomeSuccess          Outcome = "success"
	OutcomeAlreadyClaimed   Outcome = "already_claimed"
	OutcomeSoldOut          Outcome = "sold_out"
	OutcomeNotAvailable     Outcome = "not_available"
	OutcomeUnknownItem      Outcome = "unknown_item"
	OutcomeMalformedPayload Outcome = "malformed_payload"
	OutcomePayloadExpired   Outcome = "payload_expired"
	OutcomeTransientError   Outcome = "transient_error"
)

// Retryable reports whether the caller may resubmit the same attempt
func (o Outcome) Retryable() bool {
	return o == OutcomeTransientError
}

// InputError reports whether the outcome rejects the scan itself
func (o Outcome) InputError() bool {
	switch o {
	case OutcomeMalformedPayload, OutcomeUnknownItem, OutcomePayloadExpired:
		return true
	}
	return false
}
