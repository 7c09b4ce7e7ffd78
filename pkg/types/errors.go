package types

import "errors"

// Error taxonomy shared across components. Validation errors are returned
// synchronously to the originating session only; persistence errors are
// logged and swallowed, never surfaced to the acting client.
var (
	ErrAuth               = errors.New("invalid or expired credential")
	ErrCapacity           = errors.New("room is at capacity")
	ErrNotFound           = errors.New("entity not found")
	ErrUnauthorizedAction = errors.New("action not permitted for this user")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrInvalidPayload     = errors.New("invalid event payload")
)

// Error codes as they appear in the wire "error" event.
const (
	CodeAuthError          = "auth_error"
	CodeCapacityError      = "capacity_error"
	CodeNotFound           = "not_found"
	CodeUnauthorizedAction = "unauthorized_action"
	CodeRateLimited        = "rate_limited"
	CodeInvalidPayload     = "invalid_payload"
	CodeInternal           = "internal_error"
)

// ErrorCode maps an error to its wire code. Unrecognized errors are
// reported as internal without leaking detail.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return CodeAuthError
	case errors.Is(err, ErrCapacity):
		return CodeCapacityError
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrUnauthorizedAction):
		return CodeUnauthorizedAction
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrInvalidPayload):
		return CodeInvalidPayload
	default:
		return CodeInternal
	}
}
