package accessrequests

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrDuplicatePending = errors.New("a pending request already exists for this requester, patient and data type")
	ErrNotFound         = errors.New("access request not found")
	ErrUnauthorized     = errors.New("principal is not allowed to perform this action")
	ErrAlreadyProcessed = errors.New("access request already processed")
	ErrExpired          = errors.New("access request expired")
	ErrInvalidState     = errors.New("transition not allowed from current status")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrAuditFailure     = errors.New("audit append failed, change rolled back")
)

// IsRetryable reports whether err is transient. Only ErrStoreUnavailable is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidInput, "invalid_input"},
	{ErrDuplicatePending, "duplicate_pending"},
	{ErrNotFound, "not_found"},
	{ErrUnauthorized, "unauthorized"},
	{ErrAlreadyProcessed, "already_processed"},
	{ErrExpired, "expired"},
	{ErrInvalidState, "invalid_state"},
	{ErrStoreUnavailable, "store_unavailable"},
	{ErrAuditFailure, "audit_failure"},
}

// Code is the machine-readable kind of err, or "internal".
func Code(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
