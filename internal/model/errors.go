package model

import "errors"

// Discard reasons. Every one of these is non-fatal: the record is dropped,
// a diagnostic is emitted and processing continues.
var (
	// Input errors
	ErrUnparsableType  = errors.New("unparsable transaction type")
	ErrMalformedRecord = errors.New("malformed record")
	ErrMissingAmount   = errors.New("missing required amount")
	ErrInvalidAmount   = errors.New("amount must be positive")

	// Processing errors
	ErrDuplicateTransaction = errors.New("duplicate transaction id")
	ErrUnknownTransaction   = errors.New("unknown referenced transaction")
	ErrClientMismatch       = errors.New("client does not own referenced transaction")
	ErrInvalidDisputeGuard  = errors.New("transaction not in a valid state for this record")
	ErrInsufficientFunds    = errors.New("insufficient available funds")
	ErrAccountLocked        = errors.New("account is locked")
)

var reasons = []struct {
	err   error
	label string
}{
	{ErrUnparsableType, "unparsable_type"},
	{ErrMalformedRecord, "malformed_record"},
	{ErrMissingAmount, "missing_amount"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrDuplicateTransaction, "duplicate_transaction"},
	{ErrUnknownTransaction, "unknown_transaction"},
	{ErrClientMismatch, "client_mismatch"},
	{ErrInvalidDisputeGuard, "invalid_dispute_guard"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrAccountLocked, "account_locked"},
}

// ReasonInternal labels errors outside the taxonomy, such as storage failures.
const ReasonInternal = "internal"

// Reason maps an error to a short stable label for logs and metrics.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return ReasonInternal
}
