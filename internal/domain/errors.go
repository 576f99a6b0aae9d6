/**
 * @description
 * This file defines the typed failure values shared by the ledger client, the
 * orchestrator, and the API layer. Expected business outcomes (insufficient
 * balance, invalid token, ledger unreachable) travel as TransferError values so
 * callers can branch on the kind without inspecting transport internals; only
 * truly unexpected faults stay untyped and are downgraded to INTERNAL_ERROR at
 * the orchestrator boundary.
 */

package domain

import "errors"

// Failure kinds produced by this service. Business kinds returned by the ledger
// service (e.g. INSUFFICIENT_BALANCE) pass through verbatim and are not listed.
const (
	KindValidationError   = "VALIDATION_ERROR"
	KindUnauthorized      = "UNAUTHORIZED"
	KindLedgerUnavailable = "ACCOUNT_SERVICE_UNAVAILABLE"
	KindLedgerTimeout     = "ACCOUNT_SERVICE_TIMEOUT"
	KindLedgerError       = "ACCOUNT_SERVICE_ERROR"
	KindInternalError     = "INTERNAL_ERROR"
	KindCompensationError = "COMPENSATION_ERROR"
)

// TransferError is an expected, classified transfer failure. Message is safe to
// surface to the caller; Kind is the machine-readable classification.
type TransferError struct {
	Message string
	Kind    string
}

func (e *TransferError) Error() string {
	return e.Message
}

// NewTransferError builds a typed failure with the given message and kind.
func NewTransferError(message, kind string) *TransferError {
	return &TransferError{Message: message, Kind: kind}
}

// CompensationError signals that the corrective credit itself failed after
// exhausting its retries. The ledger may be left inconsistent: money debited
// from the origin with no destination credit and no successful reversal. It is
// kept distinct from TransferError so every layer above the orchestrator can
// tell it apart from ordinary business failures.
type CompensationError struct {
	Message string
}

func (e *CompensationError) Error() string {
	return e.Message
}

// NewCompensationError builds the critical reversal-failed error.
func NewCompensationError(message string) *CompensationError {
	return &CompensationError{Message: message}
}

// AsTransferError unwraps err into a *TransferError if it is one.
func AsTransferError(err error) (*TransferError, bool) {
	var te *TransferError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// AsCompensationError unwraps err into a *CompensationError if it is one.
func AsCompensationError(err error) (*CompensationError, bool) {
	var ce *CompensationError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
