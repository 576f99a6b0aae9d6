/**
 * @description
 * This file defines the core domain models for the transfer-service.
 * These structs represent the durable transfer record and the ephemeral
 * transfer intent used throughout the service's business logic, database
 * interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (centavos), which avoids floating-point inaccuracies with financial data.
 * - The (origin_account_id, request_id) pair is the idempotency key: at most one
 *   Transfer record ever exists for it, and it is written exactly once, at the end
 *   of the saga.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransferStatus is the terminal outcome recorded for a transfer attempt.
type TransferStatus string

const (
	StatusSuccess            TransferStatus = "success"
	StatusFailed             TransferStatus = "failed"
	StatusCompensated        TransferStatus = "compensated"
	StatusCompensationFailed TransferStatus = "compensation_failed"
)

// Transfer is the durable record persisted once per accepted transfer request.
// It doubles as the audit trail and the idempotency ledger. It maps directly
// to the `transfers` table.
type Transfer struct {
	ID                       uuid.UUID      `json:"id"`
	RequestID                string         `json:"request_id"`
	OriginAccountID          uuid.UUID      `json:"origin_account_id"`
	DestinationAccountNumber string         `json:"destination_account_number"`
	Amount                   int64          `json:"amount"` // in centavos
	Status                   TransferStatus `json:"status"`
	ErrorMessage             *string        `json:"error_message,omitempty"`
	ErrorKind                *string        `json:"error_kind,omitempty"`
	CreatedAt                time.Time      `json:"created_at"`
	UpdatedAt                time.Time      `json:"updated_at"`
}

// NewTransfer builds a record for a transfer that is about to run. The status
// starts as Success and is downgraded by the Mark* methods when a leg fails.
func NewTransfer(requestID string, originAccountID uuid.UUID, destinationAccountNumber string, amount int64) *Transfer {
	now := time.Now().UTC()
	return &Transfer{
		ID:                       uuid.New(),
		RequestID:                requestID,
		OriginAccountID:          originAccountID,
		DestinationAccountNumber: destinationAccountNumber,
		Amount:                   amount,
		Status:                   StatusSuccess,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
}

// MarkFailed records an origin-leg or internal failure. No remote side effect
// needs reversal.
func (t *Transfer) MarkFailed(message, kind string) {
	t.Status = StatusFailed
	t.ErrorMessage = &message
	t.ErrorKind = &kind
	t.UpdatedAt = time.Now().UTC()
}

// MarkCompensated records a destination-leg failure whose corrective credit
// succeeded. The message and kind carried are the original credit failure's.
func (t *Transfer) MarkCompensated(message, kind string) {
	t.Status = StatusCompensated
	t.ErrorMessage = &message
	t.ErrorKind = &kind
	t.UpdatedAt = time.Now().UTC()
}

// MarkCompensationFailed records the most severe outcome: the credit leg failed
// and all compensation attempts were exhausted. Manual intervention is required.
func (t *Transfer) MarkCompensationFailed(message string) {
	kind := KindCompensationError
	t.Status = StatusCompensationFailed
	t.ErrorMessage = &message
	t.ErrorKind = &kind
	t.UpdatedAt = time.Now().UTC()
}

// TransferIntent is the per-request input to the orchestrator. The origin
// account identity comes from the caller's authenticated session, never from
// the request body; the credential is forwarded verbatim to the ledger service.
type TransferIntent struct {
	RequestID                string
	OriginAccountID          uuid.UUID
	DestinationAccountNumber string
	Amount                   int64 // in centavos
	Credential               string
}
