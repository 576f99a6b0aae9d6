/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * the transfer record store. The store is a pure keyed append surface: one
 * durable record per accepted transfer request, keyed by
 * (origin_account_id, request_id), created exactly once and never mutated. By
 * defining an interface, the orchestrator stays decoupled from the PostgreSQL
 * implementation and is easy to test with stubs.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For account and record identifiers.
 * - internal/domain: For the Transfer record model.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/bankmore/transfer-service/internal/domain"
)

// ErrDuplicateTransfer is returned when an insert violates the
// (origin_account_id, request_id) uniqueness constraint. Concurrent duplicate
// submissions that both pass the idempotency check surface here.
var ErrDuplicateTransfer = errors.New("transfer record already exists for origin and request id")

// Repository defines the data access operations required by the orchestrator.
type Repository interface {
	// FindByOriginAndRequestID returns the recorded transfer for the
	// idempotency key, or (nil, nil) when no record exists.
	FindByOriginAndRequestID(ctx context.Context, originAccountID uuid.UUID, requestID string) (*domain.Transfer, error)

	// CreateTransfer persists the terminal record exactly once. Returns
	// ErrDuplicateTransfer on a key collision.
	CreateTransfer(ctx context.Context, transfer *domain.Transfer) error

	// Ping reports whether the underlying storage is reachable. Used by the
	// readiness check.
	Ping(ctx context.Context) error
}
