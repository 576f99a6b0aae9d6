/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface using the pgx driver. All queries go through a pgxpool so
 * concurrent requests share connections safely. The implementation performs no
 * business logic; uniqueness of the idempotency key is enforced by the
 * database, and constraint violations are mapped to ErrDuplicateTransfer.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pooling.
 * - internal/domain: For the Transfer record model.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bankmore/transfer-service/internal/domain"
)

const uniqueViolationCode = "23505"

// PostgresRepository implements Repository backed by PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository instance.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindByOriginAndRequestID looks up the transfer recorded for the idempotency
// key. Absence is not an error: callers receive (nil, nil).
func (r *PostgresRepository) FindByOriginAndRequestID(ctx context.Context, originAccountID uuid.UUID, requestID string) (*domain.Transfer, error) {
	query := `
		SELECT id, request_id, origin_account_id, destination_account_number,
		       amount, status, error_message, error_kind, created_at, updated_at
		FROM transfers
		WHERE origin_account_id = $1 AND request_id = $2`

	var t domain.Transfer
	err := r.db.QueryRow(ctx, query, originAccountID, requestID).Scan(
		&t.ID,
		&t.RequestID,
		&t.OriginAccountID,
		&t.DestinationAccountNumber,
		&t.Amount,
		&t.Status,
		&t.ErrorMessage,
		&t.ErrorKind,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query transfer record: %w", err)
	}
	return &t, nil
}

// CreateTransfer appends the terminal record. The unique index on
// (origin_account_id, request_id) turns a duplicate insert into
// ErrDuplicateTransfer.
func (r *PostgresRepository) CreateTransfer(ctx context.Context, transfer *domain.Transfer) error {
	query := `
		INSERT INTO transfers (id, request_id, origin_account_id, destination_account_number,
		                       amount, status, error_message, error_kind, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		transfer.ID,
		transfer.RequestID,
		transfer.OriginAccountID,
		transfer.DestinationAccountNumber,
		transfer.Amount,
		transfer.Status,
		transfer.ErrorMessage,
		transfer.ErrorKind,
		transfer.CreatedAt,
		transfer.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTransfer
		}
		return fmt.Errorf("failed to insert transfer record: %w", err)
	}
	return nil
}

// Ping verifies database connectivity for the readiness check.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
