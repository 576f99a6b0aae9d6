/**
 * @description
 * This file bootstraps the database schema at startup. The service owns a
 * single table, so the schema is applied idempotently with
 * CREATE ... IF NOT EXISTS instead of a migration tool. The unique index on
 * (origin_account_id, request_id) is the idempotency guarantee the
 * orchestrator relies on.
 */

package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createTransfersTable = `
CREATE TABLE IF NOT EXISTS transfers (
    id                         UUID PRIMARY KEY,
    request_id                 TEXT        NOT NULL,
    origin_account_id          UUID        NOT NULL,
    destination_account_number TEXT        NOT NULL DEFAULT '',
    amount                     BIGINT      NOT NULL,
    status                     TEXT        NOT NULL,
    error_message              TEXT,
    error_kind                 TEXT,
    created_at                 TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at                 TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS transfers_origin_request_uidx
    ON transfers (origin_account_id, request_id);
`

// InitSchema applies the transfers schema if it is not already present.
func InitSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, createTransfersTable); err != nil {
		return fmt.Errorf("failed to initialize transfers schema: %w", err)
	}
	return nil
}
