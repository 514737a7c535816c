// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package postgres

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/ucpanel/ucpanel/internal/auth"
)

// HistoryRepository implements auth.LoginHistoryRepository using PostgreSQL.
type HistoryRepository struct {
	db DBTX
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db DBTX) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append records a login event.
func (r *HistoryRepository) Append(ctx context.Context, record *auth.LoginRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO login_history (id, identity_id, source_address, user_agent, status, at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		record.ID.String(),
		record.IdentityID.String(),
		record.SourceAddress,
		record.UserAgent,
		record.Status,
		record.At,
	)
	if err != nil {
		return oops.Code("HISTORY_APPEND_FAILED").
			With("operation", "insert login history").
			With("identity_id", record.IdentityID.String()).
			Wrap(err)
	}
	return nil
}

// List returns up to limit records for identityID, newest first. A limit of
// zero or less returns everything.
func (r *HistoryRepository) List(ctx context.Context, identityID ulid.ULID, limit int) ([]*auth.LoginRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, source_address, user_agent, status, at
		FROM login_history
		WHERE identity_id = $1
		ORDER BY at DESC, id DESC
		LIMIT NULLIF($2::bigint, 0)
	`, identityID.String(), max(limit, 0))
	if err != nil {
		return nil, oops.Code("HISTORY_LIST_FAILED").
			With("operation", "list login history").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var records []*auth.LoginRecord
	for rows.Next() {
		rec := &auth.LoginRecord{IdentityID: identityID}
		var idStr string
		if err := rows.Scan(&idStr, &rec.SourceAddress, &rec.UserAgent, &rec.Status, &rec.At); err != nil {
			return nil, oops.Code("HISTORY_SCAN_FAILED").With("operation", "scan login history row").Wrap(err)
		}
		if rec.ID, err = parseULID(idStr, "id"); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("HISTORY_ROWS_ERROR").With("operation", "iterate login history rows").Wrap(err)
	}
	return records, nil
}
