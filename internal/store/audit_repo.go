package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/firstclaim/claim-engine/internal/domain"
)

// AuditRepo handles persistence for AuditRecord entries.
type AuditRepo struct{}

// RecordTx inserts an audit record within an existing transaction.
func (r *AuditRepo) RecordTx(ctx context.Context, tx *sql.Tx, rec domain.AuditRecord) error {
	const q = `INSERT INTO audit_records (id, session_id, category, actor, action, request_json, result_text, is_error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		rec.ID,
		rec.SessionID,
		rec.Category,
		rec.Actor,
		rec.Action,
		rec.RequestJSON,
		rec.ResultText,
		boolToInt(rec.IsError),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// ListBySession returns all audit records for a session in insertion order.
func (r *AuditRepo) ListBySession(ctx context.Context, db *sql.DB, sessionID string) ([]domain.AuditRecord, error) {
	const q = `SELECT id, session_id, category, actor, action, request_json, result_text, is_error, created_at
FROM audit_records
WHERE session_id = ?
ORDER BY created_at ASC, rowid ASC`

	rows, err := db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var a domain.AuditRecord
		var isErr int
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Category, &a.Actor, &a.Action,
			&a.RequestJSON, &a.ResultText, &isErr, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		a.IsError = isErr != 0
		records = append(records, a)
	}
	return records, rows.Err()
}
