package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/firstclaim/claim-engine/internal/domain"
)

// CostDeltaRepo handles persistence for CostDelta records.
type CostDeltaRepo struct{}

// CreateTx inserts a cost delta for a session within an existing transaction.
func (r *CostDeltaRepo) CreateTx(ctx context.Context, tx *sql.Tx, sessionID string, delta domain.CostDelta) error {
	const q = `INSERT INTO cost_deltas (session_id, input_tokens, output_tokens, amount_usd, provider, turn_kind, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		sessionID,
		delta.InputTokens,
		delta.OutputTokens,
		delta.AmountUSD,
		delta.Provider,
		delta.TurnKind,
		delta.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create cost delta: %w", err)
	}
	return nil
}

// ListBySession returns all cost deltas for a session, ordered by creation time.
func (r *CostDeltaRepo) ListBySession(ctx context.Context, db *sql.DB, sessionID string) ([]domain.CostDelta, error) {
	const q = `SELECT input_tokens, output_tokens, amount_usd, provider, turn_kind, created_at
FROM cost_deltas
WHERE session_id = ?
ORDER BY created_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list cost deltas: %w", err)
	}
	defer rows.Close()

	var deltas []domain.CostDelta
	for rows.Next() {
		var d domain.CostDelta
		if err := rows.Scan(&d.InputTokens, &d.OutputTokens, &d.AmountUSD, &d.Provider, &d.TurnKind, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cost delta: %w", err)
		}
		deltas = append(deltas, d)
	}
	return deltas, rows.Err()
}

// SumBySession returns the total spend recorded for a session.
func (r *CostDeltaRepo) SumBySession(ctx context.Context, db *sql.DB, sessionID string) (float64, error) {
	var total float64
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_usd), 0) FROM cost_deltas WHERE session_id = ?`, sessionID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum cost deltas: %w", err)
	}
	return total, nil
}
