package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/firstclaim/claim-engine/internal/domain"
)

// previewLength is the number of source-text characters shown in listings.
const previewLength = 120

// SessionRepo handles persistence for Session records.
type SessionRepo struct{}

const upsertSessionSQL = `INSERT INTO sessions (id, user_id, source_text, claim_json, highlights_json, agent_handle, status, turn_count, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	claim_json = excluded.claim_json,
	highlights_json = excluded.highlights_json,
	agent_handle = excluded.agent_handle,
	status = excluded.status,
	turn_count = excluded.turn_count,
	updated_at = excluded.updated_at`

// Upsert writes a session keyed by its id.
func (r *SessionRepo) Upsert(ctx context.Context, db *sql.DB, s domain.Session) error {
	args, err := sessionArgs(s)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, upsertSessionSQL, args...); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// UpsertTx writes a session keyed by its id within an existing transaction.
func (r *SessionRepo) UpsertTx(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	args, err := sessionArgs(s)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsertSessionSQL, args...); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func sessionArgs(s domain.Session) ([]any, error) {
	claimJSON := ""
	if s.Claim != nil {
		b, err := json.Marshal(s.Claim)
		if err != nil {
			return nil, fmt.Errorf("marshal claim: %w", err)
		}
		claimJSON = string(b)
	}
	highlights := s.Highlights
	if highlights == nil {
		highlights = []domain.Highlight{}
	}
	hb, err := json.Marshal(highlights)
	if err != nil {
		return nil, fmt.Errorf("marshal highlights: %w", err)
	}
	return []any{
		s.ID,
		s.UserID,
		s.SourceText,
		claimJSON,
		string(hb),
		s.AgentHandle,
		string(s.Status),
		s.Turns,
		s.CreatedAt,
		s.UpdatedAt,
	}, nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepo) GetByID(ctx context.Context, db *sql.DB, id string) (*domain.Session, error) {
	const q = `SELECT id, user_id, source_text, claim_json, highlights_json, agent_handle, status, turn_count, created_at, updated_at
FROM sessions WHERE id = ?`

	var s domain.Session
	var claimJSON, highlightsJSON, status string
	err := db.QueryRowContext(ctx, q, id).Scan(
		&s.ID, &s.UserID, &s.SourceText, &claimJSON, &highlightsJSON,
		&s.AgentHandle, &status, &s.Turns, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NewEngineError(domain.ErrSessionNotFound.Code, fmt.Sprintf("session %q not found", id))
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.Status = domain.SessionStatus(status)

	if claimJSON != "" {
		var c domain.Claim
		if err := json.Unmarshal([]byte(claimJSON), &c); err != nil {
			return nil, fmt.Errorf("decode claim of session %s: %w", id, err)
		}
		s.Claim = &c
	}
	if err := json.Unmarshal([]byte(highlightsJSON), &s.Highlights); err != nil {
		return nil, fmt.Errorf("decode highlights of session %s: %w", id, err)
	}
	return &s, nil
}

// ListByUser returns the completed sessions owned by userID, newest first.
func (r *SessionRepo) ListByUser(ctx context.Context, db *sql.DB, userID string) ([]domain.SessionSummary, error) {
	const q = `SELECT s.id, s.created_at, s.source_text, s.claim_json,
	(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
FROM sessions s
WHERE s.user_id = ? AND s.status = ?
ORDER BY s.created_at DESC, s.id ASC`

	rows, err := db.QueryContext(ctx, q, userID, string(domain.SessionCompleted))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	summaries := []domain.SessionSummary{}
	for rows.Next() {
		var sum domain.SessionSummary
		var source, claimJSON string
		if err := rows.Scan(&sum.ID, &sum.CreatedAt, &source, &claimJSON, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.SourcePreview = preview(source)
		if claimJSON != "" {
			var head struct {
				RiskScore int `json:"riskScore"`
			}
			if err := json.Unmarshal([]byte(claimJSON), &head); err == nil {
				risk := head.RiskScore
				sum.RiskScore = &risk
			}
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Delete removes a session with its transcript, snapshots, audit and cost rows.
func (r *SessionRepo) Delete(ctx context.Context, db *sql.DB, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.NewEngineError(domain.ErrSessionNotFound.Code, fmt.Sprintf("session %q not found", id))
	}
	return nil
}

// SetStatus updates only the status of a session.
func (r *SessionRepo) SetStatus(ctx context.Context, db *sql.DB, id string, status domain.SessionStatus, updatedAt int64) error {
	const q = `UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, q, string(status), updatedAt, id); err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	return nil
}

// MarkInterrupted moves every session still in processing to error and
// returns how many were changed.
func (r *SessionRepo) MarkInterrupted(ctx context.Context, db *sql.DB, updatedAt int64) (int64, error) {
	const q = `UPDATE sessions SET status = ?, updated_at = ? WHERE status = ?`
	res, err := db.ExecContext(ctx, q, string(domain.SessionError), updatedAt, string(domain.SessionProcessing))
	if err != nil {
		return 0, fmt.Errorf("mark interrupted sessions: %w", err)
	}
	return res.RowsAffected()
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLength {
		return s
	}
	return string(r[:previewLength]) + "..."
}
