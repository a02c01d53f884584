package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/firstclaim/claim-engine/internal/domain"
)

// MessageRepo handles persistence for transcript messages.
type MessageRepo struct{}

// AppendTx inserts a message at the end of its session's transcript and
// returns the assigned sequence number.
func (r *MessageRepo) AppendTx(ctx context.Context, tx *sql.Tx, m domain.Message) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq_no), 0) + 1 FROM messages WHERE session_id = ?`, m.SessionID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next message seq: %w", err)
	}

	prompts := m.SuggestedPrompts
	if prompts == nil {
		prompts = []string{}
	}
	pb, err := json.Marshal(prompts)
	if err != nil {
		return 0, fmt.Errorf("marshal suggested prompts: %w", err)
	}
	change := ""
	if m.ClaimChange != nil {
		cb, err := json.Marshal(m.ClaimChange)
		if err != nil {
			return 0, fmt.Errorf("marshal claim change: %w", err)
		}
		change = string(cb)
	}

	const q = `INSERT INTO messages (id, session_id, seq_no, role, content, suggested_prompts_json, claim_change_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q,
		m.ID,
		m.SessionID,
		seq,
		string(m.Role),
		m.Content,
		string(pb),
		change,
		m.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	return seq, nil
}

// ListBySession returns a session's transcript ordered by sequence number.
func (r *MessageRepo) ListBySession(ctx context.Context, db *sql.DB, sessionID string) ([]domain.Message, error) {
	const q = `SELECT id, session_id, seq_no, role, content, suggested_prompts_json, claim_change_json, created_at
FROM messages
WHERE session_id = ?
ORDER BY seq_no ASC`

	rows, err := db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var role, prompts, change string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SeqNo, &role, &m.Content, &prompts, &change, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = domain.MessageRole(role)
		if err := json.Unmarshal([]byte(prompts), &m.SuggestedPrompts); err != nil {
			return nil, fmt.Errorf("decode suggested prompts: %w", err)
		}
		if len(m.SuggestedPrompts) == 0 {
			m.SuggestedPrompts = nil
		}
		if change != "" {
			m.ClaimChange = &domain.ClaimChange{}
			if err := json.Unmarshal([]byte(change), m.ClaimChange); err != nil {
				return nil, fmt.Errorf("decode claim change: %w", err)
			}
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
