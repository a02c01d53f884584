package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/firstclaim/claim-engine/internal/domain"
)

// SnapshotRepo handles persistence for ClaimSnapshot records.
type SnapshotRepo struct{}

// NewSnapshot serializes c into a checksummed snapshot for the given turn.
func NewSnapshot(sessionID string, turn int, c *domain.Claim, createdAt int64) (domain.ClaimSnapshot, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return domain.ClaimSnapshot{}, fmt.Errorf("marshal snapshot claim: %w", err)
	}
	return domain.ClaimSnapshot{
		SessionID: sessionID,
		Turn:      turn,
		ClaimJSON: string(b),
		Checksum:  Checksum(string(b)),
		CreatedAt: createdAt,
	}, nil
}

// Checksum returns the hex SHA-256 digest of data.
func Checksum(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// SaveTx inserts a claim snapshot within an existing transaction.
func (r *SnapshotRepo) SaveTx(ctx context.Context, tx *sql.Tx, snap domain.ClaimSnapshot) error {
	const q = `INSERT INTO claim_snapshots (session_id, turn, claim_json, checksum, created_at)
VALUES (?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		snap.SessionID,
		snap.Turn,
		snap.ClaimJSON,
		snap.Checksum,
		snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// GetLatest returns the most recent verified snapshot for a session.
// Returns nil if no snapshot exists.
func (r *SnapshotRepo) GetLatest(ctx context.Context, db *sql.DB, sessionID string) (*domain.ClaimSnapshot, error) {
	const q = `SELECT id, session_id, turn, claim_json, checksum, created_at
FROM claim_snapshots
WHERE session_id = ?
ORDER BY turn DESC, id DESC
LIMIT 1`

	var s domain.ClaimSnapshot
	err := db.QueryRowContext(ctx, q, sessionID).Scan(&s.ID, &s.SessionID, &s.Turn, &s.ClaimJSON, &s.Checksum, &s.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest snapshot: %w", err)
	}
	if err := Verify(s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListBySession returns all snapshots of a session ordered by turn.
func (r *SnapshotRepo) ListBySession(ctx context.Context, db *sql.DB, sessionID string) ([]domain.ClaimSnapshot, error) {
	const q = `SELECT id, session_id, turn, claim_json, checksum, created_at
FROM claim_snapshots
WHERE session_id = ?
ORDER BY turn ASC, id ASC`

	rows, err := db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []domain.ClaimSnapshot{}
	for rows.Next() {
		var s domain.ClaimSnapshot
		if err := rows.Scan(&s.ID, &s.SessionID, &s.Turn, &s.ClaimJSON, &s.Checksum, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// Verify checks that a snapshot's checksum matches its content.
func Verify(s domain.ClaimSnapshot) error {
	if Checksum(s.ClaimJSON) != s.Checksum {
		return domain.NewEngineError(domain.ErrSnapshotCorrupt.Code,
			fmt.Sprintf("snapshot %d of session %s failed checksum verification", s.ID, s.SessionID))
	}
	return nil
}
