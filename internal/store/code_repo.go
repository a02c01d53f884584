package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/firstclaim/claim-engine/internal/domain"
)

// CodeRepo handles persistence for the ICD-10-CM reference table.
type CodeRepo struct{}

// NormalizeCode strips the display dot and upper-cases an ICD-10-CM code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), ".", ""))
}

// DotCode returns the display form of an undotted code, with a dot after
// the third character.
func DotCode(code string) string {
	if len(code) <= 3 {
		return code
	}
	return code[:3] + "." + code[3:]
}

// UpsertBatchTx inserts or replaces reference codes within a transaction.
func (r *CodeRepo) UpsertBatchTx(ctx context.Context, tx *sql.Tx, codes []domain.ReferenceCode) error {
	const q = `INSERT INTO icd10_codes (code, code_dot, short_desc, long_desc, billable)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(code) DO UPDATE SET
	code_dot = excluded.code_dot,
	short_desc = excluded.short_desc,
	long_desc = excluded.long_desc,
	billable = excluded.billable`

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("prepare code upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range codes {
		code := NormalizeCode(c.Code)
		dot := c.CodeDot
		if dot == "" {
			dot = DotCode(code)
		}
		if _, err := stmt.ExecContext(ctx, code, dot, c.ShortDesc, c.LongDesc, boolToInt(c.Billable)); err != nil {
			return fmt.Errorf("upsert code %s: %w", code, err)
		}
	}
	return nil
}

// Get retrieves a code in dotted or undotted form.
func (r *CodeRepo) Get(ctx context.Context, db *sql.DB, code string) (*domain.ReferenceCode, error) {
	const q = `SELECT code, code_dot, short_desc, long_desc, billable FROM icd10_codes WHERE code = ?`

	var c domain.ReferenceCode
	var billable int
	err := db.QueryRowContext(ctx, q, NormalizeCode(code)).Scan(&c.Code, &c.CodeDot, &c.ShortDesc, &c.LongDesc, &billable)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NewEngineError(domain.ErrCodeNotFound.Code, fmt.Sprintf("code %q not found", code))
		}
		return nil, fmt.Errorf("get code: %w", err)
	}
	c.Billable = billable != 0
	return &c, nil
}

// Search matches codes whose description contains every word of query, or
// whose code starts with a word. When nothing matches all words it retries
// matching any word.
func (r *CodeRepo) Search(ctx context.Context, db *sql.DB, query string, billableOnly bool, limit int) ([]domain.ReferenceCode, error) {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return []domain.ReferenceCode{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	codes, err := r.search(ctx, db, words, " AND ", billableOnly, limit)
	if err != nil || len(codes) > 0 || len(words) == 1 {
		return codes, err
	}
	return r.search(ctx, db, words, " OR ", billableOnly, limit)
}

func (r *CodeRepo) search(ctx context.Context, db *sql.DB, words []string, join string, billableOnly bool, limit int) ([]domain.ReferenceCode, error) {
	var conds []string
	var args []any
	for _, w := range words {
		conds = append(conds, `(lower(long_desc) LIKE ? ESCAPE '\' OR code LIKE ? ESCAPE '\')`)
		args = append(args, likePattern(w), strings.TrimPrefix(likePattern(NormalizeCode(w)), "%"))
	}

	q := `SELECT code, code_dot, short_desc, long_desc, billable FROM icd10_codes WHERE (` + strings.Join(conds, join) + `)`
	if billableOnly {
		q += ` AND billable = 1`
	}
	q += ` ORDER BY code ASC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search codes: %w", err)
	}
	defer rows.Close()

	codes := []domain.ReferenceCode{}
	for rows.Next() {
		var c domain.ReferenceCode
		var billable int
		if err := rows.Scan(&c.Code, &c.CodeDot, &c.ShortDesc, &c.LongDesc, &billable); err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		c.Billable = billable != 0
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// Count returns the number of reference codes loaded.
func (r *CodeRepo) Count(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM icd10_codes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count codes: %w", err)
	}
	return n, nil
}
