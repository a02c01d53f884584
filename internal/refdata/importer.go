package refdata

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/firstclaim/claim-engine/internal/domain"
	"github.com/firstclaim/claim-engine/internal/store"
)

// Column layout of the CMS ICD-10-CM order file:
// order(5) sp code(7) sp billable(1) sp short(60) sp long(rest).
const (
	minOrderLine   = 78
	importBatch    = 1000
	codeStart      = 6
	codeEnd        = 13
	billableColumn = 14
	shortStart     = 16
	shortEnd       = 77
)

// ParseOrderLine parses one fixed-width line. It reports false for lines
// that are too short or carry no code or short description.
func ParseOrderLine(line string) (domain.ReferenceCode, bool) {
	line = strings.TrimRight(line, "\r")
	if len(line) < minOrderLine {
		return domain.ReferenceCode{}, false
	}
	code := strings.TrimSpace(line[codeStart:codeEnd])
	short := strings.TrimSpace(line[shortStart:shortEnd])
	if code == "" || short == "" {
		return domain.ReferenceCode{}, false
	}
	long := strings.TrimSpace(line[shortEnd:])
	if long == "" {
		long = short
	}
	code = store.NormalizeCode(code)
	return domain.ReferenceCode{
		Code:      code,
		CodeDot:   store.DotCode(code),
		ShortDesc: short,
		LongDesc:  long,
		Billable:  line[billableColumn] == '1',
	}, true
}

// ImportStats summarises an import run.
type ImportStats struct {
	Lines    int
	Imported int
	Skipped  int
}

// Import reads a CMS order file from r and upserts its codes into db in
// batches. Each batch commits on its own.
func Import(ctx context.Context, db *sql.DB, r io.Reader) (ImportStats, error) {
	var stats ImportStats
	repo := &store.CodeRepo{}
	batch := make([]domain.ReferenceCode, 0, importBatch)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()
		if err := repo.UpsertBatchTx(ctx, tx, batch); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		stats.Imported += len(batch)
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		stats.Lines++
		c, ok := ParseOrderLine(line)
		if !ok {
			stats.Skipped++
			continue
		}
		batch = append(batch, c)
		if len(batch) == importBatch {
			if err := flush(); err != nil {
				return stats, domain.WrapEngineError(domain.ErrStoreWrite.Code, "import codes", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, domain.WrapEngineError(domain.ErrImportFormat.Code, "read order file", err)
	}
	if err := flush(); err != nil {
		return stats, domain.WrapEngineError(domain.ErrStoreWrite.Code, "import codes", err)
	}
	return stats, nil
}
