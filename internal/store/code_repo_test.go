package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/firstclaim/claim-engine/internal/domain"
)

func seedCodes(t *testing.T, db *sql.DB) {
	t.Helper()
	codes := []domain.ReferenceCode{
		{Code: "M5450", ShortDesc: "Low back pain, unspecified", LongDesc: "Low back pain, unspecified", Billable: true},
		{Code: "M545", ShortDesc: "Low back pain", LongDesc: "Low back pain", Billable: false},
		{Code: "M542", ShortDesc: "Cervicalgia", LongDesc: "Cervicalgia", Billable: true},
		{Code: "R51.9", ShortDesc: "Headache, unspecified", LongDesc: "Headache, unspecified", Billable: true},
		{Code: "S8290XA", ShortDesc: "Unsp fracture of unsp lower leg, init", LongDesc: "Unspecified fracture of unspecified lower leg, initial encounter for closed fracture", Billable: true},
	}
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := (&CodeRepo{}).UpsertBatchTx(context.Background(), tx, codes); err != nil {
		t.Fatalf("UpsertBatchTx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestCodeRepo_Get(t *testing.T) {
	db := newTestDB(t)
	seedCodes(t, db)
	ctx := context.Background()
	repo := &CodeRepo{}

	for _, in := range []string{"M54.50", "m5450", " M5450 "} {
		got, err := repo.Get(ctx, db, in)
		if err != nil {
			t.Fatalf("Get(%q): %v", in, err)
		}
		if got.Code != "M5450" || got.CodeDot != "M54.50" || !got.Billable {
			t.Errorf("Get(%q) = %+v", in, got)
		}
	}

	got, err := repo.Get(ctx, db, "R51.9")
	if err != nil {
		t.Fatalf("Get dotted input: %v", err)
	}
	if got.Code != "R519" || got.CodeDot != "R51.9" {
		t.Errorf("Get(R51.9) = %+v", got)
	}

	if _, err := repo.Get(ctx, db, "Z99.99"); !errors.Is(err, domain.ErrCodeNotFound) {
		t.Errorf("expected ErrCodeNotFound, got %v", err)
	}
}

func TestCodeRepo_Search(t *testing.T) {
	db := newTestDB(t)
	seedCodes(t, db)
	ctx := context.Background()
	repo := &CodeRepo{}

	tests := []struct {
		name     string
		query    string
		billable bool
		limit    int
		want     []string
	}{
		{"all words", "low back pain", false, 10, []string{"M545", "M5450"}},
		{"billable only", "low back pain", true, 10, []string{"M5450"}},
		{"case insensitive", "HEADACHE", true, 10, []string{"R519"}},
		{"falls back to any word", "leg headache", true, 10, []string{"R519", "S8290XA"}},
		{"code prefix", "M54", true, 10, []string{"M542", "M5450"}},
		{"limit", "M54", false, 2, []string{"M542", "M545"}},
		{"no match", "appendicitis", false, 10, nil},
		{"empty", "   ", false, 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Search(ctx, db, tt.query, tt.billable, tt.limit)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			var codes []string
			for _, c := range got {
				codes = append(codes, c.Code)
			}
			if len(codes) != len(tt.want) {
				t.Fatalf("Search(%q) = %v, want %v", tt.query, codes, tt.want)
			}
			for i := range codes {
				if codes[i] != tt.want[i] {
					t.Errorf("Search(%q)[%d] = %s, want %s", tt.query, i, codes[i], tt.want[i])
				}
			}
		})
	}

	n, err := repo.Count(ctx, db)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 5 {
		t.Errorf("Count = %d, want 5", n)
	}
}

func TestDotCode(t *testing.T) {
	tests := map[string]string{"M5450": "M54.50", "R51": "R51", "S8290XA": "S82.90XA", "A0": "A0"}
	for in, want := range tests {
		if got := DotCode(in); got != want {
			t.Errorf("DotCode(%q) = %q, want %q", in, got, want)
		}
	}
}
