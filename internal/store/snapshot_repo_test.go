package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/firstclaim/claim-engine/internal/domain"
)

func TestSnapshotRepo_SaveAndGetLatest(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &SnapshotRepo{}
	seedSession(t, db, "sess-1", "user-1")
	now := time.Now().Unix()

	for turn, risk := range []int{40, 10} {
		snap, err := NewSnapshot("sess-1", turn+1, testClaim(risk), now+int64(turn))
		if err != nil {
			t.Fatalf("NewSnapshot: %v", err)
		}
		tx, err := db.Begin()
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := repo.SaveTx(ctx, tx, snap); err != nil {
			t.Fatalf("SaveTx turn=%d: %v", snap.Turn, err)
		}
		tx.Commit()
	}

	// GetLatest should return the second snapshot.
	got, err := repo.GetLatest(ctx, db, "sess-1")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if got == nil {
		t.Fatal("expected snapshot, got nil")
	}
	if got.Turn != 2 {
		t.Errorf("Turn = %d, want 2", got.Turn)
	}
	if got.Checksum != Checksum(got.ClaimJSON) {
		t.Errorf("Checksum mismatch for stored snapshot")
	}

	all, err := repo.ListBySession(ctx, db, "sess-1")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(all) != 2 || all[0].Turn != 1 {
		t.Errorf("ListBySession = %+v", all)
	}
}

func TestSnapshotRepo_GetLatest_NotFound(t *testing.T) {
	db := newTestDB(t)

	got, err := (&SnapshotRepo{}).GetLatest(context.Background(), db, "nonexistent")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestSnapshotRepo_GetLatest_Corrupt(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &SnapshotRepo{}
	seedSession(t, db, "sess-1", "user-1")

	snap, err := NewSnapshot("sess-1", 1, testClaim(0), time.Now().Unix())
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	snap.Checksum = "deadbeef"
	tx, _ := db.Begin()
	if err := repo.SaveTx(ctx, tx, snap); err != nil {
		t.Fatalf("SaveTx: %v", err)
	}
	tx.Commit()

	_, err = repo.GetLatest(ctx, db, "sess-1")
	if !errors.Is(err, domain.ErrSnapshotCorrupt) {
		t.Fatalf("expected ErrSnapshotCorrupt, got %v", err)
	}
}
