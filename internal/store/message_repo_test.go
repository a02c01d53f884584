package store

import (
	"context"
	"testing"

	"github.com/firstclaim/claim-engine/internal/domain"
)

func TestMessageRepo_AppendAssignsSequence(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &MessageRepo{}
	seedSession(t, db, "sess-1", "user-1")
	seedSession(t, db, "sess-2", "user-1")

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	msgs := []domain.Message{
		{ID: "m1", SessionID: "sess-1", Role: domain.RoleAgent, Content: "Claim built.", SuggestedPrompts: []string{"Export the claim"}},
		{ID: "m2", SessionID: "sess-1", Role: domain.RoleUser, Content: "Remove line 2"},
		{ID: "m3", SessionID: "sess-2", Role: domain.RoleAgent, Content: "Other session."},
		{ID: "m4", SessionID: "sess-1", Role: domain.RoleAgent, Content: "Removed.", ClaimChange: &domain.ClaimChange{Description: "Risk 40 -> 10", RiskBefore: 40, RiskAfter: 10}},
	}
	var seqs []int64
	for _, m := range msgs {
		seq, err := repo.AppendTx(ctx, tx, m)
		if err != nil {
			t.Fatalf("AppendTx %s: %v", m.ID, err)
		}
		seqs = append(seqs, seq)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	want := []int64{1, 2, 1, 3}
	for i := range want {
		if seqs[i] != want[i] {
			t.Errorf("seq[%d] = %d, want %d", i, seqs[i], want[i])
		}
	}

	got, err := repo.ListBySession(ctx, db, "sess-1")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[0].ID != "m1" || got[1].ID != "m2" || got[2].ID != "m4" {
		t.Errorf("order = [%s %s %s]", got[0].ID, got[1].ID, got[2].ID)
	}
	if len(got[0].SuggestedPrompts) != 1 || got[0].SuggestedPrompts[0] != "Export the claim" {
		t.Errorf("SuggestedPrompts = %v", got[0].SuggestedPrompts)
	}
	if got[1].SuggestedPrompts != nil || got[1].ClaimChange != nil {
		t.Errorf("user message carries extras: %+v", got[1])
	}
	if got[2].ClaimChange == nil || got[2].ClaimChange.RiskAfter != 10 {
		t.Errorf("ClaimChange = %+v", got[2].ClaimChange)
	}
}

func TestMessageRepo_RollbackDiscardsMessages(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &MessageRepo{}
	seedSession(t, db, "sess-1", "user-1")

	tx, _ := db.Begin()
	if _, err := repo.AppendTx(ctx, tx, domain.Message{ID: "m1", SessionID: "sess-1", Role: domain.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendTx: %v", err)
	}
	tx.Rollback()

	got, err := repo.ListBySession(ctx, db, "sess-1")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no messages after rollback, got %d", len(got))
	}
}
