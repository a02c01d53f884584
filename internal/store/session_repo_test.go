package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/firstclaim/claim-engine/internal/domain"
)

func testClaim(risk int) *domain.Claim {
	age := 45
	return &domain.Claim{
		ClaimID:       "CLM-1",
		DateOfService: "2026-03-02",
		Patient:       domain.PatientDemographics{Sex: domain.SexMale, Age: &age},
		LineItems: []domain.LineItem{
			{LineNumber: 1, CPT: "99214", ICD10: []string{"M54.50"}, Units: 1, Modifiers: []string{}, Sources: []string{}},
		},
		RiskScore: risk,
		Findings:  []domain.Finding{},
	}
}

func TestSessionRepo_UpsertAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &SessionRepo{}

	s := seedSession(t, db, "sess-1", "user-1")

	got, err := repo.GetByID(ctx, db, "sess-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Claim != nil {
		t.Errorf("Claim = %+v, want nil before the first turn", got.Claim)
	}
	if got.Status != domain.SessionProcessing {
		t.Errorf("Status = %q, want %q", got.Status, domain.SessionProcessing)
	}

	// Second write for the same id updates in place.
	s.Claim = testClaim(20)
	s.Highlights = []domain.Highlight{{ID: "h1", OriginalText: "low back pain", Code: "M54.50", Type: domain.CodeTypeICD10, Confidence: 0.9}}
	s.AgentHandle = "handle-1"
	s.Status = domain.SessionCompleted
	s.Turns = 1
	s.UpdatedAt = time.Now().Unix() + 5
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.UpsertTx(ctx, tx, s); err != nil {
		t.Fatalf("UpsertTx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err = repo.GetByID(ctx, db, "sess-1")
	if err != nil {
		t.Fatalf("GetByID after upsert: %v", err)
	}
	if got.Claim == nil || got.Claim.RiskScore != 20 {
		t.Fatalf("Claim = %+v, want risk 20", got.Claim)
	}
	if got.Claim.LineItems[0].CPT != "99214" {
		t.Errorf("CPT = %q, want 99214", got.Claim.LineItems[0].CPT)
	}
	if len(got.Highlights) != 1 || got.Highlights[0].Code != "M54.50" {
		t.Errorf("Highlights = %+v", got.Highlights)
	}
	if got.AgentHandle != "handle-1" || got.Turns != 1 || got.Status != domain.SessionCompleted {
		t.Errorf("session = %+v", got)
	}
	if got.CreatedAt != s.CreatedAt {
		t.Errorf("CreatedAt = %d, want %d", got.CreatedAt, s.CreatedAt)
	}
}

func TestSessionRepo_GetByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := (&SessionRepo{}).GetByID(context.Background(), db, "missing")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionRepo_ListByUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &SessionRepo{}

	older := seedSession(t, db, "sess-old", "user-1")
	older.Status = domain.SessionCompleted
	older.Claim = testClaim(35)
	older.CreatedAt -= 100
	if err := repo.Upsert(ctx, db, older); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// Upsert keeps the original created_at, so rewrite it directly.
	if _, err := db.Exec(`UPDATE sessions SET created_at = ? WHERE id = ?`, older.CreatedAt, older.ID); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	now := time.Now().Unix()
	newer := domain.Session{
		ID: "sess-new", UserID: "user-1", SourceText: strings.Repeat("x", 200),
		Status: domain.SessionCompleted, CreatedAt: now, UpdatedAt: now,
	}
	if err := repo.Upsert(ctx, db, newer); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	seedSession(t, db, "sess-running", "user-1")
	other := seedSession(t, db, "sess-other", "user-2")
	other.Status = domain.SessionCompleted
	if err := repo.Upsert(ctx, db, other); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	tx, _ := db.Begin()
	msgs := &MessageRepo{}
	for i, role := range []domain.MessageRole{domain.RoleAgent, domain.RoleUser, domain.RoleAgent} {
		if _, err := msgs.AppendTx(ctx, tx, domain.Message{ID: fmt.Sprintf("m%d", i), SessionID: "sess-old", Role: role, Content: "x"}); err != nil {
			t.Fatalf("AppendTx: %v", err)
		}
	}
	tx.Commit()

	got, err := repo.ListByUser(ctx, db, "user-1")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 completed sessions, got %d", len(got))
	}
	if got[0].ID != "sess-new" || got[1].ID != "sess-old" {
		t.Errorf("order = [%s %s], want newest first", got[0].ID, got[1].ID)
	}
	if got[0].RiskScore != nil {
		t.Errorf("RiskScore = %v, want nil for a session without claim", *got[0].RiskScore)
	}
	if !strings.HasSuffix(got[0].SourcePreview, "...") || len([]rune(got[0].SourcePreview)) != previewLength+3 {
		t.Errorf("SourcePreview = %q", got[0].SourcePreview)
	}
	if got[1].RiskScore == nil || *got[1].RiskScore != 35 {
		t.Errorf("RiskScore = %v, want 35", got[1].RiskScore)
	}
	if got[1].MessageCount != 3 {
		t.Errorf("MessageCount = %d, want 3", got[1].MessageCount)
	}
}

func TestSessionRepo_DeleteCascades(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &SessionRepo{}

	seedSession(t, db, "sess-1", "user-1")
	tx, _ := db.Begin()
	if _, err := (&MessageRepo{}).AppendTx(ctx, tx, domain.Message{ID: "m1", SessionID: "sess-1", Role: domain.RoleAgent, Content: "hi"}); err != nil {
		t.Fatalf("AppendTx: %v", err)
	}
	if err := (&CostDeltaRepo{}).CreateTx(ctx, tx, "sess-1", domain.CostDelta{AmountUSD: 0.1}); err != nil {
		t.Fatalf("CreateTx: %v", err)
	}
	tx.Commit()

	if err := repo.Delete(ctx, db, "sess-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if n != 0 {
		t.Errorf("messages left after delete: %d", n)
	}

	if err := repo.Delete(ctx, db, "sess-1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("second Delete: expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionRepo_MarkInterrupted(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &SessionRepo{}

	seedSession(t, db, "sess-a", "user-1")
	seedSession(t, db, "sess-b", "user-1")
	done := seedSession(t, db, "sess-c", "user-1")
	done.Status = domain.SessionCompleted
	if err := repo.Upsert(ctx, db, done); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n, err := repo.MarkInterrupted(ctx, db, time.Now().Unix())
	if err != nil {
		t.Fatalf("MarkInterrupted: %v", err)
	}
	if n != 2 {
		t.Errorf("marked %d sessions, want 2", n)
	}
	got, _ := repo.GetByID(ctx, db, "sess-a")
	if got.Status != domain.SessionError {
		t.Errorf("Status = %q, want error", got.Status)
	}
	got, _ = repo.GetByID(ctx, db, "sess-c")
	if got.Status != domain.SessionCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
}

func TestSessionRepo_SetStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &SessionRepo{}
	seedSession(t, db, "sess-1", "user-1")

	if err := repo.SetStatus(ctx, db, "sess-1", domain.SessionError, time.Now().Unix()); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	got, _ := repo.GetByID(ctx, db, "sess-1")
	if got.Status != domain.SessionError {
		t.Errorf("Status = %q, want error", got.Status)
	}
}
