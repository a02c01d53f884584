package claim

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firstclaim/claim-engine/internal/domain"
)

func intPtr(n int) *int { return &n }

func line(n int, cpt string, icd ...string) domain.LineItem {
	return domain.LineItem{LineNumber: n, CPT: cpt, ICD10: icd, Units: 1}
}

func baseClaim() *domain.Claim {
	return &domain.Claim{
		ClaimID:       "CLM-1",
		DateOfService: "2026-03-02",
		Patient:       domain.PatientDemographics{Sex: domain.SexMale, Age: intPtr(45)},
		LineItems:     []domain.LineItem{line(1, "99214", "M54.50"), line(2, "72070", "M54.2")},
	}
}

func TestAggregate_RejectsWithoutClaim(t *testing.T) {
	agg := NewAggregate(nil, nil)

	for _, a := range Actions {
		if a == ActionSet {
			continue
		}
		_, err := agg.Apply(Mutation{Action: a})
		require.Error(t, err, a)
		assert.True(t, errors.Is(err, domain.ErrNoClaim), "action %s: %v", a, err)
	}
	assert.Nil(t, agg.Snapshot())
	assert.Equal(t, 0, agg.Applied())
}

func TestAggregate_SetNormalizes(t *testing.T) {
	var changes []Change
	agg := NewAggregate(nil, func(ch Change) { changes = append(changes, ch) })

	in := baseClaim()
	in.LineItems[0].Units = 0
	in.LineItems[0].ICD10 = []string{" m54.50 "}

	got, err := agg.Apply(Mutation{Action: ActionSet, Claim: in})
	require.NoError(t, err)

	assert.Equal(t, 1, got.LineItems[0].Units)
	assert.Equal(t, []string{"M54.50"}, got.LineItems[0].ICD10)
	assert.Equal(t, []domain.Finding{}, got.Findings)
	assert.Equal(t, 0, got.RiskScore)
	require.Len(t, changes, 1)
	assert.Nil(t, changes[0].Previous)

	// The caller's object is never aliased.
	in.LineItems[0].CPT = "00000"
	assert.Equal(t, "99214", agg.Snapshot().LineItems[0].CPT)
}

func TestAggregate_SetRejectsDuplicateLines(t *testing.T) {
	agg := NewAggregate(nil, nil)
	c := baseClaim()
	c.LineItems = append(c.LineItems, line(2, "73562", "M25.561"))

	_, err := agg.Apply(Mutation{Action: ActionSet, Claim: c})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateLine))
	assert.Nil(t, agg.Snapshot())
}

func TestAggregate_LineItems(t *testing.T) {
	agg := NewAggregate(baseClaim(), nil)

	_, err := agg.Apply(Mutation{Action: ActionAddLineItem, LineItem: ptr(line(2, "73562", "M25.561"))})
	assert.True(t, errors.Is(err, domain.ErrDuplicateLine), "got %v", err)

	got, err := agg.Apply(Mutation{Action: ActionAddLineItem, LineItem: ptr(line(3, "20610", "M17.11"))})
	require.NoError(t, err)
	assert.Len(t, got.LineItems, 3)

	units := 2
	desc := "Arthrocentesis, major joint"
	got, err = agg.Apply(Mutation{
		Action:     ActionUpdateLineItem,
		LineNumber: intPtr(3),
		Patch:      &LineItemPatch{Units: &units, Description: &desc},
	})
	require.NoError(t, err)
	li, ok := got.LineItem(3)
	require.True(t, ok)
	assert.Equal(t, 2, li.Units)
	assert.Equal(t, desc, li.Description)
	assert.Equal(t, "20610", li.CPT)

	_, err = agg.Apply(Mutation{Action: ActionUpdateLineItem, LineNumber: intPtr(9), Patch: &LineItemPatch{Units: &units}})
	assert.True(t, errors.Is(err, domain.ErrLineNotFound), "got %v", err)

	_, err = agg.Apply(Mutation{Action: ActionUpdateLineItem, LineNumber: intPtr(3), Patch: &LineItemPatch{LineNumber: intPtr(4)}})
	assert.True(t, errors.Is(err, domain.ErrInvalidClaim), "got %v", err)

	got, err = agg.Apply(Mutation{Action: ActionRemoveLineItem, LineNumber: intPtr(1)})
	require.NoError(t, err)
	_, ok = got.LineItem(1)
	assert.False(t, ok)
	assert.Len(t, got.LineItems, 2)
}

func TestAggregate_RemoveAbsentLineIsSilentNoop(t *testing.T) {
	notified := 0
	agg := NewAggregate(baseClaim(), func(Change) { notified++ })

	got, err := agg.Apply(Mutation{Action: ActionRemoveLineItem, LineNumber: intPtr(42)})
	require.NoError(t, err)
	assert.Len(t, got.LineItems, 2)
	assert.Equal(t, 0, notified)
	assert.Equal(t, 0, agg.Applied())
}

func TestAggregate_FindingLifecycle(t *testing.T) {
	var changes []Change
	agg := NewAggregate(baseClaim(), func(ch Change) { changes = append(changes, ch) })

	f := domain.Finding{ID: "f1", Severity: domain.SeverityCritical, Title: "Missing modifier 25", RelatedLineNumber: intPtr(2)}
	_, err := agg.Apply(Mutation{Action: ActionAddFinding, Finding: &f})
	require.NoError(t, err)

	_, err = agg.Apply(Mutation{Action: ActionAddFinding, Finding: &f})
	assert.True(t, errors.Is(err, domain.ErrDuplicateFinding), "got %v", err)

	_, err = agg.Apply(Mutation{Action: ActionResolveFinding, FindingID: "f1"})
	assert.True(t, errors.Is(err, domain.ErrMissingArgument), "got %v", err)

	_, err = agg.Apply(Mutation{Action: ActionResolveFinding, FindingID: "nope", Reason: "n/a"})
	assert.True(t, errors.Is(err, domain.ErrFindingNotFound), "got %v", err)

	got, err := agg.Apply(Mutation{Action: ActionResolveFinding, FindingID: "f1", Reason: "Modifier added"})
	require.NoError(t, err)
	resolved, _ := got.Finding("f1")
	assert.True(t, resolved.Resolved)
	assert.Equal(t, "Modifier added", resolved.ResolvedReason)

	before := agg.Snapshot()
	_, err = agg.Apply(Mutation{Action: ActionResolveFinding, FindingID: "f1", Reason: "again"})
	assert.True(t, errors.Is(err, domain.ErrAlreadyResolved), "got %v", err)
	if diff := cmp.Diff(before, agg.Snapshot()); diff != "" {
		t.Errorf("rejected resolve changed the claim (-before +after):\n%s", diff)
	}

	require.Len(t, changes, 2)
	assert.Equal(t, ActionAddFinding, changes[0].Action)
	require.NotNil(t, changes[0].Finding)
	assert.Equal(t, "f1", changes[0].Finding.ID)
	assert.Equal(t, "f1", changes[1].FindingID)
	assert.Equal(t, "Modifier added", changes[1].Reason)
}

func TestAggregate_AddFindingMustBeUnresolved(t *testing.T) {
	agg := NewAggregate(baseClaim(), nil)
	f := domain.Finding{ID: "f1", Severity: domain.SeverityInfo, Title: "t", Resolved: true}
	_, err := agg.Apply(Mutation{Action: ActionAddFinding, Finding: &f})
	assert.True(t, errors.Is(err, domain.ErrInvalidClaim), "got %v", err)
}

func TestAggregate_RiskScore(t *testing.T) {
	agg := NewAggregate(baseClaim(), nil)

	for _, bad := range []int{-1, 101} {
		_, err := agg.Apply(Mutation{Action: ActionSetRiskScore, RiskScore: intPtr(bad)})
		assert.True(t, errors.Is(err, domain.ErrInvalidRiskScore), "score %d: %v", bad, err)
	}
	got, err := agg.Apply(Mutation{Action: ActionSetRiskScore, RiskScore: intPtr(65)})
	require.NoError(t, err)
	assert.Equal(t, 65, got.RiskScore)
}

func TestAggregate_UnknownAction(t *testing.T) {
	agg := NewAggregate(baseClaim(), nil)
	_, err := agg.Apply(Mutation{Action: "delete_claim"})
	assert.True(t, errors.Is(err, domain.ErrUnknownAction), "got %v", err)
}

func TestAggregate_SnapshotsAreIndependent(t *testing.T) {
	agg := NewAggregate(baseClaim(), nil)
	snap := agg.Snapshot()
	snap.LineItems[0].ICD10[0] = "Z00.00"
	snap.LineItems = nil

	again := agg.Snapshot()
	assert.Equal(t, "M54.50", again.LineItems[0].ICD10[0])
	assert.Len(t, again.LineItems, 2)
}

// Random mutation sequences never leave duplicate line numbers or finding
// ids behind, and rejected mutations leave the claim untouched.
func TestAggregate_RandomSequencesKeepIdentityUnique(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	agg := NewAggregate(baseClaim(), nil)
	ids := []string{"a", "b", "c", "d"}

	for i := 0; i < 2000; i++ {
		var m Mutation
		switch rng.Intn(6) {
		case 0:
			m = Mutation{Action: ActionAddLineItem, LineItem: ptr(line(1+rng.Intn(6), "99213", "R51.9"))}
		case 1:
			m = Mutation{Action: ActionRemoveLineItem, LineNumber: intPtr(1 + rng.Intn(6))}
		case 2:
			u := rng.Intn(4)
			m = Mutation{Action: ActionUpdateLineItem, LineNumber: intPtr(1 + rng.Intn(6)), Patch: &LineItemPatch{Units: &u}}
		case 3:
			f := domain.Finding{ID: ids[rng.Intn(len(ids))], Severity: domain.SeverityWarning, Title: "w"}
			m = Mutation{Action: ActionAddFinding, Finding: &f}
		case 4:
			m = Mutation{Action: ActionResolveFinding, FindingID: ids[rng.Intn(len(ids))], Reason: "ok"}
		case 5:
			m = Mutation{Action: ActionSetRiskScore, RiskScore: intPtr(rng.Intn(120) - 10)}
		}

		before := agg.Snapshot()
		_, err := agg.Apply(m)
		after := agg.Snapshot()
		if err != nil {
			if diff := cmp.Diff(before, after); diff != "" {
				t.Fatalf("step %d: rejected %s mutated the claim:\n%s", i, m.Action, diff)
			}
		}

		seenLines := map[int]bool{}
		for _, li := range after.LineItems {
			if seenLines[li.LineNumber] {
				t.Fatalf("step %d: duplicate line number %d", i, li.LineNumber)
			}
			seenLines[li.LineNumber] = true
		}
		seenIDs := map[string]bool{}
		for _, f := range after.Findings {
			if seenIDs[f.ID] {
				t.Fatalf("step %d: duplicate finding id %q", i, f.ID)
			}
			seenIDs[f.ID] = true
		}
		if after.RiskScore < 0 || after.RiskScore > 100 {
			t.Fatalf("step %d: risk score %d out of range", i, after.RiskScore)
		}
	}
}

func ptr[T any](v T) *T { return &v }
