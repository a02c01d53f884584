package tools

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/firstclaim/claim-engine/internal/claim"
	"github.com/firstclaim/claim-engine/internal/domain"
	"github.com/firstclaim/claim-engine/internal/stream"
)

// barrierLookup blocks each search until want searches are in flight, so a
// batch only finishes promptly when lookups overlap.
type barrierLookup struct {
	fakeLookup
	want     int32
	inflight atomic.Int32
	release  chan struct{}
	once     sync.Once
	overlap  atomic.Bool
}

func (b *barrierLookup) Search(ctx context.Context, query string, billableOnly bool, limit int) ([]domain.ReferenceCode, error) {
	if b.inflight.Add(1) >= b.want {
		b.overlap.Store(true)
		b.once.Do(func() { close(b.release) })
	}
	select {
	case <-b.release:
	case <-time.After(2 * time.Second):
	}
	return filterCodes(b.codes, query, billableOnly), nil
}

func use(id, name, input string) stream.ToolUse {
	return stream.ToolUse{ID: id, Name: name, Input: json.RawMessage(input)}
}

func TestExecutor_ReadOnlyToolsOverlap(t *testing.T) {
	lookup := &barrierLookup{fakeLookup: *testLookup(), want: 2, release: make(chan struct{})}
	exec := NewExecutor(NewCatalogue(lookup, 0), NewTurnState(claim.NewAggregate(nil, nil)), zap.NewNop())

	results, err := exec.RunBatch(context.Background(), []stream.ToolUse{
		use("t1", SearchICD10, `{"query":"back pain"}`),
		use("t2", SearchICD10, `{"query":"cervicalgia"}`),
	})
	require.NoError(t, err)
	assert.True(t, lookup.overlap.Load(), "read-only searches did not run concurrently")
	require.Len(t, results, 2)
	assert.Equal(t, "1 result: M54.50", results[0].Summary)
	assert.Equal(t, "1 result: M54.2", results[1].Summary)
}

func TestExecutor_WritersRunInOrder(t *testing.T) {
	var actions []claim.Action
	agg := claim.NewAggregate(nil, func(ch claim.Change) { actions = append(actions, ch.Action) })
	exec := NewExecutor(NewCatalogue(testLookup(), 0), NewTurnState(agg), nil)

	setClaim := `{"action":"set","claim":{"claimId":"C1","dateOfService":"2026-01-05","patient":{"sex":"F","age":52},"lineItems":[],"riskScore":0,"findings":[]}}`
	results, err := exec.RunBatch(context.Background(), []stream.ToolUse{
		use("t1", UpdateClaim, setClaim),
		use("t2", LookupICD10, `{"code":"M54.2"}`),
		use("t3", UpdateClaim, `{"action":"add_line_item","line_item":{"lineNumber":1,"cpt":"77067","icd10":["Z12.31"]}}`),
		use("t4", UpdateClaim, `{"action":"add_line_item","line_item":{"lineNumber":1,"cpt":"99213","icd10":["R51.9"]}}`),
		use("t5", "delete_everything", `{}`),
		use("t6", UpdateClaim, `{"action":"set_risk_score","risk_score":5}`),
	})
	require.NoError(t, err)
	require.Len(t, results, 6)

	assert.False(t, results[0].IsError)
	assert.Equal(t, "M54.2 - Cervicalgia [billable: true]", results[1].Summary)
	assert.False(t, results[2].IsError)
	assert.True(t, results[3].IsError)
	assert.Contains(t, results[3].Text, "line number 1 is already in use")
	assert.True(t, results[4].IsError)
	assert.Equal(t, `Error: unknown tool "delete_everything"`, results[4].Text)
	assert.Equal(t, "Claim updated (set_risk_score). Current state: 1 line items, 0 findings, risk score: 5", results[5].Text)

	assert.Equal(t, []claim.Action{claim.ActionSet, claim.ActionAddLineItem, claim.ActionSetRiskScore}, actions)
}

func TestExecutor_CancelledContext(t *testing.T) {
	exec := NewExecutor(NewCatalogue(testLookup(), 0), NewTurnState(claim.NewAggregate(nil, nil)), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.RunBatch(ctx, []stream.ToolUse{
		use("t1", UpdateClaim, `{"action":"set_risk_score","risk_score":5}`),
	})
	assert.ErrorIs(t, err, context.Canceled)
}
