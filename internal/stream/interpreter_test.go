package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firstclaim/claim-engine/internal/agent"
)

type recorder struct {
	texts    []string
	starts   []string
	previews []string
	uses     []ToolUse
	errors   []string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnText:        func(s string) { r.texts = append(r.texts, s) },
		OnToolStart:   func(n string) { r.starts = append(r.starts, n) },
		OnToolPreview: func(n, p string) { r.previews = append(r.previews, n+":"+p) },
		OnToolUse:     func(u ToolUse) { r.uses = append(r.uses, u) },
		OnError:       func(m string) { r.errors = append(r.errors, m) },
	}
}

func feed(in *Interpreter, msgs ...agent.Message) bool {
	done := false
	for _, m := range msgs {
		done = in.Process(m)
	}
	return done
}

func TestInterpreter_PreviewThenAuthoritativeArgs(t *testing.T) {
	var rec recorder
	in := New(rec.callbacks())

	done := feed(in,
		agent.Message{Kind: agent.KindInit, Handle: "sess-1"},
		agent.Message{Kind: agent.KindBlockStart, ToolName: "mcp__billing__search_icd10"},
		agent.Message{Kind: agent.KindPartial, ID: "m1", ArgDelta: `{"query":"bac`},
		agent.Message{Kind: agent.KindPartial, ID: "m1", ArgDelta: `k pain"}`},
		agent.Message{Kind: agent.KindBlockStop},
		agent.Message{Kind: agent.KindConsolidated, ID: "m1", Blocks: []agent.Block{
			{Type: agent.BlockToolUse, ToolUseID: "tu_1", Name: "mcp__billing__search_icd10", Input: json.RawMessage(`{"query":"back pain"}`)},
		}},
	)
	assert.False(t, done)

	assert.Equal(t, "sess-1", in.Handle())
	assert.Equal(t, []string{"search_icd10"}, rec.starts)
	assert.Equal(t, []string{"search_icd10:bac", "search_icd10:back pain"}, rec.previews)
	require.Len(t, rec.uses, 1)
	assert.Equal(t, "search_icd10", rec.uses[0].Name)
	assert.Equal(t, "tu_1", rec.uses[0].ID)
	assert.JSONEq(t, `{"query":"back pain"}`, string(rec.uses[0].Input))
}

func TestInterpreter_PreviewFiresOnlyOnChange(t *testing.T) {
	var rec recorder
	in := New(rec.callbacks())

	feed(in,
		agent.Message{Kind: agent.KindBlockStart, ToolName: "update_claim"},
		agent.Message{Kind: agent.KindPartial, ArgDelta: `{"action":"set"`},
		agent.Message{Kind: agent.KindPartial, ArgDelta: `,"claim":{"claimId":"C1"`},
		agent.Message{Kind: agent.KindPartial, ArgDelta: `not json at all`},
	)
	assert.Equal(t, []string{"update_claim:set"}, rec.previews)
}

func TestInterpreter_ArgBufferResetsOnBoundary(t *testing.T) {
	var rec recorder
	in := New(rec.callbacks())

	feed(in,
		agent.Message{Kind: agent.KindBlockStart, ToolName: "lookup_icd10"},
		agent.Message{Kind: agent.KindPartial, ArgDelta: `{"code":"M54`},
		agent.Message{Kind: agent.KindBlockStop},
		agent.Message{Kind: agent.KindBlockStart, ToolName: "lookup_icd10"},
		agent.Message{Kind: agent.KindPartial, ArgDelta: `{"code":"R51`},
		// Argument fragments outside a tool block are ignored.
		agent.Message{Kind: agent.KindBlockStop},
		agent.Message{Kind: agent.KindPartial, ArgDelta: `{"code":"Z00`},
	)
	assert.Equal(t, []string{"lookup_icd10:M54", "lookup_icd10:R51"}, rec.previews)
}

func TestInterpreter_TextDeduplication(t *testing.T) {
	var rec recorder
	in := New(rec.callbacks())

	consolidated := agent.Message{Kind: agent.KindConsolidated, ID: "m1", Blocks: []agent.Block{{Type: agent.BlockText, Text: "Coding the visit."}}}
	feed(in,
		agent.Message{Kind: agent.KindPartial, ID: "m1", TextDelta: "Coding "},
		agent.Message{Kind: agent.KindPartial, ID: "m1", TextDelta: "the visit."},
		consolidated,
		consolidated,
	)
	assert.Equal(t, "Coding the visit.", in.Narration())
	assert.Equal(t, []string{"Coding ", "the visit."}, rec.texts)
}

func TestInterpreter_UnstreamedTextIsAppended(t *testing.T) {
	var rec recorder
	in := New(rec.callbacks())

	feed(in,
		agent.Message{Kind: agent.KindPartial, ID: "m1", TextDelta: "First."},
		agent.Message{Kind: agent.KindConsolidated, ID: "m1", Blocks: []agent.Block{{Type: agent.BlockText, Text: "First."}}},
		agent.Message{Kind: agent.KindConsolidated, ID: "m2", Blocks: []agent.Block{{Type: agent.BlockText, Text: " Second."}}},
	)
	assert.Equal(t, "First. Second.", in.Narration())
	assert.Equal(t, []string{"First.", " Second."}, rec.texts)
}

func TestInterpreter_SplitConsolidatedMessageKeepsAllText(t *testing.T) {
	var rec recorder
	in := New(rec.callbacks())

	feed(in,
		agent.Message{Kind: agent.KindConsolidated, ID: "msg_1", Blocks: []agent.Block{{Type: agent.BlockText, Text: "Coding the visit. "}}},
		agent.Message{Kind: agent.KindConsolidated, ID: "msg_1", Blocks: []agent.Block{
			{Type: agent.BlockToolUse, ToolUseID: "tu_1", Name: "mcp__billing__search_icd10", Input: json.RawMessage(`{"query":"back pain"}`)},
		}},
		agent.Message{Kind: agent.KindConsolidated, ID: "msg_1", Blocks: []agent.Block{{Type: agent.BlockText, Text: "Done."}}},
	)
	assert.Equal(t, "Coding the visit. Done.", in.Narration())
	assert.Equal(t, []string{"Coding the visit. ", "Done."}, rec.texts)
	require.Len(t, rec.uses, 1)
	assert.Equal(t, "search_icd10", rec.uses[0].Name)
}

func TestInterpreter_TextInsideToolBlockIgnored(t *testing.T) {
	in := New(Callbacks{})
	feed(in,
		agent.Message{Kind: agent.KindBlockStart, ToolName: "search_icd10"},
		agent.Message{Kind: agent.KindPartial, TextDelta: "stray"},
		agent.Message{Kind: agent.KindBlockStop},
		agent.Message{Kind: agent.KindPartial, TextDelta: "kept"},
	)
	assert.Equal(t, "kept", in.Narration())
}

func TestInterpreter_Terminal(t *testing.T) {
	tests := []struct {
		name        string
		msg         agent.Message
		wantFailure string
	}{
		{"success", agent.Message{Kind: agent.KindTerminal, Outcome: agent.OutcomeSuccess}, ""},
		{"max_turns", agent.Message{Kind: agent.KindTerminal, Outcome: agent.OutcomeMaxSteps, Errors: []string{"a", "b"}}, "Agent stopped (error_max_turns): a; b"},
		{"no_reason", agent.Message{Kind: agent.KindTerminal, Outcome: agent.OutcomeError}, "Agent stopped (error_during_execution): unknown error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec recorder
			in := New(rec.callbacks())
			assert.True(t, in.Process(tt.msg))
			assert.Equal(t, tt.wantFailure, in.Failure())
			if tt.wantFailure == "" {
				assert.Empty(t, rec.errors)
			} else {
				assert.Equal(t, []string{tt.wantFailure}, rec.errors)
			}

			// Nothing after the terminal message is processed.
			assert.True(t, in.Process(agent.Message{Kind: agent.KindPartial, TextDelta: "late"}))
			assert.Empty(t, in.Narration())
		})
	}
}

func TestToolName(t *testing.T) {
	assert.Equal(t, "update_claim", ToolName("mcp__billing__update_claim"))
	assert.Equal(t, "update_claim", ToolName("update_claim"))
	assert.Equal(t, "mcp__odd", ToolName("mcp__odd"))
}

func TestPreview(t *testing.T) {
	tests := map[string]string{
		`{"query": "chest pa`:                 "chest pa",
		`{"code":"M54.5","query":""}`:         "M54.5",
		`{"action":"add_finding","finding":{`: "add_finding",
		`{"query":"`:                          "",
		`{"highlights":[`:                     "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Preview(in), in)
	}
}
