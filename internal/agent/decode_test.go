package agent

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamDecoder_Decode(t *testing.T) {
	var dec streamDecoder

	tests := []struct {
		name string
		line string
		want []Message
	}{
		{
			name: "init",
			line: `{"type":"system","subtype":"init","session_id":"sess-9"}`,
			want: []Message{{Kind: KindInit, Handle: "sess-9"}},
		},
		{
			name: "message_start_sets_id",
			line: `{"type":"stream_event","event":{"type":"message_start","message":{"id":"msg_1"}}}`,
		},
		{
			name: "text_delta",
			line: `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}}`,
			want: []Message{{Kind: KindPartial, ID: "msg_1", TextDelta: "Hi"}},
		},
		{
			name: "text_block_start_ignored",
			line: `{"type":"stream_event","event":{"type":"content_block_start","content_block":{"type":"text","text":""}}}`,
		},
		{
			name: "tool_block_start",
			line: `{"type":"stream_event","event":{"type":"content_block_start","content_block":{"type":"tool_use","id":"tu_1","name":"mcp__billing__search_icd10","input":{}}}}`,
			want: []Message{{Kind: KindBlockStart, ToolName: "mcp__billing__search_icd10"}},
		},
		{
			name: "arg_delta",
			line: `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"query\":\"ba"}}}`,
			want: []Message{{Kind: KindPartial, ID: "msg_1", ArgDelta: `{"query":"ba`}},
		},
		{
			name: "block_stop",
			line: `{"type":"stream_event","event":{"type":"content_block_stop","index":1}}`,
			want: []Message{{Kind: KindBlockStop}},
		},
		{
			name: "assistant",
			line: `{"type":"assistant","uuid":"u-1","message":{"id":"msg_1","content":[{"type":"text","text":"Hi"},{"type":"tool_use","id":"tu_1","name":"search_icd10","input":{"query":"back pain"}}]}}`,
			want: []Message{{Kind: KindConsolidated, ID: "msg_1", Blocks: []Block{
				{Type: BlockText, Text: "Hi"},
				{Type: BlockToolUse, ToolUseID: "tu_1", Name: "search_icd10", Input: json.RawMessage(`{"query":"back pain"}`)},
			}}},
		},
		{
			name: "assistant_without_message_id_uses_uuid",
			line: `{"type":"assistant","uuid":"u-2","message":{"content":"plain"}}`,
			want: []Message{{Kind: KindConsolidated, ID: "u-2", Blocks: []Block{{Type: BlockText, Text: "plain"}}}},
		},
		{
			name: "result_success",
			line: `{"type":"result","subtype":"success","total_cost_usd":0.5,"usage":{"input_tokens":12,"output_tokens":3}}`,
			want: []Message{{Kind: KindTerminal, Outcome: OutcomeSuccess, Usage: Usage{InputTokens: 12, OutputTokens: 3, CostUSD: 0.5}}},
		},
		{
			name: "result_failure",
			line: `{"type":"result","subtype":"error_max_turns","errors":["too many turns"]}`,
			want: []Message{{Kind: KindTerminal, Outcome: OutcomeMaxSteps, Errors: []string{"too many turns"}}},
		},
		{
			name: "user_echo_ignored",
			line: `{"type":"user","message":{"role":"user","content":"x"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dec.decode([]byte(tt.line))
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("decode mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStreamDecoder_Errors(t *testing.T) {
	var dec streamDecoder
	_, err := dec.decode([]byte(`not json`))
	assert.Error(t, err)
	_, err = dec.decode([]byte(`{"subtype":"init"}`))
	assert.Error(t, err)
}

func TestEncodeToolResults(t *testing.T) {
	line, err := encodeToolResults([]ToolResult{{ToolUseID: "tu_1", Content: "ok"}, {ToolUseID: "tu_2", Content: "bad", IsError: true}})
	require.NoError(t, err)

	var got struct {
		Type    string `json:"type"`
		Message struct {
			Role    string `json:"role"`
			Content []struct {
				Type      string `json:"type"`
				ToolUseID string `json:"tool_use_id"`
				Content   string `json:"content"`
				IsError   bool   `json:"is_error"`
			} `json:"content"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(line, &got))
	assert.Equal(t, "user", got.Type)
	require.Len(t, got.Message.Content, 2)
	assert.Equal(t, "tool_result", got.Message.Content[0].Type)
	assert.Equal(t, "tu_2", got.Message.Content[1].ToolUseID)
	assert.True(t, got.Message.Content[1].IsError)
}
