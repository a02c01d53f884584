package agent

import (
	"encoding/json"
	"fmt"
)

// streamDecoder turns stream-json lines into protocol messages. It tracks
// the id of the message currently being streamed so partial text can be
// matched with its consolidated form.
type streamDecoder struct {
	currentID string
}

type rawLine struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype"`
	Session string          `json:"session_id"`
	UUID    string          `json:"uuid"`
	Event   *rawStreamEvent `json:"event"`
	Message *rawMessage     `json:"message"`
	Errors  []string        `json:"errors"`
	Result  string          `json:"result"`
	CostUSD float64         `json:"total_cost_usd"`
	Usage   *rawUsage       `json:"usage"`
}

type rawStreamEvent struct {
	Type         string      `json:"type"`
	Message      *rawMessage `json:"message"`
	ContentBlock *Block      `json:"content_block"`
	Delta        *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

type rawMessage struct {
	ID      string          `json:"id"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type rawUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// decode parses one line. Lines that carry nothing the interpreter needs
// yield no message and no error.
func (d *streamDecoder) decode(line []byte) ([]Message, error) {
	var raw rawLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, err
	}
	if raw.Type == "" {
		return nil, fmt.Errorf("stream line has no type field")
	}

	switch raw.Type {
	case "system":
		if raw.Subtype == "init" {
			return []Message{{Kind: KindInit, Handle: raw.Session}}, nil
		}
	case "stream_event":
		return d.decodeStreamEvent(raw.Event), nil
	case "assistant":
		return d.decodeAssistant(raw)
	case "result":
		m := Message{Kind: KindTerminal, Outcome: raw.Subtype, Errors: raw.Errors}
		if m.Outcome == "" {
			m.Outcome = OutcomeError
		}
		if m.Outcome != OutcomeSuccess && len(m.Errors) == 0 && raw.Result != "" {
			m.Errors = []string{raw.Result}
		}
		m.Usage.CostUSD = raw.CostUSD
		if raw.Usage != nil {
			m.Usage.InputTokens = raw.Usage.InputTokens
			m.Usage.OutputTokens = raw.Usage.OutputTokens
		}
		return []Message{m}, nil
	}
	return nil, nil
}

func (d *streamDecoder) decodeStreamEvent(ev *rawStreamEvent) []Message {
	if ev == nil {
		return nil
	}
	switch ev.Type {
	case "message_start":
		if ev.Message != nil {
			d.currentID = ev.Message.ID
		}
	case "content_block_start":
		if ev.ContentBlock != nil && ev.ContentBlock.Type == BlockToolUse {
			return []Message{{Kind: KindBlockStart, ToolName: ev.ContentBlock.Name}}
		}
	case "content_block_delta":
		if ev.Delta == nil {
			return nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			return []Message{{Kind: KindPartial, ID: d.currentID, TextDelta: ev.Delta.Text}}
		case "input_json_delta":
			return []Message{{Kind: KindPartial, ID: d.currentID, ArgDelta: ev.Delta.PartialJSON}}
		}
	case "content_block_stop":
		return []Message{{Kind: KindBlockStop}}
	}
	return nil
}

func (d *streamDecoder) decodeAssistant(raw rawLine) ([]Message, error) {
	if raw.Message == nil {
		return nil, nil
	}
	id := raw.Message.ID
	if id == "" {
		id = raw.UUID
	}
	var blocks []Block
	if len(raw.Message.Content) > 0 && raw.Message.Content[0] == '"' {
		var text string
		if err := json.Unmarshal(raw.Message.Content, &text); err != nil {
			return nil, err
		}
		blocks = []Block{{Type: BlockText, Text: text}}
	} else if len(raw.Message.Content) > 0 {
		if err := json.Unmarshal(raw.Message.Content, &blocks); err != nil {
			return nil, fmt.Errorf("decode assistant content: %w", err)
		}
	}
	return []Message{{Kind: KindConsolidated, ID: id, Blocks: blocks}}, nil
}

// encodeControl renders the first line written to a process agent.
func encodeControl(req TurnRequest) ([]byte, error) {
	return json.Marshal(struct {
		Type         string     `json:"type"`
		Subtype      string     `json:"subtype"`
		SystemPrompt string     `json:"system_prompt,omitempty"`
		Tools        []ToolSpec `json:"tools"`
		Resume       string     `json:"resume,omitempty"`
		MaxTurns     int        `json:"max_turns,omitempty"`
	}{"control", "initialize", req.SystemPrompt, req.Tools, req.ResumeHandle, req.MaxSteps})
}

type userLine struct {
	Type    string `json:"type"`
	Message struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"message"`
}

func encodePrompt(prompt string) ([]byte, error) {
	var u userLine
	u.Type = "user"
	u.Message.Role = "user"
	u.Message.Content = prompt
	return json.Marshal(u)
}

func encodeToolResults(results []ToolResult) ([]byte, error) {
	type resultBlock struct {
		Type string `json:"type"`
		ToolResult
	}
	blocks := make([]resultBlock, len(results))
	for i, r := range results {
		blocks[i] = resultBlock{Type: "tool_result", ToolResult: r}
	}
	var u userLine
	u.Type = "user"
	u.Message.Role = "user"
	u.Message.Content = blocks
	return json.Marshal(u)
}
