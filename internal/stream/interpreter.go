// Package stream reconstructs narration, tool lifecycle signals and complete
// tool invocations from an agent turn's message stream.
package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firstclaim/claim-engine/internal/agent"
)

// ToolUse is a fully-formed tool invocation taken from a consolidated
// message.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Callbacks receive interpreter output. Nil callbacks are skipped.
type Callbacks struct {
	OnText        func(text string)
	OnToolStart   func(name string)
	OnToolPreview func(name, preview string)
	OnToolUse     func(use ToolUse)
	OnError       func(message string)
}

// Interpreter consumes one turn's messages in order. It is not safe for
// concurrent use.
type Interpreter struct {
	cb Callbacks

	narration strings.Builder
	streamed  map[string]bool

	inTool      bool
	toolName    string
	args        strings.Builder
	lastPreview string

	handle  string
	done    bool
	failure string
	usage   agent.Usage
}

// New returns an interpreter wired to cb.
func New(cb Callbacks) *Interpreter {
	return &Interpreter{cb: cb, streamed: make(map[string]bool)}
}

// Process handles one message and reports whether the stream is finished.
// Messages after the terminal one are ignored.
func (in *Interpreter) Process(m agent.Message) bool {
	if in.done {
		return true
	}
	switch m.Kind {
	case agent.KindInit:
		if m.Handle != "" {
			in.handle = m.Handle
		}
	case agent.KindBlockStart:
		in.inTool = true
		in.toolName = ToolName(m.ToolName)
		in.args.Reset()
		in.lastPreview = ""
		if in.cb.OnToolStart != nil {
			in.cb.OnToolStart(in.toolName)
		}
	case agent.KindPartial:
		in.partial(m)
	case agent.KindBlockStop:
		in.inTool = false
		in.toolName = ""
		in.args.Reset()
		in.lastPreview = ""
	case agent.KindConsolidated:
		in.consolidated(m)
	case agent.KindTerminal:
		in.done = true
		in.usage = m.Usage
		if m.Outcome != agent.OutcomeSuccess {
			reason := strings.Join(m.Errors, "; ")
			if reason == "" {
				reason = "unknown error"
			}
			in.failure = fmt.Sprintf("Agent stopped (%s): %s", m.Outcome, reason)
			if in.cb.OnError != nil {
				in.cb.OnError(in.failure)
			}
		}
	}
	return in.done
}

func (in *Interpreter) partial(m agent.Message) {
	if m.TextDelta != "" && !in.inTool {
		in.narration.WriteString(m.TextDelta)
		in.streamed[m.ID] = true
		if in.cb.OnText != nil {
			in.cb.OnText(m.TextDelta)
		}
	}
	if m.ArgDelta != "" && in.inTool {
		in.args.WriteString(m.ArgDelta)
		p := Preview(in.args.String())
		if p != "" && p != in.lastPreview {
			in.lastPreview = p
			if in.cb.OnToolPreview != nil {
				in.cb.OnToolPreview(in.toolName, p)
			}
		}
	}
}

// consolidated appends text unless fragments were streamed under the same
// message id, and hands out every tool invocation. Only partial marks an id
// as streamed, so a message split across several consolidated events keeps
// all of its text.
func (in *Interpreter) consolidated(m agent.Message) {
	captured := in.streamed[m.ID]
	for _, b := range m.Blocks {
		switch b.Type {
		case agent.BlockText:
			if captured || b.Text == "" {
				continue
			}
			in.narration.WriteString(b.Text)
			if in.cb.OnText != nil {
				in.cb.OnText(b.Text)
			}
		case agent.BlockToolUse:
			if in.cb.OnToolUse != nil {
				in.cb.OnToolUse(ToolUse{ID: b.ToolUseID, Name: ToolName(b.Name), Input: b.Input})
			}
		}
	}
}

// Narration returns the accumulated narrative text.
func (in *Interpreter) Narration() string {
	return in.narration.String()
}

// Handle returns the resumable session handle reported by the agent.
func (in *Interpreter) Handle() string {
	return in.handle
}

// Done reports whether a terminal message was seen.
func (in *Interpreter) Done() bool {
	return in.done
}

// Failure returns the failure reason of a non-success terminal message.
func (in *Interpreter) Failure() string {
	return in.failure
}

// Usage returns the usage reported with the terminal message.
func (in *Interpreter) Usage() agent.Usage {
	return in.usage
}

// ToolName strips an "mcp__<server>__" namespace from a tool name.
func ToolName(name string) string {
	if !strings.HasPrefix(name, "mcp__") {
		return name
	}
	rest := name[len("mcp__"):]
	if i := strings.Index(rest, "__"); i >= 0 {
		return rest[i+2:]
	}
	return name
}
