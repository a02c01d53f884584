// Package agent abstracts the external reasoning agent behind a turn-based
// interface: start a turn with a prompt and a tool catalogue, pull an ordered
// message stream, feed tool results back, and abort through the context.
package agent

import (
	"context"
	"encoding/json"
)

// Kind tags a protocol message.
type Kind string

const (
	KindInit         Kind = "init"
	KindPartial      Kind = "partial"
	KindBlockStart   Kind = "block_start"
	KindBlockStop    Kind = "block_stop"
	KindConsolidated Kind = "consolidated"
	KindTerminal     Kind = "terminal"
)

// Terminal outcomes. Any value other than OutcomeSuccess is a failure.
const (
	OutcomeSuccess  = "success"
	OutcomeMaxSteps = "error_max_turns"
	OutcomeError    = "error_during_execution"
)

// Block is one content block of a consolidated message.
type Block struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ToolUseID string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}

const (
	BlockText    = "text"
	BlockToolUse = "tool_use"
)

// Usage is the token and cost accounting reported with a terminal message.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// Message is one protocol message. Which fields are set depends on Kind:
//
//	init:         Handle
//	partial:      ID plus TextDelta or ArgDelta
//	block_start:  ToolName
//	consolidated: ID, Blocks
//	terminal:     Outcome, Errors, Usage
type Message struct {
	Kind      Kind
	Handle    string
	ID        string
	TextDelta string
	ArgDelta  string
	ToolName  string
	Blocks    []Block
	Outcome   string
	Errors    []string
	Usage     Usage
}

// ToolSpec advertises one callable tool to the agent.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"input_schema"`
}

// ToolResult answers one tool_use block.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TurnRequest starts one turn.
type TurnRequest struct {
	SystemPrompt string
	Prompt       string
	Tools        []ToolSpec
	ResumeHandle string
	MaxSteps     int
}

// Turn is a running agent turn. Messages is closed after the terminal
// message, or early when the transport fails or the context ends; Err then
// reports why.
type Turn interface {
	Messages() <-chan Message
	SubmitToolResults(ctx context.Context, results []ToolResult) error
	Err() error
	Close() error
}

// Agent starts turns.
type Agent interface {
	Name() string
	StartTurn(ctx context.Context, req TurnRequest) (Turn, error)
}
