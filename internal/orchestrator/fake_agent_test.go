package orchestrator

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/firstclaim/claim-engine/internal/agent"
)

// scriptedAgent replays a fixed message script for every turn it starts.
type scriptedAgent struct {
	script   []agent.Message
	hold     bool  // keep the stream open after the script until Close
	err      error // reported by Err when the script ends without a terminal message
	startErr error

	mu       sync.Mutex
	requests []agent.TurnRequest
	turns    []*scriptedTurn
}

func (a *scriptedAgent) Name() string { return "scripted" }

func (a *scriptedAgent) StartTurn(ctx context.Context, req agent.TurnRequest) (agent.Turn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	if a.startErr != nil {
		return nil, a.startErr
	}
	t := newScriptedTurn(ctx, a.script, a.hold, a.err)
	a.turns = append(a.turns, t)
	return t, nil
}

func (a *scriptedAgent) started() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

type scriptedTurn struct {
	msgs   chan agent.Message
	closed chan struct{}
	exited chan struct{}
	once   sync.Once
	err    error

	mu        sync.Mutex
	submitted [][]agent.ToolResult
}

func newScriptedTurn(ctx context.Context, script []agent.Message, hold bool, err error) *scriptedTurn {
	t := &scriptedTurn{
		msgs:   make(chan agent.Message),
		closed: make(chan struct{}),
		exited: make(chan struct{}),
		err:    err,
	}
	go func() {
		defer close(t.exited)
		defer close(t.msgs)
		for _, m := range script {
			select {
			case t.msgs <- m:
			case <-ctx.Done():
				return
			case <-t.closed:
				return
			}
		}
		if hold {
			select {
			case <-ctx.Done():
			case <-t.closed:
			}
		}
	}()
	return t
}

func (t *scriptedTurn) Messages() <-chan agent.Message { return t.msgs }

func (t *scriptedTurn) SubmitToolResults(_ context.Context, results []agent.ToolResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.submitted = append(t.submitted, results)
	return nil
}

func (t *scriptedTurn) Err() error { return t.err }

func (t *scriptedTurn) Close() error {
	t.once.Do(func() { close(t.closed) })
	<-t.exited
	return nil
}

func (t *scriptedTurn) results() [][]agent.ToolResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]agent.ToolResult(nil), t.submitted...)
}

// Script builders.

func initMsg(handle string) agent.Message {
	return agent.Message{Kind: agent.KindInit, Handle: handle}
}

func textDelta(id, text string) agent.Message {
	return agent.Message{Kind: agent.KindPartial, ID: id, TextDelta: text}
}

func argDelta(id, frag string) agent.Message {
	return agent.Message{Kind: agent.KindPartial, ID: id, ArgDelta: frag}
}

func blockStart(tool string) agent.Message {
	return agent.Message{Kind: agent.KindBlockStart, ToolName: tool}
}

func blockStop() agent.Message {
	return agent.Message{Kind: agent.KindBlockStop}
}

func consolidated(id string, blocks ...agent.Block) agent.Message {
	return agent.Message{Kind: agent.KindConsolidated, ID: id, Blocks: blocks}
}

func textBlock(text string) agent.Block {
	return agent.Block{Type: agent.BlockText, Text: text}
}

func toolUse(id, name, input string) agent.Block {
	return agent.Block{Type: agent.BlockToolUse, ToolUseID: id, Name: name, Input: json.RawMessage(input)}
}

func success(costUSD float64) agent.Message {
	return agent.Message{
		Kind:    agent.KindTerminal,
		Outcome: agent.OutcomeSuccess,
		Usage:   agent.Usage{InputTokens: 1200, OutputTokens: 300, CostUSD: costUSD},
	}
}

func failure(outcome string, errs ...string) agent.Message {
	return agent.Message{
		Kind:    agent.KindTerminal,
		Outcome: outcome,
		Errors:  errs,
		Usage:   agent.Usage{InputTokens: 10, OutputTokens: 5, CostUSD: 0.01},
	}
}
