package tools

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/firstclaim/claim-engine/internal/stream"
)

// maxConcurrentLookups bounds read-only tools running at once.
const maxConcurrentLookups = 4

// Executor runs batches of tool invocations against one turn's state.
type Executor struct {
	Registry *Registry
	State    *TurnState
	Logger   *zap.Logger
}

// NewExecutor creates an executor. A nil logger is replaced with a no-op one.
func NewExecutor(reg *Registry, st *TurnState, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{Registry: reg, State: st, Logger: logger}
}

// RunBatch executes the invocations of one consolidated message and returns
// their results in invocation order. Read-only tools run concurrently; all
// other tools run one at a time on the calling goroutine in receipt order.
// Tool failures become error results. Only cancellation returns an error.
func (e *Executor) RunBatch(ctx context.Context, calls []stream.ToolUse) ([]Result, error) {
	results := make([]Result, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	var writers []int
	for i, call := range calls {
		t := e.Registry.Get(call.Name)
		if t == nil || !t.ReadOnly {
			writers = append(writers, i)
			continue
		}
		g.Go(func() error {
			results[i] = e.run(gctx, t, call)
			return gctx.Err()
		})
	}

	for _, i := range writers {
		if err := ctx.Err(); err != nil {
			g.Wait()
			return nil, err
		}
		t := e.Registry.Get(calls[i].Name)
		if t == nil {
			msg := fmt.Sprintf("Error: unknown tool %q", calls[i].Name)
			results[i] = Result{Text: msg, Summary: msg, IsError: true}
			e.Logger.Warn("unknown tool", zap.String("tool", calls[i].Name))
			continue
		}
		results[i] = e.run(ctx, t, calls[i])
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Executor) run(ctx context.Context, t *Tool, call stream.ToolUse) Result {
	res, err := t.Execute(ctx, e.State, call.Input)
	if err != nil {
		msg := errorText(err)
		e.Logger.Debug("tool rejected",
			zap.String("tool", t.Name),
			zap.String("tool_use_id", call.ID),
			zap.Error(err),
		)
		return Result{Text: msg, Summary: msg, IsError: true}
	}
	e.Logger.Debug("tool completed", zap.String("tool", t.Name), zap.String("tool_use_id", call.ID))
	return res
}
