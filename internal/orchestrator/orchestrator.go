// Package orchestrator runs analysis and chat turns end to end: it loads or
// creates the session, drives one agent turn through the stream interpreter
// and the tool layer, and persists the outcome before reporting completion.
package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/firstclaim/claim-engine/internal/agent"
	"github.com/firstclaim/claim-engine/internal/claim"
	"github.com/firstclaim/claim-engine/internal/domain"
	"github.com/firstclaim/claim-engine/internal/guard"
	"github.com/firstclaim/claim-engine/internal/store"
	"github.com/firstclaim/claim-engine/internal/stream"
	"github.com/firstclaim/claim-engine/internal/tools"
	"github.com/firstclaim/claim-engine/internal/workflow"
)

// Sink receives the ordered events of one turn. Emit is called from a single
// goroutine.
type Sink interface {
	Emit(ev domain.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(domain.Event)

// Emit calls f(ev).
func (f SinkFunc) Emit(ev domain.Event) { f(ev) }

// PatientHints are optional demographics supplied with an analysis request.
type PatientHints struct {
	Sex domain.Sex
	Age *int
}

// AnalysisRequest starts a new session from clinical notes.
type AnalysisRequest struct {
	SourceText string
	Patient    PatientHints
	CallerID   string
}

// ChatRequest continues an existing session.
type ChatRequest struct {
	SessionID string
	Message   string
	CallerID  string
}

// Config holds per-turn agent settings.
type Config struct {
	AnalysisSystemPrompt string
	ChatSystemPrompt     string
	AnalysisMaxSteps     int
	ChatMaxSteps         int
}

type turnKind string

const (
	kindAnalysis turnKind = "analysis"
	kindChat     turnKind = "chat"
)

// Orchestrator coordinates sessions, the agent, and the tool catalogue.
type Orchestrator struct {
	DB     *sql.DB
	Agent  agent.Agent
	Tools  *tools.Registry
	Guard  *guard.Guard
	Config Config
	Logger *zap.Logger
	Now    func() time.Time

	Sessions  *store.SessionRepo
	Messages  *store.MessageRepo
	Snapshots *store.SnapshotRepo
	Audit     *store.AuditRepo
	Costs     *store.CostDeltaRepo

	// busy holds the ids of sessions with a turn in flight.
	busy sync.Map
}

// New creates an Orchestrator. g may be nil to skip admission checks.
func New(db *sql.DB, ag agent.Agent, reg *tools.Registry, g *guard.Guard, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.AnalysisSystemPrompt == "" {
		cfg.AnalysisSystemPrompt = DefaultAnalysisSystemPrompt
	}
	if cfg.ChatSystemPrompt == "" {
		cfg.ChatSystemPrompt = DefaultChatSystemPrompt
	}
	if cfg.AnalysisMaxSteps <= 0 {
		cfg.AnalysisMaxSteps = 100
	}
	if cfg.ChatMaxSteps <= 0 {
		cfg.ChatMaxSteps = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		DB:        db,
		Agent:     ag,
		Tools:     reg,
		Guard:     g,
		Config:    cfg,
		Logger:    logger,
		Now:       time.Now,
		Sessions:  &store.SessionRepo{},
		Messages:  &store.MessageRepo{},
		Snapshots: &store.SnapshotRepo{},
		Audit:     &store.AuditRepo{},
		Costs:     &store.CostDeltaRepo{},
	}
}

// turn is the per-request state of one agent turn.
type turn struct {
	kind        turnKind
	session     domain.Session
	userMessage string
	system      string
	prompt      string
	maxSteps    int
	tracker     *workflow.Tracker
	logger      *zap.Logger
}

// emitter forwards events to the sink until the caller's context ends.
type emitter struct {
	ctx  context.Context
	sink Sink
}

func (e *emitter) emit(ev domain.Event) {
	if e.ctx.Err() != nil || e.sink == nil {
		return
	}
	e.sink.Emit(ev)
}

// StartAnalysis creates a session for req and runs the first turn. It returns
// the session id once the turn has ended; the terminal event has then been
// emitted unless ctx was cancelled.
func (o *Orchestrator) StartAnalysis(ctx context.Context, req AnalysisRequest, sink Sink) (string, error) {
	em := &emitter{ctx: ctx, sink: sink}

	if strings.TrimSpace(req.SourceText) == "" {
		return "", o.reject(em, domain.ErrEmptyInput)
	}
	if o.Guard != nil {
		if err := o.Guard.CheckRateLimit(req.CallerID); err != nil {
			return "", o.reject(em, err)
		}
	}

	now := o.now()
	sess := domain.Session{
		ID:         uuid.NewString(),
		UserID:     req.CallerID,
		SourceText: req.SourceText,
		Status:     domain.SessionProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.Sessions.Upsert(ctx, o.DB, sess); err != nil {
		return "", o.reject(em, domain.WrapEngineError(domain.ErrSessionCreate.Code, "create session", err))
	}
	o.busy.Store(sess.ID, struct{}{})
	defer o.busy.Delete(sess.ID)

	logger := o.Logger.With(zap.String("session_id", sess.ID), zap.String("turn", string(kindAnalysis)))
	logger.Info("analysis started", zap.String("caller", req.CallerID))

	t := &turn{
		kind:     kindAnalysis,
		session:  sess,
		system:   o.Config.AnalysisSystemPrompt,
		prompt:   analysisPrompt(req.SourceText, req.Patient),
		maxSteps: o.Config.AnalysisMaxSteps,
		logger:   logger,
		tracker: workflow.NewTracker(func(s workflow.Stage, label string) {
			logger.Debug("stage changed", zap.Int("stage", int(s)))
			em.emit(domain.StageChanged(int(s), label))
		}),
	}
	t.tracker.Start()
	return sess.ID, o.run(ctx, em, t)
}

// ContinueChat runs one follow-up turn on an existing session owned by the
// caller.
func (o *Orchestrator) ContinueChat(ctx context.Context, req ChatRequest, sink Sink) error {
	em := &emitter{ctx: ctx, sink: sink}

	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return o.reject(em, domain.ErrEmptyInput)
	}
	sess, err := o.Sessions.GetByID(ctx, o.DB, req.SessionID)
	if err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			err = domain.WrapEngineError(domain.ErrStoreQuery.Code, "load session", err)
		}
		return o.reject(em, err)
	}
	if err := o.admit(ctx, sess, req.CallerID); err != nil {
		return o.reject(em, err)
	}
	if sess.Status == domain.SessionProcessing {
		return o.reject(em, domain.ErrSessionBusy)
	}
	if _, loaded := o.busy.LoadOrStore(sess.ID, struct{}{}); loaded {
		return o.reject(em, domain.ErrSessionBusy)
	}
	defer o.busy.Delete(sess.ID)

	prompt, err := chatPrompt(msg, sess.Claim, sess.SourceText)
	if err != nil {
		return o.reject(em, err)
	}

	logger := o.Logger.With(zap.String("session_id", sess.ID), zap.String("turn", string(kindChat)))
	logger.Info("chat started", zap.String("caller", req.CallerID))

	return o.run(ctx, em, &turn{
		kind:        kindChat,
		session:     *sess,
		userMessage: msg,
		system:      o.Config.ChatSystemPrompt,
		prompt:      prompt,
		maxSteps:    o.Config.ChatMaxSteps,
		logger:      logger,
	})
}

func (o *Orchestrator) admit(ctx context.Context, sess *domain.Session, callerID string) error {
	if o.Guard == nil {
		return guard.CheckOwner(sess, callerID)
	}
	action, err := o.Guard.CheckAll(ctx, sess, callerID)
	if err != nil {
		return err
	}
	if action == domain.CostWarn {
		o.Logger.Warn("session nearing budget", zap.String("session_id", sess.ID))
	}
	return nil
}

// run drives one agent turn to its end.
func (o *Orchestrator) run(ctx context.Context, em *emitter, t *turn) error {
	agg := claim.NewAggregate(t.session.Claim, func(ch claim.Change) {
		t.tracker.Mutated(string(ch.Action))
		for _, ev := range ch.Events() {
			em.emit(ev)
		}
	})
	state := tools.NewTurnState(agg)
	exec := tools.NewExecutor(o.Tools, state, t.logger)

	var pending []stream.ToolUse
	interp := stream.New(stream.Callbacks{
		OnText: func(text string) {
			em.emit(domain.NarrationDelta(text))
		},
		OnToolStart: func(name string) {
			t.tracker.ToolStarted(name)
			em.emit(domain.ToolStarted(name))
		},
		OnToolPreview: func(name, preview string) {
			em.emit(domain.ToolProgress(name, preview))
		},
		OnToolUse: func(use stream.ToolUse) {
			pending = append(pending, use)
		},
	})

	at, err := o.Agent.StartTurn(ctx, agent.TurnRequest{
		SystemPrompt: t.system,
		Prompt:       t.prompt,
		Tools:        o.Tools.Specs(),
		ResumeHandle: t.session.AgentHandle,
		MaxSteps:     t.maxSteps,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return o.fail(ctx, em, t, interp, nil, domain.ErrAgentStart.Code, fmt.Sprintf("Agent error: %s", failureText(err)))
	}
	defer at.Close()

	var (
		audits    []domain.AuditRecord
		transport error
		msgs      = at.Messages()
	)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case m, ok := <-msgs:
			if !ok {
				break loop
			}
			done := interp.Process(m)
			if len(pending) > 0 {
				calls := pending
				pending = nil
				results, err := o.runTools(ctx, em, t, exec, state, calls, &audits)
				if err != nil {
					transport = err
					break loop
				}
				if err := at.SubmitToolResults(ctx, results); err != nil {
					transport = err
					break loop
				}
			}
			if done {
				break loop
			}
		}
	}

	if ctx.Err() != nil {
		t.logger.Info("turn cancelled by caller")
		return ctx.Err()
	}
	if !interp.Done() {
		if transport == nil {
			transport = at.Err()
		}
		if transport == nil {
			transport = errors.New("stream ended without a result")
		}
		return o.fail(ctx, em, t, interp, audits, domain.ErrAgentTransport.Code, fmt.Sprintf("Agent error: %s", failureText(transport)))
	}
	if f := interp.Failure(); f != "" {
		return o.fail(ctx, em, t, interp, audits, domain.ErrAgentStopped.Code, f)
	}
	return o.complete(ctx, em, t, interp, state, audits)
}

// runTools executes one batch, reports each result in invocation order and
// returns the answers for the agent.
func (o *Orchestrator) runTools(ctx context.Context, em *emitter, t *turn, exec *tools.Executor, state *tools.TurnState, calls []stream.ToolUse, audits *[]domain.AuditRecord) ([]agent.ToolResult, error) {
	results, err := exec.RunBatch(ctx, calls)
	if err != nil {
		return nil, err
	}
	now := o.now()
	out := make([]agent.ToolResult, len(calls))
	for i, call := range calls {
		res := results[i]
		em.emit(domain.ToolResult(call.Name, res.Summary))
		if call.Name == tools.AddHighlights && !res.IsError && t.kind == kindAnalysis {
			hs, _ := state.Highlights()
			em.emit(domain.HighlightsReady(hs))
		}
		request := string(call.Input)
		if request == "" {
			request = "{}"
		}
		*audits = append(*audits, domain.AuditRecord{
			ID:          uuid.NewString(),
			SessionID:   t.session.ID,
			Category:    "tool",
			Actor:       o.Agent.Name(),
			Action:      call.Name,
			RequestJSON: request,
			ResultText:  res.Text,
			IsError:     res.IsError,
			CreatedAt:   now,
		})
		out[i] = agent.ToolResult{ToolUseID: call.ID, Content: res.Text, IsError: res.IsError}
	}
	return out, nil
}

// complete persists a successful turn and then emits turn_completed.
func (o *Orchestrator) complete(ctx context.Context, em *emitter, t *turn, interp *stream.Interpreter, state *tools.TurnState, audits []domain.AuditRecord) error {
	t.tracker.Complete()

	final := state.Claim.Snapshot()
	narration := interp.Narration()
	prompts := suggestedPrompts(t.kind, state.Suggestions(), narration)
	summary := narration
	if t.kind == kindAnalysis && final != nil {
		summary = claim.Summary(final)
	}

	now := o.now()
	sess := t.session
	sess.Claim = final
	if hs, ok := state.Highlights(); ok {
		sess.Highlights = hs
	}
	if h := interp.Handle(); h != "" {
		sess.AgentHandle = h
	}
	sess.Status = domain.SessionCompleted
	sess.Turns++
	sess.UpdatedAt = now

	var msgs []domain.Message
	reply := domain.Message{
		ID:               uuid.NewString(),
		SessionID:        sess.ID,
		Role:             domain.RoleAgent,
		Content:          summary,
		SuggestedPrompts: prompts,
		CreatedAt:        now,
	}
	if t.kind == kindChat {
		msgs = append(msgs, domain.Message{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Role:      domain.RoleUser,
			Content:   t.userMessage,
			CreatedAt: now,
		})
		reply.ClaimChange = claim.Diff(t.session.Claim, final)
	}
	msgs = append(msgs, reply)

	err := o.persist(ctx, func(tx *sql.Tx) error {
		if err := o.Sessions.UpsertTx(ctx, tx, sess); err != nil {
			return err
		}
		for _, m := range msgs {
			if _, err := o.Messages.AppendTx(ctx, tx, m); err != nil {
				return err
			}
		}
		if final != nil {
			snap, err := store.NewSnapshot(sess.ID, sess.Turns, final, now)
			if err != nil {
				return err
			}
			if err := o.Snapshots.SaveTx(ctx, tx, snap); err != nil {
				return err
			}
		}
		return o.recordTrail(ctx, tx, t, interp, audits, now)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return o.fail(ctx, em, t, interp, audits, domain.ErrStoreWrite.Code, "Failed to save session: "+err.Error())
	}

	t.logger.Info("turn completed",
		zap.Int("turns", sess.Turns),
		zap.Int("mutations", state.Claim.Applied()),
		zap.Int("tool_calls", len(audits)),
	)
	em.emit(domain.TurnCompleted(sess.ID, final, summary, prompts))
	return nil
}

// fail marks the session as errored, keeping its pre-turn claim, and emits
// turn_failed. Nothing is written once the caller has gone.
func (o *Orchestrator) fail(ctx context.Context, em *emitter, t *turn, interp *stream.Interpreter, audits []domain.AuditRecord, code int, msg string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	now := o.now()
	sess := t.session
	sess.Status = domain.SessionError
	sess.UpdatedAt = now

	err := o.persist(ctx, func(tx *sql.Tx) error {
		if err := o.Sessions.UpsertTx(ctx, tx, sess); err != nil {
			return err
		}
		return o.recordTrail(ctx, tx, t, interp, audits, now)
	})
	if err != nil {
		t.logger.Error("mark session failed", zap.Error(err))
	}

	t.logger.Warn("turn failed", zap.String("reason", msg))
	em.emit(domain.TurnFailed(msg))
	return domain.NewEngineError(code, msg)
}

// recordTrail writes the turn's tool audit records and its cost.
func (o *Orchestrator) recordTrail(ctx context.Context, tx *sql.Tx, t *turn, interp *stream.Interpreter, audits []domain.AuditRecord, now int64) error {
	for _, rec := range audits {
		if err := o.Audit.RecordTx(ctx, tx, rec); err != nil {
			return err
		}
	}
	u := interp.Usage()
	if u.InputTokens == 0 && u.OutputTokens == 0 && u.CostUSD == 0 {
		return nil
	}
	return o.Costs.CreateTx(ctx, tx, t.session.ID, domain.CostDelta{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		AmountUSD:    u.CostUSD,
		Provider:     o.Agent.Name(),
		TurnKind:     string(t.kind),
		CreatedAt:    now,
	})
}

func (o *Orchestrator) persist(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// reject reports a setup failure before any agent turn starts.
func (o *Orchestrator) reject(em *emitter, err error) error {
	o.Logger.Debug("turn rejected", zap.Error(err))
	em.emit(domain.TurnFailed(failureText(err)))
	return err
}

// RecoverInterrupted marks sessions stranded in processing by a crash or a
// cancelled first turn as errored.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := o.Sessions.MarkInterrupted(ctx, o.DB, o.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		o.Logger.Info("recovered interrupted sessions", zap.Int64("count", n))
	}
	return n, nil
}

func (o *Orchestrator) now() int64 {
	return o.Now().Unix()
}

// failureText returns the human-readable part of an error.
func failureText(err error) string {
	var ee *domain.EngineError
	if errors.As(err, &ee) {
		return ee.Message
	}
	return err.Error()
}
