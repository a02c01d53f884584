package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/firstclaim/claim-engine/internal/domain"
)

// OpenAIConfig configures the chat-completions agent.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Prices in USD per million tokens, used to report turn cost.
	InputPricePerMTok  float64
	OutputPricePerMTok float64
	// ConversationTTL bounds how long a resume handle stays usable.
	ConversationTTL time.Duration
}

// OpenAIAgent drives a multi-step tool-calling loop over streaming chat
// completions. Conversations are kept in memory, keyed by resume handle.
type OpenAIAgent struct {
	client        *openai.Client
	config        OpenAIConfig
	conversations *cache.Cache
	logger        *zap.Logger
}

// NewOpenAIAgent creates the agent. An API key is required.
func NewOpenAIAgent(config OpenAIConfig, logger *zap.Logger) (*OpenAIAgent, error) {
	if config.APIKey == "" {
		return nil, domain.WrapEngineError(domain.ErrProviderUnavailable.Code, "openai agent", errors.New("API key is required"))
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	if config.ConversationTTL <= 0 {
		config.ConversationTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIAgent{
		client:        openai.NewClientWithConfig(clientConfig),
		config:        config,
		conversations: cache.New(config.ConversationTTL, config.ConversationTTL/2),
		logger:        logger,
	}, nil
}

// Name returns the provider name.
func (a *OpenAIAgent) Name() string { return "openai" }

// StartTurn resumes the conversation named by req.ResumeHandle when it is
// still cached, otherwise starts a new one, and runs the step loop in the
// background.
func (a *OpenAIAgent) StartTurn(ctx context.Context, req TurnRequest) (Turn, error) {
	handle := req.ResumeHandle
	var history []openai.ChatCompletionMessage
	if cached, ok := a.conversations.Get(handle); handle != "" && ok {
		history = withSystemPrompt(cached.([]openai.ChatCompletionMessage), req.SystemPrompt)
	} else {
		handle = uuid.NewString()
		if req.SystemPrompt != "" {
			history = append(history, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
		}
	}
	history = append(history, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	tools := make([]openai.Tool, len(req.Tools))
	for i, spec := range req.Tools {
		tools[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Schema,
			},
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &openaiTurn{
		pump:     newPump(),
		cancel:   cancel,
		agent:    a,
		handle:   handle,
		history:  history,
		tools:    tools,
		maxSteps: req.MaxSteps,
		results:  make(chan []ToolResult),
	}
	go t.run(ctx)
	return t, nil
}

// withSystemPrompt copies a cached history so its leading system message
// carries prompt. An empty prompt keeps the cached one. The cached slice is
// left untouched.
func withSystemPrompt(cached []openai.ChatCompletionMessage, prompt string) []openai.ChatCompletionMessage {
	history := make([]openai.ChatCompletionMessage, 0, len(cached)+2)
	if prompt == "" {
		return append(history, cached...)
	}
	if len(cached) > 0 && cached[0].Role == openai.ChatMessageRoleSystem {
		cached = cached[1:]
	}
	history = append(history, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: prompt})
	return append(history, cached...)
}

type openaiTurn struct {
	*pump
	cancel   context.CancelFunc
	agent    *OpenAIAgent
	handle   string
	history  []openai.ChatCompletionMessage
	tools    []openai.Tool
	maxSteps int
	results  chan []ToolResult
	usage    Usage
}

// SubmitToolResults hands results to the step loop, which is blocked
// waiting for them after every step that requested tools.
func (t *openaiTurn) SubmitToolResults(ctx context.Context, results []ToolResult) error {
	select {
	case t.results <- results:
		return nil
	case <-t.done:
		return domain.ErrAgentStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the step loop and waits for it to exit.
func (t *openaiTurn) Close() error {
	t.halt()
	t.cancel()
	<-t.done
	return nil
}

func (t *openaiTurn) run(ctx context.Context) {
	defer t.finish()
	defer t.cancel()

	if !t.emit(ctx, Message{Kind: KindInit, Handle: t.handle}) {
		return
	}
	for step := 1; ; step++ {
		if t.maxSteps > 0 && step > t.maxSteps {
			t.terminal(ctx, OutcomeMaxSteps, fmt.Sprintf("reached maximum number of steps (%d)", t.maxSteps))
			return
		}
		calls, ok := t.step(ctx, fmt.Sprintf("%s-%d", t.handle, step))
		if !ok {
			return
		}
		if len(calls) == 0 {
			t.agent.conversations.SetDefault(t.handle, t.history)
			t.terminal(ctx, OutcomeSuccess, "")
			return
		}

		var results []ToolResult
		select {
		case results = <-t.results:
		case <-ctx.Done():
			t.fail(ctx.Err())
			return
		case <-t.stopped():
			return
		}
		for _, r := range results {
			t.history = append(t.history, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: r.ToolUseID,
				Content:    r.Content,
			})
		}
	}
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// step streams one completion, translating chunks into partial and block
// messages, then emits the consolidated message. It returns the tool calls
// the model requested.
func (t *openaiTurn) step(ctx context.Context, msgID string) ([]*pendingCall, bool) {
	stream, err := t.agent.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:         t.agent.config.Model,
		Messages:      t.history,
		Tools:         t.tools,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		t.fail(t.transportErr(ctx, "start completion stream", err))
		return nil, false
	}
	defer stream.Close()

	var (
		text  strings.Builder
		calls []*pendingCall
		open  = -1
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.fail(t.transportErr(ctx, "read completion stream", err))
			return nil, false
		}
		if chunk.Usage != nil {
			t.usage.InputTokens += int64(chunk.Usage.PromptTokens)
			t.usage.OutputTokens += int64(chunk.Usage.CompletionTokens)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			if open >= 0 {
				if !t.emit(ctx, Message{Kind: KindBlockStop}) {
					return nil, false
				}
				open = -1
			}
			text.WriteString(delta.Content)
			if !t.emit(ctx, Message{Kind: KindPartial, ID: msgID, TextDelta: delta.Content}) {
				return nil, false
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := len(calls) - 1
			switch {
			case tc.Index != nil:
				idx = *tc.Index
			case tc.ID != "":
				idx = len(calls)
			}
			if idx >= len(calls) || idx < 0 {
				if open >= 0 && !t.emit(ctx, Message{Kind: KindBlockStop}) {
					return nil, false
				}
				calls = append(calls, &pendingCall{id: tc.ID, name: tc.Function.Name})
				idx = len(calls) - 1
				open = idx
				if !t.emit(ctx, Message{Kind: KindBlockStart, ToolName: tc.Function.Name}) {
					return nil, false
				}
			}
			call := calls[idx]
			if tc.Function.Arguments != "" {
				call.args.WriteString(tc.Function.Arguments)
				if !t.emit(ctx, Message{Kind: KindPartial, ID: msgID, ArgDelta: tc.Function.Arguments}) {
					return nil, false
				}
			}
		}
	}
	if open >= 0 && !t.emit(ctx, Message{Kind: KindBlockStop}) {
		return nil, false
	}

	assistant := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text.String()}
	var blocks []Block
	if text.Len() > 0 {
		blocks = append(blocks, Block{Type: BlockText, Text: text.String()})
	}
	for i, c := range calls {
		if c.id == "" {
			c.id = fmt.Sprintf("call_%s_%d", msgID, i)
		}
		args := c.args.String()
		if args == "" {
			args = "{}"
		}
		assistant.ToolCalls = append(assistant.ToolCalls, openai.ToolCall{
			ID:       c.id,
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: c.name, Arguments: args},
		})
		input := json.RawMessage(args)
		if !json.Valid(input) {
			input, _ = json.Marshal(args)
		}
		blocks = append(blocks, Block{Type: BlockToolUse, ToolUseID: c.id, Name: c.name, Input: input})
	}
	t.history = append(t.history, assistant)

	if !t.emit(ctx, Message{Kind: KindConsolidated, ID: msgID, Blocks: blocks}) {
		return nil, false
	}
	return calls, true
}

func (t *openaiTurn) terminal(ctx context.Context, outcome, errMsg string) {
	m := Message{Kind: KindTerminal, Outcome: outcome, Usage: t.usage}
	if errMsg != "" {
		m.Errors = []string{errMsg}
	}
	cfg := t.agent.config
	m.Usage.CostUSD = (float64(t.usage.InputTokens)*cfg.InputPricePerMTok +
		float64(t.usage.OutputTokens)*cfg.OutputPricePerMTok) / 1e6
	t.emit(ctx, m)
}

func (t *openaiTurn) transportErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	t.agent.logger.Warn("openai agent transport error", zap.String("op", op), zap.Error(err))
	return domain.WrapEngineError(domain.ErrAgentTransport.Code, op, err)
}
