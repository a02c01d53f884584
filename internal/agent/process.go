package agent

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/firstclaim/claim-engine/internal/domain"
)

const (
	maxLineBytes = 8 << 20
	stderrTail   = 2048
)

// ProcessSpec describes the agent command and its environment.
type ProcessSpec struct {
	Command string
	Args    []string
	Env     map[string]string
}

// ProcessAgent runs one child process per turn speaking newline-delimited
// stream-json: protocol messages on stdout, prompts and tool results on stdin.
type ProcessAgent struct {
	spec   ProcessSpec
	logger *zap.Logger
}

// NewProcessAgent returns an agent that launches spec for every turn.
func NewProcessAgent(spec ProcessSpec, logger *zap.Logger) (*ProcessAgent, error) {
	if spec.Command == "" {
		return nil, domain.WrapEngineError(domain.ErrProviderUnavailable.Code, "process agent", fmt.Errorf("command is required"))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessAgent{spec: spec, logger: logger}, nil
}

// Name returns the provider name.
func (a *ProcessAgent) Name() string { return "process" }

// StartTurn launches the process, sends the control and prompt lines and
// begins reading its stdout. The process is killed when ctx ends.
func (a *ProcessAgent) StartTurn(ctx context.Context, req TurnRequest) (Turn, error) {
	cmd := exec.CommandContext(ctx, a.spec.Command, a.spec.Args...)
	cmd.Env = os.Environ()
	for k, v := range a.spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrAgentStart.Code, "stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrAgentStart.Code, "stdout pipe", err)
	}
	t := &processTurn{
		pump:   newPump(),
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		logger: a.logger,
	}
	cmd.Stderr = &t.stderr

	if err := cmd.Start(); err != nil {
		return nil, domain.WrapEngineError(domain.ErrAgentStart.Code, "start "+a.spec.Command, err)
	}

	control, err := encodeControl(req)
	if err == nil {
		err = t.writeLine(control)
	}
	if err == nil {
		var prompt []byte
		if prompt, err = encodePrompt(req.Prompt); err == nil {
			err = t.writeLine(prompt)
		}
	}
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, domain.WrapEngineError(domain.ErrAgentStart.Code, "send prompt", err)
	}

	go t.readStdout(ctx)
	return t, nil
}

type processTurn struct {
	*pump
	cmd    *exec.Cmd
	stdout io.ReadCloser
	logger *zap.Logger

	writeMu sync.Mutex
	stdin   io.WriteCloser

	stderr tailBuffer
}

// SubmitToolResults writes one user line carrying every result.
func (t *processTurn) SubmitToolResults(ctx context.Context, results []ToolResult) error {
	select {
	case <-t.done:
		return domain.ErrAgentStopped
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	line, err := encodeToolResults(results)
	if err != nil {
		return err
	}
	if err := t.writeLine(line); err != nil {
		return domain.WrapEngineError(domain.ErrAgentTransport.Code, "write tool results", err)
	}
	return nil
}

// Close kills the process if it is still running and waits for the reader.
func (t *processTurn) Close() error {
	t.halt()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	<-t.done
	return nil
}

func (t *processTurn) writeLine(b []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

// readStdout decodes stdout line by line until EOF. Lines after the terminal
// message are drained and ignored.
func (t *processTurn) readStdout(ctx context.Context) {
	defer t.finish()

	var (
		dec      streamDecoder
		terminal bool
		open     = true
	)
	scanner := bufio.NewScanner(t.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if terminal || !open {
			continue
		}
		msgs, err := dec.decode(scanner.Bytes())
		if err != nil {
			t.logger.Debug("skip undecodable agent line", zap.Error(err))
			continue
		}
		for _, m := range msgs {
			if !t.emit(ctx, m) {
				open = false
				break
			}
			if m.Kind == KindTerminal {
				terminal = true
				t.writeMu.Lock()
				_ = t.stdin.Close()
				t.writeMu.Unlock()
				break
			}
		}
	}
	scanErr := scanner.Err()
	waitErr := t.cmd.Wait()

	if terminal || !open {
		return
	}
	switch {
	case ctx.Err() != nil:
		t.fail(ctx.Err())
	case scanErr != nil:
		t.fail(domain.WrapEngineError(domain.ErrAgentTransport.Code, "read agent output", scanErr))
	case waitErr != nil:
		t.fail(domain.WrapEngineError(domain.ErrAgentTransport.Code, "agent exited", fmt.Errorf("%w: %s", waitErr, t.stderr.String())))
	default:
		t.fail(domain.NewEngineError(domain.ErrAgentTransport.Code, "agent output ended without a result"))
	}
}

// tailBuffer keeps the last stderrTail bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if over := b.buf.Len() - stderrTail; over > 0 {
		b.buf.Next(over)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf.Bytes()))
}
