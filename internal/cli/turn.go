package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/firstclaim/claim-engine/internal/domain"
	"github.com/firstclaim/claim-engine/internal/orchestrator"
)

var (
	turnCaller string
	turnJSON   bool
	patientSex string
	patientAge int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [notes-file]",
	Short: "Build a claim from clinical notes",
	Long: `Run one analysis turn over clinical notes read from a file, or from
stdin when no file (or "-") is given. Narration goes to stdout, progress to
stderr.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

var chatCmd = &cobra.Command{
	Use:   "chat <session-id> <message>",
	Short: "Continue a session with a chat message",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runChat,
}

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, chatCmd} {
		c.Flags().StringVar(&turnCaller, "caller", "local", "caller id that owns the session")
		c.Flags().BoolVar(&turnJSON, "json", false, "print raw events as JSON lines")
	}
	analyzeCmd.Flags().StringVar(&patientSex, "sex", "", "patient sex (M or F)")
	analyzeCmd.Flags().IntVar(&patientAge, "age", -1, "patient age in years")

	rootCmd.AddCommand(analyzeCmd, chatCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	path := "-"
	if len(args) == 1 {
		path = args[0]
	}
	notes, err := readNotes(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	req := orchestrator.AnalysisRequest{SourceText: notes, CallerID: turnCaller}
	if patientSex != "" {
		sex := domain.Sex(strings.ToUpper(patientSex))
		if !sex.Valid() {
			return fmt.Errorf("--sex must be M or F")
		}
		req.Patient.Sex = sex
	}
	if patientAge >= 0 {
		age := patientAge
		req.Patient.Age = &age
	}

	return withTurn(cmd, func(ctx context.Context, a *app, sink orchestrator.Sink) error {
		_, err := a.orch.StartAnalysis(ctx, req, sink)
		return err
	})
}

func runChat(cmd *cobra.Command, args []string) error {
	req := orchestrator.ChatRequest{
		SessionID: args[0],
		Message:   strings.Join(args[1:], " "),
		CallerID:  turnCaller,
	}
	return withTurn(cmd, func(ctx context.Context, a *app, sink orchestrator.Sink) error {
		return a.orch.ContinueChat(ctx, req, sink)
	})
}

// withTurn wires the engine, runs one turn under a signal-aware context and
// prints its events.
func withTurn(cmd *cobra.Command, run func(context.Context, *app, orchestrator.Sink) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sink orchestrator.Sink = &jsonPrinter{out: cmd.OutOrStdout()}
	if !turnJSON {
		sink = &eventPrinter{out: cmd.OutOrStdout(), log: stderr(cmd)}
	}
	if err := run(ctx, a, sink); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("turn cancelled")
		}
		return err
	}
	return nil
}

func readNotes(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read clinical notes: %w", err)
	}
	return string(data), nil
}

// jsonPrinter writes each event as one JSON line.
type jsonPrinter struct {
	out io.Writer
}

func (p *jsonPrinter) Emit(ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(p.out, "%s\n", data)
}

// eventPrinter renders events for a terminal: narration on out, everything
// else as short progress lines on log.
type eventPrinter struct {
	out       io.Writer
	log       io.Writer
	midstream bool
}

func (p *eventPrinter) Emit(ev domain.Event) {
	if ev.Type == domain.EventNarrationDelta {
		fmt.Fprint(p.out, ev.Text)
		p.midstream = !strings.HasSuffix(ev.Text, "\n")
		return
	}
	if p.midstream {
		fmt.Fprintln(p.out)
		p.midstream = false
	}

	switch ev.Type {
	case domain.EventStageChanged:
		fmt.Fprintf(p.log, "[%d/5] %s\n", ev.Stage, ev.Label)
	case domain.EventToolStarted:
		fmt.Fprintf(p.log, "  > %s\n", ev.Name)
	case domain.EventToolProgress:
		fmt.Fprintf(p.log, "    searching %q\n", ev.Query)
	case domain.EventToolResult:
		fmt.Fprintf(p.log, "  < %s: %s\n", ev.Name, ev.Result)
	case domain.EventClaimReplaced:
		if ev.Claim != nil {
			fmt.Fprintf(p.log, "  claim %s: %d line(s)\n", ev.Claim.ClaimID, len(ev.Claim.LineItems))
		}
	case domain.EventFindingAdded:
		if ev.Finding != nil {
			fmt.Fprintf(p.log, "  ! [%s] %s\n", ev.Finding.Severity, ev.Finding.Title)
		}
	case domain.EventFindingResolved:
		fmt.Fprintf(p.log, "  resolved %s: %s\n", ev.FindingID, ev.Reason)
	case domain.EventRiskScoreChanged:
		if ev.Score != nil {
			fmt.Fprintf(p.log, "  risk score %d\n", *ev.Score)
		}
	case domain.EventHighlights:
		fmt.Fprintf(p.log, "  %d evidence highlight(s)\n", len(ev.Highlights))
	case domain.EventTurnCompleted:
		fmt.Fprintf(p.log, "session %s completed\n", ev.SessionID)
		for _, prompt := range ev.SuggestedPrompts {
			fmt.Fprintf(p.log, "  try: %s\n", prompt)
		}
	case domain.EventTurnFailed:
		fmt.Fprintf(p.log, "turn failed: %s\n", ev.Message)
	}
}
