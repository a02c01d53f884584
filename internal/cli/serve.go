package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/firstclaim/claim-engine/internal/ipc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the claim engine over HTTP. Analysis and chat turns stream
server-sent events; sessions, snapshots and ICD-10 lookups are plain JSON.
Every route except /api/v1/health needs a bearer token from auth.tokens.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Auth.Tokens) == 0 {
		return fmt.Errorf("serve needs at least one entry in auth.tokens")
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sessions left processing by a previous run can never finish.
	n, err := a.orch.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted sessions: %w", err)
	}
	if n > 0 {
		a.logger.Warn("marked interrupted sessions as failed", zap.Int64("count", n))
	}

	handler := ipc.NewHandler(a.orch, a.lookup, a.db, a.logger)
	srv := ipc.NewServer(handler, ipc.StaticTokens(cfg.TokenMap()), cfg.ListenAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("claim engine listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
