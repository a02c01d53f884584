// Package cli implements the firstclaim command tree.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/firstclaim/claim-engine/internal/config"
)

// Build metadata, set with -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "firstclaim",
	Short: "FirstClaim - agent-assisted medical billing claim engine",
	Long: `FirstClaim turns clinical notes into a structured billing claim.

An external reasoning agent reads the notes and edits the claim through a
fixed tool catalogue; every edit is validated, scored for denial risk and
streamed to the caller. Sessions can be continued as a chat to refine the
claim.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "firstclaim %s (commit=%s, built=%s)\n", Version, Commit, Date)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $FIRSTCLAIM_CONFIG or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(versionCmd)
}

// configPath resolves the config file: --config flag, FIRSTCLAIM_CONFIG, then
// config.yaml next to the executable or in the working directory. An empty
// result means environment variables and defaults only.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if p := os.Getenv("FIRSTCLAIM_CONFIG"); p != "" {
		return p
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func stderr(cmd *cobra.Command) io.Writer {
	return cmd.ErrOrStderr()
}
