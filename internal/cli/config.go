package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/firstclaim/claim-engine/internal/config"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage the engine configuration.

Configuration hierarchy (highest to lowest priority):
1. Environment variables (FIRSTCLAIM_*, e.g. FIRSTCLAIM_AGENT_API_KEY)
2. Config file (--config, $FIRSTCLAIM_CONFIG or ./config.yaml)
3. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if p := configPath(); p != "" {
			fmt.Fprintf(stderr(cmd), "Configuration file: %s\n\n", p)
		} else {
			fmt.Fprintf(stderr(cmd), "No configuration file found (environment and defaults)\n\n")
		}

		redacted := *cfg
		if redacted.Agent.APIKey != "" {
			redacted.Agent.APIKey = "********"
		}
		redacted.Auth.Tokens = nil
		for _, tok := range cfg.Auth.Tokens {
			redacted.Auth.Tokens = append(redacted.Auth.Tokens, config.TokenConfig{Token: "********", Caller: tok.Caller})
		}

		data, err := yaml.Marshal(&redacted)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "config.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		return writeDefaultConfig(path, configInitForce)
	},
}

func writeDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	cfg := config.Default()
	cfg.Agent.Command = "claude"
	cfg.Agent.Args = []string{"-p", "--output-format", "stream-json", "--input-format", "stream-json", "--verbose"}
	cfg.Auth.Tokens = []config.TokenConfig{{Token: "change-me", Caller: "local"}}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	header := "# FirstClaim configuration. Every key can be overridden with FIRSTCLAIM_<KEY>,\n" +
		"# nested keys joined by underscores (agent.api_key -> FIRSTCLAIM_AGENT_API_KEY).\n"

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, append([]byte(header), data...), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}
