package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/firstclaim/claim-engine/internal/refdata"
	"github.com/firstclaim/claim-engine/internal/store"
)

var (
	searchAll   bool
	searchLimit int
)

var importCmd = &cobra.Command{
	Use:   "import-icd10 <order-file>",
	Short: "Load ICD-10-CM codes from a CMS order file",
	Long: `Import the fixed-width CMS ICD-10-CM order file (icd10cm_order_*.txt)
into the reference table. Existing codes are updated in place.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		defer logger.Sync()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open order file: %w", err)
		}
		defer f.Close()

		stats, err := refdata.Import(cmd.Context(), db, f)
		if err != nil {
			return err
		}
		logger.Info("icd-10 import finished",
			zap.Int("lines", stats.Lines),
			zap.Int("imported", stats.Imported),
			zap.Int("skipped", stats.Skipped))
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d codes (%d lines, %d skipped)\n", stats.Imported, stats.Lines, stats.Skipped)
		return nil
	},
}

var codesCmd = &cobra.Command{
	Use:   "codes",
	Short: "Query the ICD-10 reference table",
}

var codesSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search codes by description or code prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		defer logger.Sync()

		codes, err := refdata.NewSQLLookup(db).Search(cmd.Context(), args[0], !searchAll, searchLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, c := range codes {
			billable := ""
			if !c.Billable {
				billable = "(header)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", c.CodeDot, c.LongDesc, billable)
		}
		return w.Flush()
	},
}

var codesGetCmd = &cobra.Command{
	Use:   "get <code>",
	Short: "Show one code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		defer logger.Sync()

		code, err := refdata.NewSQLLookup(db).Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, code)
	},
}

var sessionsCaller string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List completed sessions of a caller, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		defer logger.Sync()

		sessions, err := (&store.SessionRepo{}).ListByUser(cmd.Context(), db, sessionsCaller)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tRISK\tMESSAGES\tNOTES")
		for _, s := range sessions {
			risk := "-"
			if s.RiskScore != nil {
				risk = fmt.Sprint(*s.RiskScore)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, risk, s.MessageCount, s.SourcePreview)
		}
		return w.Flush()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session with its claim",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		defer logger.Sync()

		sess, err := (&store.SessionRepo{}).GetByID(cmd.Context(), db, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, sess)
	},
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func init() {
	codesSearchCmd.Flags().BoolVar(&searchAll, "all", false, "include non-billable header codes")
	codesSearchCmd.Flags().IntVar(&searchLimit, "limit", refdata.DefaultSearchLimit, "maximum results")
	codesCmd.AddCommand(codesSearchCmd, codesGetCmd)

	sessionsListCmd.Flags().StringVar(&sessionsCaller, "caller", "local", "caller id")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd)

	rootCmd.AddCommand(importCmd, codesCmd, sessionsCmd)
}
