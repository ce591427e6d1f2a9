package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tdnet-ingest/internal/disclosure"
)

// newRunCmd creates the 'run' subcommand, which ingests a single date.
func newRunCmd() *cobra.Command {
	var (
		date          string
		failOnPartial bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest one date",
		Long: `Ingests every qualifying disclosure for one date and prints the run result.
The date comes from --date, then the TARGET_DATE variable, then today in the
configured timezone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(app App, st *state) error {
				target, err := resolveDate(app, date, os.Getenv(envTargetDate))
				if err != nil {
					return err
				}
				result, err := app.RunForDate(cmd.Context(), target)
				if err != nil {
					return fmt.Errorf("run %s: %w", disclosure.FormatDate(target), err)
				}
				st.logger.Info("run command finished",
					zap.String("run_id", result.RunID),
					zap.String("status", string(result.Status)),
				)
				if err := printJSON(cmd, result); err != nil {
					return err
				}
				if failOnPartial && result.Status == disclosure.RunPartiallyFailed {
					return fmt.Errorf("run %s finished with %d failures", result.Date, result.Counts.Failures())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date to ingest as YYYYMMDD")
	cmd.Flags().BoolVar(&failOnPartial, "fail-on-partial", false, "exit non-zero when some documents were lost")
	return cmd
}

func resolveDate(app App, flagValue, envValue string) (time.Time, error) {
	for _, raw := range []string{flagValue, envValue} {
		if raw = strings.TrimSpace(raw); raw != "" {
			return disclosure.ParseDate(raw, app.Location())
		}
	}
	return app.Today(), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
