package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tdnet-ingest/internal/disclosure"
)

// newRangeCmd creates the 'range' subcommand for backfilling several dates.
func newRangeCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "range",
		Short: "Ingest every date in an inclusive range",
		Long: `Runs one ingestion per date from --start to --end inclusive, in order.
The first faulted date stops the range; results for earlier dates are still printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(app App, st *state) error {
				from, err := disclosure.ParseDate(start, app.Location())
				if err != nil {
					return fmt.Errorf("--start: %w", err)
				}
				to, err := disclosure.ParseDate(end, app.Location())
				if err != nil {
					return fmt.Errorf("--end: %w", err)
				}
				results, runErr := app.RunRange(cmd.Context(), from, to)
				if results == nil {
					results = []disclosure.RunResult{}
				}
				st.logger.Info("range command finished", zap.Int("dates", len(results)))
				return errors.Join(printJSON(cmd, results), runErr)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first date as YYYYMMDD")
	cmd.Flags().StringVar(&end, "end", "", "last date as YYYYMMDD")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}
