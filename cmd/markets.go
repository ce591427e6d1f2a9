package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tdnet-ingest/internal/classify"
	"github.com/JakeFAU/tdnet-ingest/internal/registry"
)

// newMarketsCmd creates the 'markets' subcommand, which lists the market
// segments of the registry and whether the configuration excludes them.
func newMarketsCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "markets",
		Short: "List registry markets and their exclusion state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := resolveState(cmd.Context())
			if err != nil {
				return err
			}
			if path == "" {
				path = st.cfg.Registry.Path
			}
			reg, err := registry.Load(path)
			if err != nil {
				return err
			}
			cls := classify.New(nil, st.cfg.Pipeline.ExcludedMarkets)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MARKET\tCOMPANIES\tEXCLUDED")
			for _, m := range reg.Markets() {
				excluded := "no"
				if cls.Excluded(m.Market) {
					excluded = "yes"
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", m.Market, m.Companies, excluded)
			}
			fmt.Fprintf(tw, "TOTAL\t%d\t\n", reg.Len())
			if err := tw.Flush(); err != nil {
				return fmt.Errorf("write markets: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "registry", "", "registry CSV (default registry.path)")
	return cmd
}
