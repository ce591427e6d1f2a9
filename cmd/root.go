// Package cmd defines and implements the CLI commands for the tdnet-ingest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tdnet-ingest/internal/config"
	"github.com/JakeFAU/tdnet-ingest/internal/disclosure"
	"github.com/JakeFAU/tdnet-ingest/internal/logging"
	"github.com/JakeFAU/tdnet-ingest/internal/server"
)

// envTargetDate names the variable consulted when no --date flag is given.
const envTargetDate = "TARGET_DATE"

// stateKeyType is the key for storing the loaded runtime state in the context.
type stateKeyType string

const stateKey stateKeyType = "state"

// App defines the application surface that commands use.
// This allows us to inject a fake app during tests.
type App interface {
	RunForDate(ctx context.Context, date time.Time) (disclosure.RunResult, error)
	RunRange(ctx context.Context, start, end time.Time) ([]disclosure.RunResult, error)
	Today() time.Time
	Location() *time.Location
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return server.Build(ctx, cfg, logger)
}

type state struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "tdnet-ingest",
		Short: "Daily TDnet disclosure discovery and ingestion.",
		Long: `tdnet-ingest walks the TDnet timely-disclosure listing for a date,
keeps earnings reports, presentations, dividend notices and other material
filings, stores each PDF under a deterministic key and writes one manifest
per completed date.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Config and logger are loaded once; commands that need the engine
		// build it on demand via withApp.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), stateKey, &state{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if st, ok := cmd.Context().Value(stateKey).(*state); ok && st != nil {
				_ = st.logger.Sync() //nolint:errcheck // stderr sync fails on some terminals
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./tdnet-ingest.yaml)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newRangeCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMarketsCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveState(ctx context.Context) (*state, error) {
	st, ok := ctx.Value(stateKey).(*state)
	if !ok || st == nil {
		return nil, errors.New("configuration not loaded")
	}
	return st, nil
}

// withApp builds the application, runs fn and closes the application.
func withApp(cmd *cobra.Command, fn func(App, *state) error) error {
	st, err := resolveState(cmd.Context())
	if err != nil {
		return err
	}
	app, err := newApp(cmd.Context(), st.cfg, st.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := app.Close(context.Background()); cerr != nil {
			st.logger.Warn("close application failed", zap.Error(cerr))
		}
	}()
	return fn(app, st)
}
