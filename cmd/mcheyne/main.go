// Command mcheyne serves and edits the M'Cheyne reading plan.
//
// Usage:
//
//	mcheyne serve                      # HTTP API on $PORT
//	mcheyne today                      # today's passages
//	mcheyne status                     # progress summary
//	mcheyne read today 2               # mark a passage read
//	mcheyne start-date 2024-01-01 --backfill
//	mcheyne import-legacy export.json  # load a first-schema export
//
// Configuration comes from the environment and an optional .env file; see
// internal/config.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/willswire/mcheyne/internal/app"
	"github.com/willswire/mcheyne/internal/config"
	"github.com/willswire/mcheyne/internal/logger"
	"github.com/willswire/mcheyne/internal/plan"
)

var rootCmd = &cobra.Command{
	Use:           "mcheyne",
	Short:         "M'Cheyne Bible reading plan",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(
		serveCmd,
		todayCmd,
		statusCmd,
		readCmd,
		unreadCmd,
		startDateCmd,
		selfPacedCmd,
		resetCmd,
		importLegacyCmd,
	)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// =============================================================================
// Shared setup
// =============================================================================

// setup loads configuration and installs the default logger.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, logger.Setup(cfg), nil
}

// withApp runs fn against a fully loaded app and closes it afterwards.
func withApp(fn func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := app.Open(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(ctx, a, cmd, args)
	}
}

// selectionArg resolves "today" or a numeric index to a selection.
func selectionArg(p *plan.Plan, arg string) (int, *plan.Selection, error) {
	var index int
	if arg == "today" {
		index = p.IndexForToday()
	} else {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return 0, nil, fmt.Errorf("index %q: must be a number or \"today\"", arg)
		}
		index = n
	}

	sel := p.Selection(&index)
	if sel == nil {
		return 0, nil, fmt.Errorf("no selection at index %d (plan has %d)", index, p.Len())
	}
	return index, sel, nil
}
