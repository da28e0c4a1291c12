package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/willswire/mcheyne/internal/app"
)

var importLegacyCmd = &cobra.Command{
	Use:   "import-legacy FILE.json",
	Short: "Load read flags exported from the first storage schema",
	Long: `Load a JSON object mapping passage references to read flags, e.g.

  {"Genesis 1": true, "Matthew 1": true}

into the local store. The next command that loads the plan migrates the flags
into per-passage progress. Unknown references are reported and skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open legacy export: %w", err)
		}
		defer f.Close()

		ctx := cmd.Context()
		a, err := app.OpenLocal(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.ImportLegacy(ctx, f)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Imported %d flags\n", res.Written)
		for _, key := range res.Skipped {
			fmt.Fprintf(out, "  skipped unknown reference %q\n", key)
		}
		return nil
	},
}
