package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/willswire/mcheyne/internal/app"
	"github.com/willswire/mcheyne/internal/calendar"
	"github.com/willswire/mcheyne/internal/database"
	"github.com/willswire/mcheyne/internal/plan"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	jsonOutput     bool // Print JSON instead of text
	recentLimit    int  // Recent local writes shown by status
	startBackfill  bool // Reset and credit every day before today
	resetConfirmed bool // Skip the reset guard
)

func init() {
	todayCmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")
	statusCmd.Flags().IntVar(&recentLimit, "recent", 5, "recent local writes to show (SQLite only)")
	startDateCmd.Flags().BoolVar(&startBackfill, "backfill", false, "reset, then mark read every day before today")
	resetCmd.Flags().BoolVar(&resetConfirmed, "yes", false, "confirm clearing all progress")
}

// =============================================================================
// Read-only commands
// =============================================================================

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show today's passages",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
		index, sel, err := selectionArg(a.Plan, "today")
		if err != nil {
			return err
		}
		return printSelection(cmd.OutOrStdout(), a, index, sel)
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show plan settings and progress",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		p := a.Plan
		st := p.Stats()

		if jsonOutput {
			return writeJSON(out, map[string]any{
				"start_date":          calendar.FormatDate(p.StartDate().In(a.Location)),
				"self_paced":          p.IsSelfPaced(),
				"cloud_authoritative": p.IsCloudAuthoritative(),
				"length":              p.Len(),
				"stats":               st,
			})
		}

		tier := "local"
		if p.IsCloudAuthoritative() {
			tier = "cloud (" + a.Config.CloudStore + ")"
		}
		fmt.Fprintf(out, "Start date:  %s\n", calendar.FormatDate(p.StartDate().In(a.Location)))
		fmt.Fprintf(out, "Self-paced:  %t\n", p.IsSelfPaced())
		fmt.Fprintf(out, "Storage:     %s\n", tier)
		fmt.Fprintf(out, "Today:       day %d of %d\n", st.TodayIndex+1, p.Len())
		fmt.Fprintf(out, "Days read:   %d / %d\n", st.CompletedSelections, st.TotalSelections)
		fmt.Fprintf(out, "Passages:    %d / %d\n", st.CompletedPassages, st.TotalPassages)

		db, ok := a.Local.(*database.DB)
		if !ok || recentLimit <= 0 {
			return nil
		}
		recent, err := db.Recent(ctx, recentLimit)
		if err != nil {
			return fmt.Errorf("recent writes: %w", err)
		}
		if len(recent) > 0 {
			fmt.Fprintln(out, "\nRecent local writes:")
		}
		for _, e := range recent {
			when := "-"
			if e.UpdatedAt != nil {
				when = e.UpdatedAt.In(a.Location).Format(time.DateTime)
			}
			fmt.Fprintf(out, "  %s  %-24s %s\n", when, e.Key, truncate(string(e.Value), 32))
		}
		return nil
	}),
}

// =============================================================================
// Mutating commands
// =============================================================================

var readCmd = &cobra.Command{
	Use:   "read INDEX|today SLOT",
	Short: "Mark a passage read",
	Args:  cobra.ExactArgs(2),
	RunE:  withApp(markPassage(true)),
}

var unreadCmd = &cobra.Command{
	Use:   "unread INDEX|today SLOT",
	Short: "Mark a passage unread",
	Args:  cobra.ExactArgs(2),
	RunE:  withApp(markPassage(false)),
}

func markPassage(read bool) func(context.Context, *app.App, *cobra.Command, []string) error {
	return func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
		index, sel, err := selectionArg(a.Plan, args[0])
		if err != nil {
			return err
		}
		slot, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("slot %q: must be a number", args[1])
		}
		ps := sel.Passage(slot)
		if ps == nil {
			return fmt.Errorf("day %d has no passage in slot %d", index, slot)
		}

		if read {
			ps.Read(ctx)
		} else {
			ps.Unread(ctx)
		}
		return printSelection(cmd.OutOrStdout(), a, index, sel)
	}
}

var startDateCmd = &cobra.Command{
	Use:   "start-date YYYY-MM-DD",
	Short: "Change the plan start date",
	Long: `Change the date the plan counts days from.

Without --backfill only the date moves and progress is kept. With --backfill
the plan is reset and every day before today is marked read, as if the reader
had kept pace since the new date.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
		date, err := calendar.ParseDateIn(args[0], a.Location)
		if err != nil {
			return err
		}
		if startBackfill {
			a.Plan.ChangeStartDate(ctx, date)
		} else {
			a.Plan.SetStartDate(ctx, date)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Start date set to %s\n", calendar.FormatDate(date))
		return nil
	}),
}

var selfPacedCmd = &cobra.Command{
	Use:   "self-paced on|off",
	Short: "Follow progress instead of the calendar",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
		v, err := parseSwitch(args[0])
		if err != nil {
			return err
		}
		a.Plan.SetSelfPaced(ctx, v)
		fmt.Fprintf(cmd.OutOrStdout(), "Self-paced: %t\n", v)
		return nil
	}),
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all progress and restart today",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
		if !resetConfirmed {
			return fmt.Errorf("reset clears every read mark; rerun with --yes")
		}
		a.Plan.Reset(ctx)
		fmt.Fprintln(cmd.OutOrStdout(), "Plan reset")
		return nil
	}),
}

// =============================================================================
// Output helpers
// =============================================================================

func printSelection(out io.Writer, a *app.App, index int, sel *plan.Selection) error {
	date := calendar.FormatDate(a.Plan.DateForIndex(index).In(a.Location))

	if jsonOutput {
		type passage struct {
			Slot      int    `json:"slot"`
			Reference string `json:"reference"`
			Completed bool   `json:"completed"`
		}
		passages := make([]passage, 0, 4)
		for _, ps := range sel.Passages() {
			passages = append(passages, passage{ps.Slot(), ps.Reference(), ps.Completed()})
		}
		return writeJSON(out, map[string]any{
			"index":            index,
			"date":             date,
			"leap_placeholder": sel.IsLeapPlaceholder(),
			"complete":         sel.IsComplete(),
			"passages":         passages,
		})
	}

	fmt.Fprintf(out, "Day %d (%s)\n", index+1, date)
	if sel.IsLeapPlaceholder() {
		fmt.Fprintln(out, "  February 29: no readings")
		return nil
	}
	for _, ps := range sel.Passages() {
		mark := " "
		if ps.Completed() {
			mark = "x"
		}
		fmt.Fprintf(out, "  [%s] %d  %s\n", mark, ps.Slot(), ps.Reference())
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%q: want on or off", s)
	}
	return v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
