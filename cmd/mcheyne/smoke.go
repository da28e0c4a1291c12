package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/willswire/mcheyne/internal/api"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	smokeURL     string // Base URL of a running server
	smokeAPIKey  string // Enables the mutation round trip
	smokeVerbose bool   // Print selection details
)

func init() {
	smokeCmd.Flags().StringVar(&smokeURL, "url", "http://localhost:8080", "base URL of the API")
	smokeCmd.Flags().StringVar(&smokeAPIKey, "api-key", "", "API key; enables the read/unread round trip")
	smokeCmd.Flags().BoolVarP(&smokeVerbose, "verbose", "v", false, "show selection details")
	rootCmd.AddCommand(smokeCmd)
}

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Exercise a running server's routes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runner := newSmokeRunner(smokeURL, smokeAPIKey, smokeVerbose, cmd.OutOrStdout())
		if err := runner.ping(); err != nil {
			return fmt.Errorf("cannot connect to %s; make sure the server is running: %w", smokeURL, err)
		}

		runner.Run()
		if runner.errorCount > 0 {
			return fmt.Errorf("%d check(s) failed", runner.errorCount)
		}
		return nil
	},
}

// =============================================================================
// Runner
// =============================================================================

type smokeRunner struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	verbose      bool
	out          io.Writer
	successCount int
	errorCount   int
	errors       []string
}

func newSmokeRunner(baseURL, apiKey string, verbose bool, out io.Writer) *smokeRunner {
	return &smokeRunner{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		verbose: verbose,
		out:     out,
	}
}

func (sr *smokeRunner) ping() error {
	resp, err := sr.client.Get(sr.baseURL + "/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Run executes every check group and prints a summary.
func (sr *smokeRunner) Run() {
	fmt.Fprintln(sr.out, "==============================================")
	fmt.Fprintln(sr.out, "M'Cheyne API Smoke Test")
	fmt.Fprintln(sr.out, "==============================================")
	fmt.Fprintf(sr.out, "Base URL: %s\n", sr.baseURL)

	sr.checkHealth()
	summary, ok := sr.checkPlan()
	if ok {
		sr.checkToday()
		sr.checkIndexes(summary)
		sr.checkDates(summary)
		if sr.apiKey != "" {
			sr.checkRoundTrip(summary)
		}
	}
	sr.checkMetrics()

	sr.printSummary()
}

// =============================================================================
// Check groups
// =============================================================================

func (sr *smokeRunner) checkHealth() {
	sr.printSection("Health Check")

	var health struct {
		Status string `json:"status"`
	}
	if err := sr.call(http.MethodGet, "/health", &health); err != nil {
		sr.recordError("Health", err.Error())
		return
	}
	if health.Status == "healthy" {
		sr.recordSuccess("Health check passed")
	} else {
		sr.recordError("Health", fmt.Sprintf("Unexpected status: %s", health.Status))
	}
}

func (sr *smokeRunner) checkPlan() (api.PlanView, bool) {
	sr.printSection("Plan")

	var summary api.PlanView
	if err := sr.call(http.MethodGet, "/api/v1/plan", &summary); err != nil {
		sr.recordError("Plan", err.Error())
		return summary, false
	}
	if summary.Length != 365 && summary.Length != 366 {
		sr.recordError("Plan", fmt.Sprintf("length %d, want 365 or 366", summary.Length))
		return summary, false
	}
	sr.recordSuccess(fmt.Sprintf("Plan starts %s, %d days, %d/%d passages read",
		summary.StartDate, summary.Length, summary.Stats.CompletedPassages, summary.Stats.TotalPassages))
	return summary, true
}

func (sr *smokeRunner) checkToday() {
	sr.printSection("Today's Selection")

	var sel api.SelectionView
	if err := sr.call(http.MethodGet, "/api/v1/selections/today", &sel); err != nil {
		sr.recordError("Today", err.Error())
		return
	}
	sr.recordSuccess(fmt.Sprintf("Today is day %d (%s)", sel.Index+1, sel.Date))
	sr.printSelectionDetail(sel)
}

func (sr *smokeRunner) checkIndexes(summary api.PlanView) {
	sr.printSection("Selections by Index")

	for _, index := range []int{0, summary.Length - 1} {
		var sel api.SelectionView
		path := fmt.Sprintf("/api/v1/selections/%d", index)
		if err := sr.call(http.MethodGet, path, &sel); err != nil {
			sr.recordError(path, err.Error())
			continue
		}
		if sel.Index != index {
			sr.recordError(path, fmt.Sprintf("index %d, want %d", sel.Index, index))
			continue
		}
		if !sel.LeapPlaceholder && len(sel.Passages) != 4 {
			sr.recordError(path, fmt.Sprintf("%d passages, want 4", len(sel.Passages)))
			continue
		}
		sr.recordSuccess(fmt.Sprintf("Day %d (%s) resolves", index+1, sel.Date))
	}

	sr.expectStatus(fmt.Sprintf("/api/v1/selections/%d", summary.Length), http.StatusNotFound)
	sr.expectStatus("/api/v1/selections/abc", http.StatusBadRequest)
}

func (sr *smokeRunner) checkDates(summary api.PlanView) {
	sr.printSection("Selections by Date")

	var sel api.SelectionView
	path := "/api/v1/selections/date/" + summary.StartDate
	if err := sr.call(http.MethodGet, path, &sel); err != nil {
		sr.recordError(path, err.Error())
	} else if sel.Index != 0 {
		sr.recordError(path, fmt.Sprintf("start date maps to index %d, want 0", sel.Index))
	} else {
		sr.recordSuccess("Start date maps to day 1")
	}

	sr.expectStatus("/api/v1/selections/date/not-a-date", http.StatusBadRequest)
}

// checkRoundTrip flips a passage and restores it.
func (sr *smokeRunner) checkRoundTrip(summary api.PlanView) {
	sr.printSection("Read / Unread Round Trip")

	index := summary.Length - 1
	var before api.SelectionView
	if err := sr.call(http.MethodGet, fmt.Sprintf("/api/v1/selections/%d", index), &before); err != nil {
		sr.recordError("Round trip", err.Error())
		return
	}
	if len(before.Passages) == 0 {
		sr.recordSuccess("Last day is a placeholder; round trip skipped")
		return
	}

	path := fmt.Sprintf("/api/v1/selections/%d/passages/0", index)
	flip, restore := http.MethodPut, http.MethodDelete
	if before.Passages[0].Completed {
		flip, restore = restore, flip
	}

	var after api.SelectionView
	if err := sr.call(flip, path, &after); err != nil {
		sr.recordError("Round trip", err.Error())
		return
	}
	if after.Passages[0].Completed == before.Passages[0].Completed {
		sr.recordError("Round trip", "passage did not change")
	} else {
		sr.recordSuccess(fmt.Sprintf("%s %s on %s", flip, after.Passages[0].Reference, after.Date))
	}

	if err := sr.call(restore, path, &after); err != nil {
		sr.recordError("Round trip restore", err.Error())
		return
	}
	sr.recordSuccess("Passage restored")
}

func (sr *smokeRunner) checkMetrics() {
	sr.printSection("Metrics")

	resp, err := sr.client.Get(sr.baseURL + "/metrics")
	if err != nil {
		sr.recordError("Metrics", err.Error())
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusOK && strings.Contains(string(body), "mcheyne_") {
		sr.recordSuccess("Metrics exposed")
	} else {
		sr.recordError("Metrics", fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
}

// =============================================================================
// Helpers
// =============================================================================

// call sends a request and decodes the envelope's data into target.
func (sr *smokeRunner) call(method, path string, target any) error {
	req, err := http.NewRequest(method, sr.baseURL+path, nil)
	if err != nil {
		return err
	}
	if sr.apiKey != "" {
		req.Header.Set("X-API-Key", sr.apiKey)
	}

	resp, err := sr.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *api.ErrorInfo  `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("HTTP %d: invalid JSON: %w", resp.StatusCode, err)
	}
	if !envelope.Success {
		msg := "unknown error"
		if envelope.Error != nil {
			msg = envelope.Error.Message
		}
		return fmt.Errorf("HTTP %d: API error: %s", resp.StatusCode, msg)
	}
	return json.Unmarshal(envelope.Data, target)
}

func (sr *smokeRunner) expectStatus(path string, status int) {
	resp, err := sr.client.Get(sr.baseURL + path)
	if err != nil {
		sr.recordError(path, err.Error())
		return
	}
	resp.Body.Close()

	if resp.StatusCode == status {
		sr.recordSuccess(fmt.Sprintf("%s returns %d", path, status))
	} else {
		sr.recordError(path, fmt.Sprintf("HTTP %d, want %d", resp.StatusCode, status))
	}
}

func (sr *smokeRunner) printSection(name string) {
	fmt.Fprintf(sr.out, "\n--- %s ---\n\n", name)
}

func (sr *smokeRunner) printSelectionDetail(sel api.SelectionView) {
	if !sr.verbose {
		return
	}
	for _, p := range sel.Passages {
		mark := " "
		if p.Completed {
			mark = "x"
		}
		fmt.Fprintf(sr.out, "    [%s] %s\n", mark, p.Reference)
	}
}

func (sr *smokeRunner) recordSuccess(msg string) {
	sr.successCount++
	fmt.Fprintf(sr.out, "  ✓ %s\n", msg)
}

func (sr *smokeRunner) recordError(context, msg string) {
	sr.errorCount++
	errStr := fmt.Sprintf("%s: %s", context, msg)
	sr.errors = append(sr.errors, errStr)
	fmt.Fprintf(sr.out, "  ✗ %s\n", errStr)
}

func (sr *smokeRunner) printSummary() {
	fmt.Fprintln(sr.out)
	fmt.Fprintln(sr.out, "==============================================")
	fmt.Fprintln(sr.out, "Summary")
	fmt.Fprintln(sr.out, "==============================================")
	fmt.Fprintf(sr.out, "  Passed: %d\n", sr.successCount)
	fmt.Fprintf(sr.out, "  Failed: %d\n", sr.errorCount)

	if sr.errorCount > 0 {
		fmt.Fprintln(sr.out, "\nFailures:")
		for _, err := range sr.errors {
			fmt.Fprintf(sr.out, "  • %s\n", err)
		}
		fmt.Fprintf(sr.out, "\nChecks completed with %d failure(s)\n", sr.errorCount)
		return
	}
	fmt.Fprintln(sr.out, "\nAll checks passed! ✓")
}
