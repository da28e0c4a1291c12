package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/willswire/mcheyne/internal/kvstore"
	"github.com/willswire/mcheyne/internal/plan"
	"github.com/willswire/mcheyne/internal/schedule"
)

// ImportResult summarises an ImportLegacy run.
type ImportResult struct {
	Written int
	Skipped []string
}

// ImportLegacy writes a first-schema export, a JSON object mapping reference
// text to a read flag, into the local store. It clears the schema flag so the
// next plan load migrates the imported flags. Keys that are not references of
// the reading table are skipped.
func (a *App) ImportLegacy(ctx context.Context, r io.Reader) (ImportResult, error) {
	var flags map[string]bool
	if err := json.NewDecoder(r).Decode(&flags); err != nil {
		return ImportResult{}, fmt.Errorf("parse legacy export: %w", err)
	}

	known := make(map[string]bool)
	for _, key := range schedule.LegacyKeys() {
		known[key] = true
	}

	var res ImportResult
	entries := make(map[string][]byte, len(flags))
	for key, read := range flags {
		if !known[key] {
			res.Skipped = append(res.Skipped, key)
			continue
		}
		entries[key] = kvstore.EncodeBool(read)
	}

	if err := kvstore.SetMany(ctx, a.Local, entries); err != nil {
		return ImportResult{}, fmt.Errorf("write legacy flags: %w", err)
	}
	if err := a.Local.Remove(ctx, plan.KeyMigratedToV2); err != nil {
		return ImportResult{}, fmt.Errorf("clear schema flag: %w", err)
	}
	res.Written = len(entries)

	a.Logger.Info("imported legacy flags",
		slog.Int("written", res.Written),
		slog.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}
