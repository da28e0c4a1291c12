package plan

import (
	"context"
	"log/slog"

	"github.com/willswire/mcheyne/internal/kvstore"
	"github.com/willswire/mcheyne/internal/schedule"
)

// migrateToV2Locked lifts legacy per-reference flags into per-passage keys.
//
// The first schema kept one flag per reference text, so a reference read on
// its first appearance in the year also looked read on its second. A true
// legacy flag marks both occurrences read. Afterwards, any selection holding
// a second occurrence that is not fully read is reverted to entirely unread:
// the shared flag only proves the first occurrence was read.
//
// Guarded by KeyMigratedToV2; once set this is a no-op.
func (p *Plan) migrateToV2Locked(ctx context.Context) {
	if readBool(ctx, p.localStore, KeyMigratedToV2, p.logger) {
		return
	}

	snap, ok := p.local.snapshot(ctx)
	if !ok {
		// Legacy flags stay in place; the next load retries.
		p.metrics.Migration("v2", "failed")
		return
	}

	dirty := make(map[*Passage]bool)
	var legacyPresent []string
	var seconds []*Selection

	for _, key := range schedule.LegacyKeys() {
		if _, ok := snap[key]; !ok {
			continue
		}
		legacyPresent = append(legacyPresent, key)
		if !snapBool(snap, key) {
			continue
		}

		var holders []*Selection
		var occurrences []*Passage
		for _, s := range p.selections {
			for _, ps := range s.passages {
				if ps.reference == key {
					holders = append(holders, s)
					occurrences = append(occurrences, ps)
					break
				}
			}
		}

		if len(occurrences) > 0 {
			occurrences[0].completed = true
			dirty[occurrences[0]] = true
		}
		if len(occurrences) != 2 {
			continue
		}
		occurrences[1].completed = true
		dirty[occurrences[1]] = true
		seconds = append(seconds, holders[1])
	}

	reverted := 0
	for _, s := range seconds {
		if s.isComplete() {
			continue
		}
		for _, ps := range s.passages {
			ps.completed = false
			dirty[ps] = true
		}
		reverted++
	}

	if len(dirty) > 0 {
		entries := make(map[string][]byte, len(dirty))
		for ps := range dirty {
			entries[ps.key] = kvstore.EncodeBool(ps.completed)
		}
		if !p.tier.putMany(ctx, entries) {
			// Legacy flags are the only record of this progress; keep them
			// and the unset guard so the next load retries.
			p.metrics.Migration("v2", "failed")
			return
		}
		p.tier.flush(ctx)
	}

	p.local.remove(ctx, legacyPresent...)
	p.local.put(ctx, KeyMigratedToV2, kvstore.EncodeBool(true))
	p.metrics.Migration("v2", "applied")

	p.logger.Info("migrated legacy schema",
		slog.Int("legacy_keys", len(legacyPresent)),
		slog.Int("passages_written", len(dirty)),
		slog.Int("selections_reverted", reverted),
	)
}

// migrateToCloudLocked promotes local state into the cloud tier and makes it
// authoritative. It runs once, and only when a cloud store is configured and
// reports itself available; otherwise the plan stays on the local tier.
//
// Read passages are copied; unread ones are left absent in the cloud. The
// selection layout, including any leap placeholder, is stored as a blob so
// other devices rebuild the same days regardless of their own start date.
func (p *Plan) migrateToCloudLocked(ctx context.Context) {
	if p.cloud == nil {
		return
	}
	if readBool(ctx, p.localStore, KeyMigratedToCloud, p.logger) {
		return
	}
	if !p.cloud.Available(ctx) {
		p.logger.Info("cloud store unavailable, staying on local tier")
		p.metrics.Migration("cloud", "skipped")
		return
	}

	cloud := newCloudTier(p.cloud, p.logger, p.metrics)
	local, ok := p.local.snapshot(ctx)
	if !ok {
		p.metrics.Migration("cloud", "failed")
		return
	}

	entries := make(map[string][]byte)
	if raw, ok := local[KeyStartDate]; ok {
		entries[KeyStartDate] = raw
	}
	entries[KeySelfPaced] = kvstore.EncodeBool(snapBool(local, KeySelfPaced))

	var passageKeys []string
	days := make([][]string, len(p.selections))
	for i, s := range p.selections {
		days[i] = s.references()
		for _, ps := range s.passages {
			passageKeys = append(passageKeys, ps.key)
			if snapBool(local, ps.key) {
				entries[ps.key] = kvstore.EncodeBool(true)
			}
		}
	}

	blob, err := schedule.MarshalReferences(days)
	if err != nil {
		p.logger.Warn("encode selections for cloud", slog.String("error", err.Error()))
		p.metrics.Migration("cloud", "failed")
		return
	}
	entries[KeySelections] = blob

	if !cloud.putMany(ctx, entries) {
		// Local state is untouched; the next load retries.
		p.metrics.Migration("cloud", "failed")
		return
	}
	cloud.flush(ctx)

	p.tier = cloud
	snap, ok := cloud.snapshot(ctx)
	if !ok {
		snap = entries
	}
	p.selections = p.buildSelectionsLocked(ctx, snap, true, false)
	if start, ok := snapTime(snap, KeyStartDate); ok {
		p.startDate = start
	}
	p.selfPaced = snapBool(snap, KeySelfPaced)

	p.local.remove(ctx, append([]string{KeyStartDate, KeySelfPaced}, passageKeys...)...)
	p.local.put(ctx, KeyMigratedToCloud, kvstore.EncodeBool(true))
	p.metrics.Migration("cloud", "applied")

	p.logger.Info("migrated plan to cloud",
		slog.Int("keys_written", len(entries)),
		slog.Int("local_keys_removed", len(passageKeys)+2),
	)
}
