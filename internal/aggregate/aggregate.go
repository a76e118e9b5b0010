// Package aggregate orchestrates one aggregation pass: fetch all
// sources, canonicalize, merge against the persisted set, classify new
// arrivals, and persist the result.
package aggregate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"famcal/internal/canonical"
	"famcal/internal/classify"
	"famcal/internal/config"
	"famcal/internal/dedup"
	appLog "famcal/internal/log"
	"famcal/internal/model"
	"famcal/internal/source"
	"famcal/internal/store"
)

// SourceStatus is the per-source line of a pass report.
type SourceStatus struct {
	SourceID string `json:"source_id"`
	Events   int    `json:"events"`
	Skipped  int    `json:"skipped"`
	Error    string `json:"error,omitempty"`
}

// PassReport summarizes one aggregation pass.
type PassReport struct {
	Sources   []SourceStatus   `json:"sources"`
	Dropped   int              `json:"dropped"`
	New       int              `json:"new"`
	Updated   int              `json:"updated"`
	Deleted   int              `json:"deleted"`
	Merges    []dedup.Decision `json:"merges,omitempty"`
	StartedAt time.Time        `json:"started_at"`
}

// Aggregator runs aggregation passes. Passes are serialized: a new pass
// starts from a fresh snapshot and supersedes the previous output, so
// there is no in-flight cancellation of merges.
type Aggregator struct {
	cfg   *config.Config
	store store.Store
	rules *classify.Rules

	// buildAdapters is swappable in tests.
	buildAdapters func(window source.Window) []source.Adapter

	mu sync.Mutex
}

// New creates an Aggregator over the given store and config.
func New(cfg *config.Config, st store.Store, rules *classify.Rules, feedCacheDir string) *Aggregator {
	return &Aggregator{
		cfg:   cfg,
		store: st,
		rules: rules,
		buildAdapters: func(window source.Window) []source.Adapter {
			return source.BuildAdapters(cfg.Sources, feedCacheDir, window)
		},
	}
}

// NewWithAdapters creates an Aggregator with a fixed adapter builder
// (tests, custom sources).
func NewWithAdapters(cfg *config.Config, st store.Store, rules *classify.Rules,
	build func(window source.Window) []source.Adapter) *Aggregator {
	return &Aggregator{cfg: cfg, store: st, rules: rules, buildAdapters: build}
}

// Pass runs one full aggregation pass. Only a failure to load the
// persisted event set is fatal; every other failure is scoped to its
// source or record and reported.
func (a *Aggregator) Pass(ctx context.Context) (*PassReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	rep := &PassReport{StartedAt: now}

	persisted, err := a.store.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("load persisted event set: %w", err)
	}
	byUID := make(map[string]*model.CanonicalEvent, len(persisted))
	for _, ev := range persisted {
		byUID[ev.UID] = ev
	}

	window := source.WindowAround(now, a.cfg.BackfillDays, a.cfg.HorizonDays)
	reports := source.FetchAll(ctx, a.buildAdapters(window))

	srcByID := make(map[string]config.SourceConfig, len(a.cfg.Sources))
	for _, src := range a.cfg.Sources {
		srcByID[src.ID] = src
	}

	fresh := make([]*model.CanonicalEvent, 0)
	for _, r := range reports {
		status := SourceStatus{SourceID: r.SourceID, Events: len(r.Events), Skipped: r.Skipped}
		if r.Err != nil {
			status.Error = r.Err.Error()
			rep.Sources = append(rep.Sources, status)
			continue
		}
		srcCfg := srcByID[r.SourceID]
		for _, raw := range r.Events {
			ev, cerr := canonical.Canonicalize(raw, srcCfg, now)
			if cerr != nil {
				rep.Dropped++
				appLog.Error("record dropped at canonicalization", cerr, "source", r.SourceID)
				continue
			}
			fresh = append(fresh, ev)
		}
		rep.Sources = append(rep.Sources, status)
	}

	// Existing state wins: a persisted uid keeps its workflow state and
	// provenance; manual edits and rejections are never resurrected by
	// a re-fetch. Fresh copies only refresh descriptive fields.
	snapshot := make([]*model.CanonicalEvent, 0, len(persisted)+len(fresh))
	snapshot = append(snapshot, persisted...)
	seenFresh := make(map[string]bool, len(fresh))
	for _, ev := range fresh {
		if seenFresh[ev.UID] {
			continue // same uid twice within one fetch; first wins
		}
		seenFresh[ev.UID] = true

		if prev, ok := byUID[ev.UID]; ok {
			if prev.CreatedBy == "" && prev.State != model.StateRejected {
				if refresh(prev, ev) {
					prev.UpdatedAt = now
					rep.Updated++
				}
			}
			continue
		}
		a.rules.Classify(ev)
		snapshot = append(snapshot, ev)
		rep.New++
	}

	survivors, decisions := dedup.Merge(snapshot, a.cfg.BucketWidth())
	rep.Merges = decisions
	for _, dec := range decisions {
		appLog.Info("merged duplicate group",
			"fingerprint", dec.Fingerprint,
			"survivor", dec.SurvivorUID,
			"superseded", len(dec.Superseded),
		)
	}

	kept := make(map[string]bool, len(survivors))
	for _, ev := range survivors {
		kept[ev.UID] = true
		if err := a.store.UpsertEvent(ctx, ev); err != nil {
			return rep, fmt.Errorf("persist event %s: %w", ev.UID, err)
		}
	}
	for uid := range byUID {
		if kept[uid] {
			continue
		}
		if err := a.store.DeleteEvent(ctx, uid); err != nil {
			return rep, fmt.Errorf("delete superseded event %s: %w", uid, err)
		}
		rep.Deleted++
	}

	appLog.Info("aggregation pass completed",
		"sources", len(rep.Sources),
		"new", rep.New,
		"updated", rep.Updated,
		"dropped", rep.Dropped,
		"deleted", rep.Deleted,
		"merged_groups", len(rep.Merges),
	)
	return rep, nil
}

// refresh copies descriptive fields from a re-fetched copy onto the
// persisted event, reporting whether anything changed. Workflow state,
// inbox flag, and provenance stay untouched.
func refresh(dst, src *model.CanonicalEvent) bool {
	changed := false
	if dst.Summary != src.Summary {
		dst.Summary = src.Summary
		changed = true
	}
	if dst.Description != src.Description {
		dst.Description = src.Description
		changed = true
	}
	if dst.Location != src.Location {
		dst.Location = src.Location
		changed = true
	}
	if !dst.Start.Equal(src.Start) {
		dst.Start = src.Start
		changed = true
	}
	if !dst.End.Equal(src.End) {
		dst.End = src.End
		changed = true
	}
	return changed
}
