// Package source fetches and parses external calendar sources into raw
// event records. Each adapter is an isolated failure domain: one slow or
// broken source never blocks or poisons the others.
package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	appLog "famcal/internal/log"
	"famcal/internal/model"
)

// Adapter fetches one configured source.
type Adapter interface {
	// SourceID returns the internal identifier of the source.
	SourceID() string
	// Fetch returns the raw events of the source plus the number of
	// malformed records skipped. A returned error means the whole
	// source failed (network, timeout, undecodable payload).
	Fetch(ctx context.Context) ([]model.RawEvent, int, error)
}

// FetchError scopes a failure to a single source.
type FetchError struct {
	SourceID string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("source %s: fetch failed: %v", e.SourceID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Report is the per-source outcome of an aggregation fetch.
type Report struct {
	SourceID string
	Events   []model.RawEvent
	Skipped  int
	Err      error // *FetchError when the source failed entirely
}

// Window bounds the aggregation horizon; recurring feed events are
// expanded only within it.
type Window struct {
	From time.Time
	To   time.Time
}

// WindowAround builds the window [now - backfill days, now + horizon days].
func WindowAround(now time.Time, backfillDays, horizonDays int) Window {
	return Window{
		From: now.AddDate(0, 0, -backfillDays),
		To:   now.AddDate(0, 0, horizonDays),
	}
}

// FetchAll runs every adapter in its own goroutine and collects all
// results before returning. The returned reports are ordered like the
// adapters; failed sources carry their error and an empty event list.
func FetchAll(ctx context.Context, adapters []Adapter) []Report {
	reports := make([]Report, len(adapters))

	var wg sync.WaitGroup
	for i, ad := range adapters {
		wg.Add(1)
		go func(i int, ad Adapter) {
			defer wg.Done()
			events, skipped, err := ad.Fetch(ctx)
			rep := Report{SourceID: ad.SourceID(), Events: events, Skipped: skipped}
			if err != nil {
				rep.Err = &FetchError{SourceID: ad.SourceID(), Err: err}
				rep.Events = nil
				appLog.Error("source fetch failed", err, "source", ad.SourceID())
			} else {
				appLog.Info("source fetch completed",
					"source", ad.SourceID(),
					"events", len(events),
					"skipped", skipped,
				)
			}
			reports[i] = rep
		}(i, ad)
	}
	wg.Wait()

	return reports
}
