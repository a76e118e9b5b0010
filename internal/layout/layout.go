// Package layout places canonical events on a fixed 7-column week grid,
// including multi-day spans.
package layout

import (
	"errors"
	"time"

	"famcal/internal/model"
)

// Week is an ordered sequence of 7 day boundaries (local midnights) in
// the display timezone.
type Week [7]time.Time

// WeekOf builds the week containing ref, starting on the configured
// weekday ("monday" or "sunday").
func WeekOf(ref time.Time, weekStart string) Week {
	day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())

	first := time.Monday
	if weekStart == "sunday" {
		first = time.Sunday
	}
	for day.Weekday() != first {
		day = day.AddDate(0, 0, -1)
	}

	var w Week
	for i := range w {
		w[i] = day.AddDate(0, 0, i)
	}
	return w
}

// Span is the inclusive day-column range one multi-day event occupies,
// exposed 1-indexed with an exclusive end for direct grid placement.
type Span struct {
	UID      string `json:"uid"`
	ColStart int    `json:"col_start"` // 1-indexed
	ColEnd   int    `json:"col_end"`   // exclusive
}

// Grid is the placement result for one week: single-day events per day
// column plus the multi-day spans. An event appears in exactly one of
// the two, never both.
type Grid struct {
	Week  Week                                `json:"week"`
	Days  [7][]*model.CanonicalEvent          `json:"days"`
	Spans []Span                              `json:"spans"`
}

// Place computes the grid placement of events within the week. Events
// wholly outside the week are omitted. The week's days must be 7
// ascending day boundaries.
func Place(events []*model.CanonicalEvent, week Week) (*Grid, error) {
	for i := 1; i < len(week); i++ {
		if !week[i].After(week[i-1]) {
			return nil, errors.New("week days must be strictly ascending")
		}
	}

	grid := &Grid{Week: week}
	loc := week[0].Location()

	for _, ev := range events {
		startDay := dayOf(ev.Start, loc)
		endDay := startDay
		if ev.HasEnd() {
			endDay = dayOf(ev.End, loc)
		}

		if endDay.After(startDay) {
			// Multi-day: clamp the span to the week's columns.
			first, last := -1, -1
			for i, d := range week {
				if first == -1 && !d.Before(startDay) {
					first = i
				}
				if !d.After(endDay) {
					last = i
				}
			}
			if startDay.Before(week[0]) {
				first = 0
			}
			if first == -1 || last == -1 || last < first {
				continue // outside this week
			}
			grid.Spans = append(grid.Spans, Span{
				UID:      ev.UID,
				ColStart: first + 1,
				ColEnd:   last + 2,
			})
			continue
		}

		for i, d := range week {
			if d.Equal(startDay) {
				grid.Days[i] = append(grid.Days[i], ev)
				break
			}
		}
	}

	return grid, nil
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
