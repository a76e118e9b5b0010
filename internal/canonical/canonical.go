// Package canonical maps raw source records into the canonical event
// model: uid assignment, normalization, and the drop rule for records
// too broken to aggregate.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"famcal/internal/config"
	"famcal/internal/model"
)

// ErrUnusable marks a record dropped at canonicalization: it lacks both
// a usable start time and a usable identifier. Never fatal to a batch.
var ErrUnusable = errors.New("record unusable")

// Canonicalize maps one raw record from the given source into a
// canonical event. Missing optional fields default to empty/absent; a
// record with neither start nor identifier fails with ErrUnusable.
func Canonicalize(raw model.RawEvent, src config.SourceConfig, now time.Time) (*model.CanonicalEvent, error) {
	if raw.Start.IsZero() && raw.ProviderID == "" {
		return nil, fmt.Errorf("%w: source %s has record with neither start nor id", ErrUnusable, src.ID)
	}

	end := raw.End
	if !end.IsZero() && end.Before(raw.Start) {
		// An end before the start is provider noise; treat as a point event.
		end = time.Time{}
	}

	kind := model.SourceSubscription
	if src.Kind == "api" {
		kind = model.SourceRemoteAPI
	}

	ev := &model.CanonicalEvent{
		UID:            raw.ProviderID,
		Summary:        raw.Summary,
		Description:    raw.Description,
		Location:       raw.Location,
		Start:          raw.Start,
		End:            end,
		AllDay:         raw.AllDay,
		Source:         src.Name,
		OriginalSource: kind,
		InboxOnly:      src.InboxOnly,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ev.Source == "" {
		ev.Source = src.ID
	}
	if ev.UID == "" {
		ev.UID = DeriveUID(ev.Summary, ev.Start)
	}
	return ev, nil
}

// Manual builds a locally created event. Manual events are never
// inbox-only and record who created them, which exempts them from
// automated filtering.
func Manual(summary, description, location string, start, end time.Time, createdBy string, now time.Time) *model.CanonicalEvent {
	return &model.CanonicalEvent{
		UID:            uuid.New().String(),
		Summary:        summary,
		Description:    description,
		Location:       location,
		Start:          start,
		End:            end,
		Source:         "manual",
		OriginalSource: model.SourceManual,
		InboxOnly:      false,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// DeriveUID deterministically derives an identifier for records whose
// source provides none: the first 16 hex chars of
// sha256(normalized summary | unix start).
func DeriveUID(summary string, start time.Time) string {
	key := model.NormalizeSummary(summary) + "|" + strconv.FormatInt(start.Unix(), 10)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
