package canonical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"famcal/internal/config"
	"famcal/internal/model"
)

var feedSrc = config.SourceConfig{
	ID:        "team-feed",
	Name:      "Laget P10",
	Kind:      "ics",
	InboxOnly: true,
}

func TestCanonicalizeKeepsProviderID(t *testing.T) {
	now := time.Now()
	raw := model.RawEvent{
		SourceID:   "team-feed",
		ProviderID: "abc@provider",
		Summary:    "Träning P10",
		Start:      time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC),
	}

	ev, err := Canonicalize(raw, feedSrc, now)
	require.NoError(t, err)
	require.Equal(t, "abc@provider", ev.UID)
	require.Equal(t, "Laget P10", ev.Source)
	require.Equal(t, model.SourceSubscription, ev.OriginalSource)
	require.True(t, ev.InboxOnly)
}

func TestCanonicalizeDerivesUIDDeterministically(t *testing.T) {
	now := time.Now()
	start := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	raw := model.RawEvent{SourceID: "team-feed", Summary: "Träning P10", Start: start}

	a, err := Canonicalize(raw, feedSrc, now)
	require.NoError(t, err)
	b, err := Canonicalize(raw, feedSrc, now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, a.UID, b.UID)
	require.Equal(t, DeriveUID("  träning   p10 ", start), a.UID,
		"derivation uses the normalized summary")
}

func TestCanonicalizeDropsUnusableRecord(t *testing.T) {
	raw := model.RawEvent{SourceID: "team-feed", Summary: "no start, no id"}

	_, err := Canonicalize(raw, feedSrc, time.Now())
	require.ErrorIs(t, err, ErrUnusable)
}

func TestCanonicalizeDiscardsInvertedEnd(t *testing.T) {
	start := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	raw := model.RawEvent{
		SourceID:   "team-feed",
		ProviderID: "abc",
		Summary:    "Träning",
		Start:      start,
		End:        start.Add(-time.Hour),
	}

	ev, err := Canonicalize(raw, feedSrc, time.Now())
	require.NoError(t, err)
	require.False(t, ev.HasEnd())
}

func TestCanonicalizeAPISourceKind(t *testing.T) {
	src := config.SourceConfig{ID: "school", Name: "Skolan", Kind: "api"}
	raw := model.RawEvent{SourceID: "school", ProviderID: "x1", Summary: "Utvecklingssamtal",
		Start: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)}

	ev, err := Canonicalize(raw, src, time.Now())
	require.NoError(t, err)
	require.Equal(t, model.SourceRemoteAPI, ev.OriginalSource)
	require.False(t, ev.InboxOnly)
}

func TestManualEventIsNeverInboxOnly(t *testing.T) {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	ev := Manual("Mormors födelsedag", "", "", start, start.Add(3*time.Hour), "anna", time.Now())

	require.NotEmpty(t, ev.UID)
	require.False(t, ev.InboxOnly)
	require.Equal(t, model.SourceManual, ev.OriginalSource)
	require.Equal(t, "anna", ev.CreatedBy)
}
