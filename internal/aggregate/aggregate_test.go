package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"famcal/internal/classify"
	"famcal/internal/config"
	"famcal/internal/model"
	"famcal/internal/source"
	"famcal/internal/store/memory"
)

// stubAdapter serves fixed raw events or a fixed error.
type stubAdapter struct {
	id     string
	events []model.RawEvent
	err    error
}

func (s *stubAdapter) SourceID() string { return s.id }

func (s *stubAdapter) Fetch(context.Context) ([]model.RawEvent, int, error) {
	return s.events, 0, s.err
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Sources = []config.SourceConfig{
		{ID: "team-feed", Name: "Laget", Kind: "ics", InboxOnly: true},
		{ID: "school", Name: "Skolan", Kind: "api"},
	}
	return cfg
}

func newAggregator(cfg *config.Config, st *memory.Store, adapters ...source.Adapter) *Aggregator {
	rules := classify.NewRules(cfg.Classifier)
	return NewWithAdapters(cfg, st, rules, func(source.Window) []source.Adapter {
		return adapters
	})
}

func TestPassAggregatesAndClassifies(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	st := memory.New()

	start := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	feed := &stubAdapter{id: "team-feed", events: []model.RawEvent{
		{SourceID: "team-feed", ProviderID: "t1", Summary: "Träning P10", Start: start},
		{SourceID: "team-feed", ProviderID: "c1", Summary: "Vårcupen", Start: start.AddDate(0, 0, 5)},
	}}
	school := &stubAdapter{id: "school", events: []model.RawEvent{
		{SourceID: "school", ProviderID: "s1", Summary: "Utvecklingssamtal", Start: start.AddDate(0, 0, 2)},
	}}

	agg := newAggregator(cfg, st, feed, school)
	rep, err := agg.Pass(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, rep.New)
	require.Len(t, rep.Sources, 2)

	training, err := st.GetEvent(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, model.StateApproved, training.State, "training keyword auto-approves")
	require.True(t, training.IsLesson)

	cup, err := st.GetEvent(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, model.StatePending, cup.State, "notable keyword waits in the inbox")

	samtal, err := st.GetEvent(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, model.StateApproved, samtal.State, "trusted source auto-approves")
}

func TestPassIsolatesFailingSource(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	st := memory.New()

	start := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	good := &stubAdapter{id: "team-feed", events: []model.RawEvent{
		{SourceID: "team-feed", ProviderID: "t1", Summary: "Träning P10", Start: start},
	}}
	bad := &stubAdapter{id: "school", err: errors.New("connection refused")}

	agg := newAggregator(cfg, st, good, bad)
	rep, err := agg.Pass(ctx)
	require.NoError(t, err, "a failing source never fails the pass")
	require.Equal(t, 1, rep.New)

	var badStatus *SourceStatus
	for i := range rep.Sources {
		if rep.Sources[i].SourceID == "school" {
			badStatus = &rep.Sources[i]
		}
	}
	require.NotNil(t, badStatus)
	require.NotEmpty(t, badStatus.Error)
}

func TestPassMergesCrossSourceDuplicates(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	st := memory.New()

	start := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	feed := &stubAdapter{id: "team-feed", events: []model.RawEvent{
		{SourceID: "team-feed", ProviderID: "feed-1", Summary: "Träning P10", Start: start},
	}}
	school := &stubAdapter{id: "school", events: []model.RawEvent{
		{SourceID: "school", ProviderID: "api-1", Summary: "träning p10", Start: start.Add(2 * time.Minute)},
	}}

	agg := newAggregator(cfg, st, feed, school)
	rep, err := agg.Pass(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Merges, 1)

	events, err := st.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1, "duplicates across sources collapse to one survivor")
}

func TestPassKeepsRejectionAcrossRefetch(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	st := memory.New()

	start := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	feed := &stubAdapter{id: "team-feed", events: []model.RawEvent{
		{SourceID: "team-feed", ProviderID: "c1", Summary: "Vårcupen", Start: start},
	}}
	agg := newAggregator(cfg, st, feed)

	_, err := agg.Pass(ctx)
	require.NoError(t, err)
	require.NoError(t, st.SetState(ctx, "c1", model.StatePending, model.StateRejected))

	// The same record arrives again on the next fetch.
	rep, err := agg.Pass(ctx)
	require.NoError(t, err)
	require.Zero(t, rep.New)

	got, err := st.GetEvent(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, model.StateRejected, got.State, "tombstones are not re-offered")
}

func TestPassRefreshesDescriptiveFieldsOnly(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	st := memory.New()

	start := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	first := &stubAdapter{id: "team-feed", events: []model.RawEvent{
		{SourceID: "team-feed", ProviderID: "t1", Summary: "Träning P10", Start: start},
	}}
	agg := newAggregator(cfg, st, first)
	_, err := agg.Pass(ctx)
	require.NoError(t, err)

	// Location changed upstream.
	first.events[0].Location = "Nya hallen"
	rep, err := agg.Pass(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Updated)
	require.Zero(t, rep.New)

	got, err := st.GetEvent(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "Nya hallen", got.Location)
	require.Equal(t, model.StateApproved, got.State, "refresh never touches workflow state")
}

func TestPassDropsUnusableRecords(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	st := memory.New()

	feed := &stubAdapter{id: "team-feed", events: []model.RawEvent{
		{SourceID: "team-feed", Summary: "neither start nor id"},
	}}
	agg := newAggregator(cfg, st, feed)

	rep, err := agg.Pass(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Dropped)
	require.Zero(t, rep.New)
}
