package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"famcal/internal/model"
	"famcal/internal/store"
	"famcal/internal/store/memory"
)

// fakeRemote records calls and serves an in-memory remote calendar.
type fakeRemote struct {
	nextID  int
	events  map[string]RemoteEvent
	creates int
	updates int
	deletes int
	failOn  map[string]error // remote id -> error to return on mutation
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{events: map[string]RemoteEvent{}, failOn: map[string]error{}}
}

func (f *fakeRemote) List(_ context.Context, _ string, _, _ time.Time) ([]RemoteEvent, error) {
	out := make([]RemoteEvent, 0, len(f.events))
	for _, re := range f.events {
		out = append(out, re)
	}
	return out, nil
}

func (f *fakeRemote) Create(_ context.Context, _ string, ev *model.CanonicalEvent) (string, error) {
	f.creates++
	f.nextID++
	id := fmt.Sprintf("remote-%d", f.nextID)
	f.events[id] = RemoteEvent{ID: id, Summary: ev.Summary, Start: ev.Start, Created: time.Now()}
	return id, nil
}

func (f *fakeRemote) Update(_ context.Context, _ string, remoteID string, ev *model.CanonicalEvent) error {
	f.updates++
	if err, ok := f.failOn[remoteID]; ok {
		return err
	}
	if _, ok := f.events[remoteID]; !ok {
		return ErrRemoteNotFound
	}
	re := f.events[remoteID]
	re.Summary = ev.Summary
	re.Start = ev.Start
	f.events[remoteID] = re
	return nil
}

func (f *fakeRemote) Delete(_ context.Context, _ string, remoteID string) error {
	f.deletes++
	if err, ok := f.failOn[remoteID]; ok {
		return err
	}
	if _, ok := f.events[remoteID]; !ok {
		return ErrRemoteNotFound
	}
	delete(f.events, remoteID)
	return nil
}

func approvedEvent(uid string, start time.Time) *model.CanonicalEvent {
	return &model.CanonicalEvent{
		UID:     uid,
		Summary: "Träning P10",
		Start:   start,
		State:   model.StateApproved,
	}
}

func TestEnsureSyncedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	remote := newFakeRemote()
	s := New(st, remote, "cal-1", 0)

	ev := approvedEvent("ev-1", time.Date(2025, 4, 1, 18, 0, 0, 0, time.UTC))
	require.NoError(t, st.UpsertEvent(ctx, ev))

	require.NoError(t, s.EnsureSynced(ctx, ev))
	require.NoError(t, s.EnsureSynced(ctx, ev))

	require.Equal(t, 1, remote.creates, "second EnsureSynced must update, not create")
	require.Len(t, remote.events, 1)

	got, err := st.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	require.Equal(t, model.StateSynced, got.State)
}

func TestEnsureSyncedRecreatesWhenRemoteVanished(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	remote := newFakeRemote()
	s := New(st, remote, "cal-1", 0)

	ev := approvedEvent("ev-1", time.Date(2025, 4, 1, 18, 0, 0, 0, time.UTC))
	require.NoError(t, st.UpsertEvent(ctx, ev))
	require.NoError(t, s.EnsureSynced(ctx, ev))

	// Remote copy deleted behind our back.
	for id := range remote.events {
		delete(remote.events, id)
	}

	require.NoError(t, s.EnsureSynced(ctx, ev))
	require.Equal(t, 2, remote.creates)
	require.Len(t, remote.events, 1)

	mapping, err := st.GetMapping(ctx, "ev-1")
	require.NoError(t, err)
	_, ok := remote.events[mapping.RemoteEventID]
	require.True(t, ok, "mapping must point at the recreated remote event")
}

func TestRemoveSyncedToleratesRemoteNotFound(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	remote := newFakeRemote()
	s := New(st, remote, "cal-1", 0)

	require.NoError(t, st.PutMapping(ctx, &model.SyncMapping{
		UID:              "ev-1",
		RemoteEventID:    "gone-already",
		RemoteCalendarID: "cal-1",
	}))

	require.NoError(t, s.RemoveSynced(ctx, "ev-1"))

	_, err := st.GetMapping(ctx, "ev-1")
	require.ErrorIs(t, err, store.ErrNotFound, "mapping must be removed even when remote is gone")
}

func TestRemoveSyncedWithoutMappingIsNoop(t *testing.T) {
	ctx := context.Background()
	s := New(memory.New(), newFakeRemote(), "cal-1", 0)
	require.NoError(t, s.RemoveSynced(ctx, "never-synced"))
}

func TestSyncPassReportsPerUIDFailures(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	remote := newFakeRemote()
	s := New(st, remote, "cal-1", 0)

	good := approvedEvent("ev-good", time.Date(2025, 4, 1, 18, 0, 0, 0, time.UTC))
	bad := approvedEvent("ev-bad", time.Date(2025, 4, 2, 18, 0, 0, 0, time.UTC))
	bad.Summary = "Match"
	require.NoError(t, st.UpsertEvent(ctx, good))
	require.NoError(t, st.UpsertEvent(ctx, bad))

	// Pre-sync "bad" so it has a mapping, then make its updates fail.
	require.NoError(t, s.EnsureSynced(ctx, bad))
	m, err := st.GetMapping(ctx, "ev-bad")
	require.NoError(t, err)
	remote.failOn[m.RemoteEventID] = errors.New("backend unavailable")

	rep, err := s.SyncPass(ctx)
	require.NoError(t, err)
	require.Contains(t, rep.Synced, "ev-good")
	require.Contains(t, rep.Failed, "ev-bad")

	var syncErr *SyncError
	require.ErrorAs(t, rep.Failed["ev-bad"], &syncErr)
	require.Equal(t, "ev-bad", syncErr.UID)
}

func TestSyncPassRemovesMappingsForRejectedAndDeleted(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	remote := newFakeRemote()
	s := New(st, remote, "cal-1", 0)

	rejected := approvedEvent("ev-rej", time.Date(2025, 4, 1, 18, 0, 0, 0, time.UTC))
	require.NoError(t, st.UpsertEvent(ctx, rejected))
	require.NoError(t, s.EnsureSynced(ctx, rejected))
	require.NoError(t, st.SetState(ctx, "ev-rej", model.StateSynced, model.StateRejected))

	require.NoError(t, st.PutMapping(ctx, &model.SyncMapping{
		UID: "ev-deleted", RemoteEventID: "remote-x", RemoteCalendarID: "cal-1",
	}))

	rep, err := s.SyncPass(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"ev-rej", "ev-deleted"}, rep.Removed)

	mappings, err := st.ListMappings(ctx)
	require.NoError(t, err)
	require.Empty(t, mappings)
}

func TestReconcileDropsOrphanedMappings(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	remote := newFakeRemote()
	s := New(st, remote, "cal-1", 0)

	ev := approvedEvent("ev-1", time.Date(2025, 4, 1, 18, 0, 0, 0, time.UTC))
	require.NoError(t, st.UpsertEvent(ctx, ev))
	require.NoError(t, s.EnsureSynced(ctx, ev))

	// Snapshot without the event: the remote copy is gone.
	rep, err := s.Reconcile(ctx, nil)
	require.NoError(t, err)
	require.Contains(t, rep.Removed, "ev-1")

	_, err = st.GetMapping(ctx, "ev-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	got, err := st.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	require.Equal(t, model.StateApproved, got.State, "orphaned event re-queues for push")
}

func TestReconcileCollapsesExactTimeRemoteDuplicates(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	remote := newFakeRemote()
	s := New(st, remote, "cal-1", 0)

	start := time.Date(2025, 4, 1, 18, 0, 0, 0, time.UTC)
	older := RemoteEvent{ID: "r-1", Summary: "Träning P10", Start: start, Created: start.Add(-2 * time.Hour)}
	newer := RemoteEvent{ID: "r-2", Summary: "träning p10", Start: start, Created: start.Add(-1 * time.Hour)}
	distinct := RemoteEvent{ID: "r-3", Summary: "Träning P10", Start: start.Add(6 * time.Minute), Created: start}
	remote.events["r-1"] = older
	remote.events["r-2"] = newer
	remote.events["r-3"] = distinct

	rep, err := s.Reconcile(ctx, []RemoteEvent{older, newer, distinct})
	require.NoError(t, err)
	require.Equal(t, []string{"r-2"}, rep.Removed, "earliest-created copy is kept")

	_, ok := remote.events["r-1"]
	require.True(t, ok)
	_, ok = remote.events["r-2"]
	require.False(t, ok)
	_, ok = remote.events["r-3"]
	require.True(t, ok, "exact-time rule must not merge a 6-minute-apart event")
}
