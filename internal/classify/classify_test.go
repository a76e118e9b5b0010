package classify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"famcal/internal/config"
	"famcal/internal/model"
	"famcal/internal/store"
	"famcal/internal/store/memory"
)

func testRules() *Rules {
	return NewRules(config.ClassifierConfig{
		TrainingKeywords: []string{"träning", "lektion"},
		NotableKeywords:  []string{"cup", "turnering", "final"},
	})
}

func TestClassifyInitialState(t *testing.T) {
	rules := testRules()

	cases := []struct {
		name      string
		summary   string
		inboxOnly bool
		wantState model.EventState
		wantLess  bool
	}{
		{"trusted source auto-approves", "Styrelsemöte", false, model.StateApproved, false},
		{"inbox source waits", "Klassresa", true, model.StatePending, false},
		{"training keyword auto-approves", "Träning P10", true, model.StateApproved, true},
		{"notable keyword forces inbox", "Vårcupen 2025", true, model.StatePending, false},
		{"notable beats training", "Träning inför cupen", true, model.StatePending, false},
		{"case and whitespace folded", "  TRÄNING   p10 ", true, model.StateApproved, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := &model.CanonicalEvent{Summary: tc.summary, InboxOnly: tc.inboxOnly}
			rules.Classify(ev)
			require.Equal(t, tc.wantState, ev.State)
			require.Equal(t, tc.wantLess, ev.IsLesson)
		})
	}
}

func TestWorkflowTransitions(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	wf := NewWorkflow(st)

	ev := &model.CanonicalEvent{
		UID:     "ev-1",
		Summary: "Klassresa",
		Start:   time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC),
		State:   model.StatePending,
	}
	require.NoError(t, st.UpsertEvent(ctx, ev))

	require.NoError(t, wf.Approve(ctx, "ev-1"))
	got, err := st.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	require.Equal(t, model.StateApproved, got.State)

	// Approving again is stale: the expected current state is gone.
	require.ErrorIs(t, wf.Approve(ctx, "ev-1"), store.ErrStaleState)
}

func TestWorkflowRejectAndRestore(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	wf := NewWorkflow(st)

	ev := &model.CanonicalEvent{UID: "ev-2", State: model.StatePending}
	require.NoError(t, st.UpsertEvent(ctx, ev))

	require.NoError(t, wf.Reject(ctx, "ev-2"))
	got, err := st.GetEvent(ctx, "ev-2")
	require.NoError(t, err)
	require.Equal(t, model.StateRejected, got.State)

	require.NoError(t, wf.Restore(ctx, "ev-2"))
	got, err = st.GetEvent(ctx, "ev-2")
	require.NoError(t, err)
	require.Equal(t, model.StatePending, got.State)
}

func TestRestoreSyncedDemotesToApproved(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	wf := NewWorkflow(st)

	require.NoError(t, st.UpsertEvent(ctx, &model.CanonicalEvent{UID: "ev-3", State: model.StateSynced}))
	require.NoError(t, wf.Restore(ctx, "ev-3"))

	got, err := st.GetEvent(ctx, "ev-3")
	require.NoError(t, err)
	require.Equal(t, model.StateApproved, got.State)
}

func TestRestoreUnknownUIDIsNotFound(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	wf := NewWorkflow(st)

	require.ErrorIs(t, wf.Restore(ctx, "no-such-uid"), store.ErrNotFound)

	events, err := st.ListEvents(ctx)
	require.NoError(t, err)
	require.Empty(t, events, "failed restore must not mutate the persisted set")
}
