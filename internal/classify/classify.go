// Package classify decides which events auto-enter the shared calendar,
// which wait in the inbox, and validates manual approval transitions.
package classify

import (
	"context"
	"fmt"
	"strings"

	"famcal/internal/config"
	appLog "famcal/internal/log"
	"famcal/internal/model"
	"famcal/internal/store"
)

// Rules is the configurable keyword table driving initial
// classification. The engine carries no hard-coded domain keywords.
type Rules struct {
	training []string
	notable  []string
}

// NewRules builds the rule table from config; keywords are normalized
// the same way summaries are.
func NewRules(cfg config.ClassifierConfig) *Rules {
	return &Rules{
		training: normalizeAll(cfg.TrainingKeywords),
		notable:  normalizeAll(cfg.NotableKeywords),
	}
}

func normalizeAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if n := model.NormalizeSummary(w); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Classify assigns the initial state of a freshly canonicalized event
// and marks recurring lessons. Notable keywords beat training keywords:
// a tournament stays in the inbox even when the summary also names the
// training squad.
func (r *Rules) Classify(ev *model.CanonicalEvent) {
	norm := ev.NormalizedSummary()

	if !ev.InboxOnly {
		ev.State = model.StateApproved
		ev.IsLesson = matchAny(norm, r.training)
		return
	}
	if matchAny(norm, r.notable) {
		ev.State = model.StatePending
		return
	}
	if matchAny(norm, r.training) {
		ev.State = model.StateApproved
		ev.IsLesson = true
		return
	}
	ev.State = model.StatePending
}

func matchAny(norm string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(norm, kw) {
			return true
		}
	}
	return false
}

// Workflow applies manual approval actions through the store's
// compare-and-swap contract, so no action silently reverts another
// writer's concurrent decision.
type Workflow struct {
	store store.Store
}

func NewWorkflow(st store.Store) *Workflow {
	return &Workflow{store: st}
}

// Approve moves a pending inbox event into the shared calendar.
func (w *Workflow) Approve(ctx context.Context, uid string) error {
	return w.transition(ctx, uid, "approve", model.StatePending, model.StateApproved)
}

// Reject excludes a pending event. The event is retained as a tombstone
// so re-fetched copies are not offered again.
func (w *Workflow) Reject(ctx context.Context, uid string) error {
	return w.transition(ctx, uid, "reject", model.StatePending, model.StateRejected)
}

// Restore brings a rejected event back to the inbox, or demotes a
// synced event to approved so the next pass re-pushes it. Unknown uids
// fail with store.ErrNotFound.
func (w *Workflow) Restore(ctx context.Context, uid string) error {
	ev, err := w.store.GetEvent(ctx, uid)
	if err != nil {
		return err
	}
	switch ev.State {
	case model.StateRejected:
		return w.transition(ctx, uid, "restore", model.StateRejected, model.StatePending)
	case model.StateSynced:
		return w.transition(ctx, uid, "restore", model.StateSynced, model.StateApproved)
	default:
		return fmt.Errorf("%w: uid %s is %s, nothing to restore", store.ErrStaleState, uid, ev.State)
	}
}

func (w *Workflow) transition(ctx context.Context, uid, action string, from, to model.EventState) error {
	if err := w.store.SetState(ctx, uid, from, to); err != nil {
		return err
	}
	appLog.Info("event state changed", "uid", uid, "action", action, "from", from, "to", to)
	return nil
}
