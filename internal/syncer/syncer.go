// Package syncer keeps the approved timeline reconciled with an
// external calendar service. It exclusively owns the local↔remote
// identifier correspondence; all remote mutations go through a pacer
// respecting the service's rate limits.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	appLog "famcal/internal/log"
	"famcal/internal/model"
	"famcal/internal/store"
)

// ErrRemoteNotFound signals HTTP 404/410 semantics from the remote
// service: the event is already gone.
var ErrRemoteNotFound = errors.New("remote event not found")

// SyncError scopes a remote failure (other than not-found) to one uid.
// It is surfaced per item; a subsequent pass retries, never this one.
type SyncError struct {
	UID string
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %s failed: %v", e.UID, e.Op, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// RemoteEvent is the service-side view of an event.
type RemoteEvent struct {
	ID          string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Created     time.Time
}

// RemoteCalendar is the boundary to the external calendar service.
// Delete and Update return ErrRemoteNotFound when the remote copy is
// already gone.
type RemoteCalendar interface {
	List(ctx context.Context, calendarID string, from, to time.Time) ([]RemoteEvent, error)
	Create(ctx context.Context, calendarID string, ev *model.CanonicalEvent) (remoteID string, err error)
	Update(ctx context.Context, calendarID, remoteID string, ev *model.CanonicalEvent) error
	Delete(ctx context.Context, calendarID, remoteID string) error
}

// Report is the per-uid outcome of a batch of sync operations.
type Report struct {
	Synced  []string
	Removed []string
	Failed  map[string]error
}

func newReport() *Report {
	return &Report{Failed: make(map[string]error)}
}

// Syncer drives idempotent create/update/delete against the remote
// service using the persisted mapping table.
type Syncer struct {
	store      store.Store
	remote     RemoteCalendar
	calendarID string

	pace     time.Duration
	lastCall time.Time
}

// New creates a Syncer. pace is the minimum delay between consecutive
// remote mutation calls; zero disables pacing (tests).
func New(st store.Store, remote RemoteCalendar, calendarID string, pace time.Duration) *Syncer {
	return &Syncer{store: st, remote: remote, calendarID: calendarID, pace: pace}
}

// throttle blocks until the minimum inter-call delay has elapsed since
// the previous remote mutation.
func (s *Syncer) throttle(ctx context.Context) {
	if s.pace <= 0 {
		return
	}
	if wait := s.pace - time.Since(s.lastCall); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
	}
	s.lastCall = time.Now()
}

// EnsureSynced pushes one event to the remote calendar: create when no
// mapping exists, update in place when one does. It never creates a
// second remote event for the same uid. On success an Approved event
// moves to Synced.
func (s *Syncer) EnsureSynced(ctx context.Context, ev *model.CanonicalEvent) error {
	mapping, err := s.store.GetMapping(ctx, ev.UID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := s.createRemote(ctx, ev); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		s.throttle(ctx)
		uerr := s.remote.Update(ctx, mapping.RemoteCalendarID, mapping.RemoteEventID, ev)
		if errors.Is(uerr, ErrRemoteNotFound) {
			// Remote copy vanished underneath the mapping; re-create.
			if err := s.store.DeleteMapping(ctx, ev.UID); err != nil {
				return &SyncError{UID: ev.UID, Op: "remap", Err: err}
			}
			if err := s.createRemote(ctx, ev); err != nil {
				return err
			}
		} else if uerr != nil {
			return &SyncError{UID: ev.UID, Op: "update", Err: uerr}
		}
	}

	if ev.State == model.StateApproved {
		if err := s.store.SetState(ctx, ev.UID, model.StateApproved, model.StateSynced); err != nil &&
			!errors.Is(err, store.ErrStaleState) {
			return err
		}
		ev.State = model.StateSynced
	}
	return nil
}

func (s *Syncer) createRemote(ctx context.Context, ev *model.CanonicalEvent) error {
	s.throttle(ctx)
	remoteID, err := s.remote.Create(ctx, s.calendarID, ev)
	if err != nil {
		return &SyncError{UID: ev.UID, Op: "create", Err: err}
	}
	return s.store.PutMapping(ctx, &model.SyncMapping{
		UID:              ev.UID,
		RemoteEventID:    remoteID,
		RemoteCalendarID: s.calendarID,
		CreatedAt:        time.Now(),
	})
}

// RemoveSynced deletes the remote copy for uid and drops the mapping.
// A remote "not found" is success: the desired end state already holds.
// No mapping at all is likewise a no-op.
func (s *Syncer) RemoveSynced(ctx context.Context, uid string) error {
	mapping, err := s.store.GetMapping(ctx, uid)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	s.throttle(ctx)
	if derr := s.remote.Delete(ctx, mapping.RemoteCalendarID, mapping.RemoteEventID); derr != nil &&
		!errors.Is(derr, ErrRemoteNotFound) {
		return &SyncError{UID: uid, Op: "delete", Err: derr}
	}
	return s.store.DeleteMapping(ctx, uid)
}

// SyncPass pushes every Approved/Synced event and clears mappings whose
// local event is gone or rejected. One failing uid never aborts the
// batch; the report carries per-item outcomes.
func (s *Syncer) SyncPass(ctx context.Context) (*Report, error) {
	rep := newReport()

	events, err := s.store.ListEventsByState(ctx, model.StateApproved, model.StateSynced)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		if err := s.EnsureSynced(ctx, ev); err != nil {
			rep.Failed[ev.UID] = err
			appLog.Error("sync failed", err, "uid", ev.UID)
			continue
		}
		rep.Synced = append(rep.Synced, ev.UID)
	}

	mappings, err := s.store.ListMappings(ctx)
	if err != nil {
		return rep, err
	}
	for _, m := range mappings {
		ev, gerr := s.store.GetEvent(ctx, m.UID)
		stale := errors.Is(gerr, store.ErrNotFound) || (gerr == nil && ev.State == model.StateRejected)
		if gerr != nil && !errors.Is(gerr, store.ErrNotFound) {
			rep.Failed[m.UID] = gerr
			continue
		}
		if !stale {
			continue
		}
		if err := s.RemoveSynced(ctx, m.UID); err != nil {
			rep.Failed[m.UID] = err
			appLog.Error("sync removal failed", err, "uid", m.UID)
			continue
		}
		rep.Removed = append(rep.Removed, m.UID)
	}

	appLog.Info("sync pass completed",
		"synced", len(rep.Synced), "removed", len(rep.Removed), "failed", len(rep.Failed))
	return rep, nil
}

// Reconcile compares the mapping table against a listing of the remote
// calendar. Orphaned mappings (remote copy gone) are dropped and their
// events demoted to Approved so the next pass re-pushes them. Remote
// duplicates sharing normalized summary and the exact start instant are
// collapsed to the earliest-created copy. This is deliberately a
// coarser, exact-time rule than the bucketed cross-source fingerprint:
// remote duplicates come from repeated pushes, not timestamp jitter.
func (s *Syncer) Reconcile(ctx context.Context, snapshot []RemoteEvent) (*Report, error) {
	rep := newReport()

	remoteByID := make(map[string]RemoteEvent, len(snapshot))
	for _, re := range snapshot {
		remoteByID[re.ID] = re
	}

	mappings, err := s.store.ListMappings(ctx)
	if err != nil {
		return nil, err
	}
	mappingByRemoteID := make(map[string]*model.SyncMapping, len(mappings))
	for _, m := range mappings {
		if _, ok := remoteByID[m.RemoteEventID]; !ok {
			if err := s.store.DeleteMapping(ctx, m.UID); err != nil {
				rep.Failed[m.UID] = err
				continue
			}
			if err := s.store.SetState(ctx, m.UID, model.StateSynced, model.StateApproved); err != nil &&
				!errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrStaleState) {
				rep.Failed[m.UID] = err
				continue
			}
			rep.Removed = append(rep.Removed, m.UID)
			appLog.Info("dropped orphaned mapping", "uid", m.UID, "remote_id", m.RemoteEventID)
			continue
		}
		mappingByRemoteID[m.RemoteEventID] = m
	}

	// Remote duplicate collapse: normalized summary + exact start.
	groups := make(map[string][]RemoteEvent)
	for _, re := range snapshot {
		key := model.NormalizeSummary(re.Summary) + "|" + re.Start.UTC().Format(time.RFC3339)
		groups[key] = append(groups[key], re)
	}
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if !group[i].Created.Equal(group[j].Created) {
				return group[i].Created.Before(group[j].Created)
			}
			return group[i].ID < group[j].ID
		})
		keeper := group[0]
		for _, dup := range group[1:] {
			s.throttle(ctx)
			if derr := s.remote.Delete(ctx, s.calendarID, dup.ID); derr != nil &&
				!errors.Is(derr, ErrRemoteNotFound) {
				rep.Failed[dup.ID] = &SyncError{UID: dup.ID, Op: "delete-duplicate", Err: derr}
				continue
			}
			// A mapping pointing at the deleted copy follows the keeper.
			if m, ok := mappingByRemoteID[dup.ID]; ok {
				m.RemoteEventID = keeper.ID
				if err := s.store.PutMapping(ctx, m); err != nil {
					rep.Failed[m.UID] = err
					continue
				}
			}
			rep.Removed = append(rep.Removed, dup.ID)
			appLog.Info("deleted remote duplicate", "remote_id", dup.ID, "kept", keeper.ID)
		}
	}

	return rep, nil
}

// ReconcileWindow lists the remote calendar over [from, to] and
// reconciles against the live snapshot.
func (s *Syncer) ReconcileWindow(ctx context.Context, from, to time.Time) (*Report, error) {
	snapshot, err := s.remote.List(ctx, s.calendarID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list remote calendar: %w", err)
	}
	return s.Reconcile(ctx, snapshot)
}
