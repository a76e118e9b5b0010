// Package memory implements the store contract in process memory.
// It backs tests and ephemeral runs; contents are lost on exit.
package memory

import (
	"context"
	"sort"
	"sync"

	"famcal/internal/model"
	"famcal/internal/store"
)

// Store is an in-memory implementation of store.Store guarded by a
// single RWMutex.
type Store struct {
	mu       sync.RWMutex
	closed   bool
	events   map[string]*model.CanonicalEvent
	mappings map[string]*model.SyncMapping
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		events:   make(map[string]*model.CanonicalEvent),
		mappings: make(map[string]*model.SyncMapping),
	}
}

func (s *Store) Init(ctx context.Context) error { return nil }

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Store) UpsertEvent(ctx context.Context, ev *model.CanonicalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	cp := *ev
	s.events[ev.UID] = &cp
	return nil
}

func (s *Store) GetEvent(ctx context.Context, uid string) (*model.CanonicalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	ev, ok := s.events[uid]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *Store) DeleteEvent(ctx context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	if _, ok := s.events[uid]; !ok {
		return store.ErrNotFound
	}
	delete(s.events, uid)
	return nil
}

func (s *Store) ListEvents(ctx context.Context) ([]*model.CanonicalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	out := make([]*model.CanonicalEvent, 0, len(s.events))
	for _, ev := range s.events {
		cp := *ev
		out = append(out, &cp)
	}
	sortEvents(out)
	return out, nil
}

func (s *Store) ListEventsByState(ctx context.Context, states ...model.EventState) ([]*model.CanonicalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	want := make(map[model.EventState]bool, len(states))
	for _, st := range states {
		want[st] = true
	}
	out := make([]*model.CanonicalEvent, 0)
	for _, ev := range s.events {
		if want[ev.State] {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sortEvents(out)
	return out, nil
}

func (s *Store) SetState(ctx context.Context, uid string, from, to model.EventState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	ev, ok := s.events[uid]
	if !ok {
		return store.ErrNotFound
	}
	if ev.State != from {
		return store.ErrStaleState
	}
	ev.State = to
	return nil
}

func (s *Store) PutMapping(ctx context.Context, m *model.SyncMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	cp := *m
	s.mappings[m.UID] = &cp
	return nil
}

func (s *Store) GetMapping(ctx context.Context, uid string) (*model.SyncMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	m, ok := s.mappings[uid]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) DeleteMapping(ctx context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	delete(s.mappings, uid)
	return nil
}

func (s *Store) ListMappings(ctx context.Context) ([]*model.SyncMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	out := make([]*model.SyncMapping, 0, len(s.mappings))
	for _, m := range s.mappings {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func sortEvents(evs []*model.CanonicalEvent) {
	sort.Slice(evs, func(i, j int) bool {
		if !evs[i].Start.Equal(evs[j].Start) {
			return evs[i].Start.Before(evs[j].Start)
		}
		return evs[i].UID < evs[j].UID
	})
}
