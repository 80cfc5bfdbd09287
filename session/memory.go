/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type record struct {
	session *Session
	version uint64
}

type openEvent struct {
	added   bool
	session *Session
}

// MemoryStore keeps sessions in process memory. Writes are serialised under a
// single lock and published to subscriber feeds before the lock is released,
// so every watcher sees the writes to a record in the order they were applied.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*record
	watchers map[string]map[*feed[*Session]]struct{}
	open     map[*feed[openEvent]]struct{}

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*record),
		watchers: make(map[string]map[*feed[*Session]]struct{}),
		open:     make(map[*feed[openEvent]]struct{}),
		now:      time.Now,
	}
}

func (m *MemoryStore) Create(ctx context.Context, s *Session) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == nil {
		return "", errors.New("cannot create an empty session")
	}
	if !s.State.Valid() {
		return "", fmt.Errorf("cannot create session in state %d", s.State)
	}

	c := s.Clone()
	c.ID = uuid.NewString()
	c.CreatedAt = m.now()
	c.UpdatedAt = c.CreatedAt

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[c.ID] = &record{session: c, version: 1}
	m.publishLocked(c.ID, nil, c)

	return c.ID, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.session.Clone(), nil
}

func (m *MemoryStore) ListOpen(ctx context.Context) ([]*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.openLocked(), nil
}

func (m *MemoryStore) openLocked() []*Session {
	result := make([]*Session, 0, len(m.records))
	for _, rec := range m.records {
		if rec.session.State == Open {
			result = append(result, rec.session.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func (m *MemoryStore) SubscribeOpen(ctx context.Context, onAdded, onRemoved func(*Session)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var f *feed[openEvent]
	f = newFeed(ctx, func(ev openEvent) {
		if ev.added {
			onAdded(ev.session)
		} else {
			onRemoved(ev.session)
		}
	}, func() {
		m.mu.Lock()
		delete(m.open, f)
		m.mu.Unlock()
	})
	m.open[f] = struct{}{}

	for _, s := range m.openLocked() {
		f.push(openEvent{added: true, session: s})
	}

	return nil
}

func (m *MemoryStore) Watch(ctx context.Context, id string, onChange func(*Session)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}

	var f *feed[*Session]
	f = newFeed(ctx, onChange, func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		delete(m.watchers[id], f)
		if len(m.watchers[id]) == 0 {
			delete(m.watchers, id)
		}
	})
	if m.watchers[id] == nil {
		m.watchers[id] = make(map[*feed[*Session]]struct{})
	}
	m.watchers[id][f] = struct{}{}

	f.push(rec.session.Clone())

	return nil
}

func (m *MemoryStore) Transaction(ctx context.Context, id string, mutate Mutator) (bool, *Session, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, nil, err
		}

		m.mu.RLock()
		rec, ok := m.records[id]
		if !ok {
			m.mu.RUnlock()
			return false, nil, ErrNotFound
		}
		version := rec.version
		current := rec.session.Clone()
		m.mu.RUnlock()

		draft := current.Clone()
		if err := mutate(draft); err != nil {
			if errors.Is(err, ErrAbort) {
				return false, current, nil
			}
			return false, nil, err
		}
		if draft.State < current.State {
			return false, nil, ErrStateRegression
		}

		m.mu.Lock()
		rec, ok = m.records[id]
		if !ok {
			m.mu.Unlock()
			return false, nil, ErrNotFound
		}
		if rec.version != version {
			m.mu.Unlock()
			continue
		}

		m.commitLocked(id, rec, draft)
		final := rec.session.Clone()
		m.mu.Unlock()

		return true, final, nil
	}

	return false, nil, ErrTooManyAttempts
}

func (m *MemoryStore) Update(ctx context.Context, id string, patch Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}

	draft := rec.session.Clone()
	if err := patch.Apply(draft); err != nil {
		return err
	}

	m.commitLocked(id, rec, draft)

	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	m.publishLocked(id, rec.session, nil)

	return nil
}

func (m *MemoryStore) Stale(ctx context.Context, before time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, rec := range m.records {
		if rec.session.UpdatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	return ids, nil
}

// commitLocked stores draft as the new value of rec. Writes that change
// nothing are not published.
func (m *MemoryStore) commitLocked(id string, rec *record, draft *Session) {
	draft.ID = id
	draft.CreatedAt = rec.session.CreatedAt
	draft.UpdatedAt = rec.session.UpdatedAt
	if reflect.DeepEqual(draft, rec.session) {
		return
	}

	draft.UpdatedAt = m.now()
	prev := rec.session
	rec.session = draft
	rec.version++

	m.publishLocked(id, prev, draft)
}

func (m *MemoryStore) publishLocked(id string, prev, next *Session) {
	for f := range m.watchers[id] {
		f.push(next.Clone())
	}

	wasOpen := prev != nil && prev.State == Open
	isOpen := next != nil && next.State == Open
	switch {
	case !wasOpen && isOpen:
		for f := range m.open {
			f.push(openEvent{added: true, session: next.Clone()})
		}
	case wasOpen && !isOpen:
		for f := range m.open {
			f.push(openEvent{added: false, session: prev.Clone()})
		}
	}
}
