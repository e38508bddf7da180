package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dairybooth/dairyledger/internal/shared"
)

type memStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]*Event
	log    []Transition
}

func newMemStore() *memStore {
	return &memStore{events: make(map[uuid.UUID]*Event)}
}

func (m *memStore) Insert(_ context.Context, ev Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[ev.ID]; ok {
		return false, nil
	}
	ev.State = StatePending
	ev.Attempts = 0
	m.events[ev.ID] = &ev
	m.log = append(m.log, Transition{EventID: ev.ID, To: StatePending, At: ev.CreatedAt})
	return true, nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return Event{}, shared.NotFound("notification", id.String())
	}
	return *ev, nil
}

func (m *memStore) Replay(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok || ev.State != StateFailed {
		return false, nil
	}
	ev.State = StatePending
	ev.Attempts = 0
	ev.NextAttemptAt = now
	ev.LeaseOwner = ""
	ev.LeaseExpiresAt = nil
	m.log = append(m.log, Transition{EventID: id, From: StateFailed, To: StatePending, At: now})
	return true, nil
}

func (m *memStore) ready(ev *Event, now time.Time) bool {
	return ev.State == StatePending || (ev.State == StateRetryWait && !ev.NextAttemptAt.After(now))
}

func (m *memStore) claimLocked(ev *Event, lease Lease) Event {
	from := ev.State
	expires := lease.Now.Add(lease.TTL)
	now := lease.Now
	ev.State = StateSending
	ev.Attempts++
	ev.LeaseOwner = lease.Owner
	ev.LeaseExpiresAt = &expires
	ev.LastAttemptAt = &now
	m.log = append(m.log, Transition{EventID: ev.ID, From: from, To: StateSending, At: now})
	return *ev
}

func (m *memStore) ClaimNext(_ context.Context, lease Lease) (Event, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ready []*Event
	for _, ev := range m.events {
		if m.ready(ev, lease.Now) {
			ready = append(ready, ev)
		}
	}
	if len(ready) == 0 {
		return Event{}, false, nil
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].NextAttemptAt.Equal(ready[j].NextAttemptAt) {
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		}
		return ready[i].NextAttemptAt.Before(ready[j].NextAttemptAt)
	})
	return m.claimLocked(ready[0], lease), true, nil
}

func (m *memStore) ClaimByID(_ context.Context, id uuid.UUID, lease Lease) (Event, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok || !m.ready(ev, lease.Now) {
		return Event{}, false, nil
	}
	return m.claimLocked(ev, lease), true, nil
}

func (m *memStore) Complete(_ context.Context, c Completion) (bool, error) {
	if err := checkTransition(StateSending, c.To); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[c.EventID]
	if !ok || ev.State != StateSending || ev.LeaseOwner != c.Owner {
		return false, nil
	}
	ev.State = c.To
	ev.NextAttemptAt = c.At
	if !c.NextAttemptAt.IsZero() {
		ev.NextAttemptAt = c.NextAttemptAt
	}
	if c.DeliveryID != "" {
		ev.DeliveryID = c.DeliveryID
	}
	if c.Error != "" {
		msg := c.Error
		ev.LastError = &msg
	}
	ev.LeaseOwner = ""
	ev.LeaseExpiresAt = nil
	m.log = append(m.log, Transition{EventID: c.EventID, From: StateSending, To: c.To, At: c.At, Error: c.Error})
	return true, nil
}

func (m *memStore) ReclaimExpired(_ context.Context, now time.Time, maxAttempts int, backoff Backoff) ([]Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transition
	for _, ev := range m.events {
		if ev.State != StateSending || ev.LeaseExpiresAt == nil || !ev.LeaseExpiresAt.Before(now) {
			continue
		}
		to, next := StateRetryWait, now.Add(backoff.Delay(ev.Attempts))
		if ev.Attempts >= maxAttempts {
			to, next = StateFailed, now
		}
		ev.State = to
		ev.NextAttemptAt = next
		ev.LeaseOwner = ""
		ev.LeaseExpiresAt = nil
		t := Transition{EventID: ev.ID, From: StateSending, To: to, At: now, Error: "lease expired"}
		m.log = append(m.log, t)
		out = append(out, t)
	}
	return out, nil
}

func (m *memStore) ListByState(_ context.Context, state State, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.State == state && (limit <= 0 || len(out) < limit) {
			out = append(out, *ev)
		}
	}
	return out, nil
}

func (m *memStore) Transitions(_ context.Context, id uuid.UUID) ([]Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transition
	for _, t := range m.log {
		if t.EventID == id {
			out = append(out, t)
		}
	}
	return out, nil
}
