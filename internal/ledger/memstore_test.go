package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dairybooth/dairyledger/internal/notify"
	"github.com/dairybooth/dairyledger/internal/shared"
)

// memStore serializes transactions with one mutex and applies a transaction's writes
// only when fn succeeds.
type memStore struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	parties map[uuid.UUID]Party
	records []Record
	events  map[uuid.UUID]notify.Event
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		parties: make(map[uuid.UUID]Party),
		events:  make(map[uuid.UUID]notify.Event),
	}}
}

func (s memState) clone() memState {
	out := memState{
		parties: make(map[uuid.UUID]Party, len(s.parties)),
		records: append([]Record(nil), s.records...),
		events:  make(map[uuid.UUID]notify.Event, len(s.events)),
	}
	for k, v := range s.parties {
		out.parties[k] = v
	}
	for k, v := range s.events {
		out.events[k] = v
	}
	return out
}

func (m *memStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := &memTx{state: m.state.clone()}
	if err := fn(ctx, work); err != nil {
		return err
	}
	m.state = work.state
	return nil
}

func (m *memStore) WithReadTx(ctx context.Context, fn func(context.Context, ReadTx) error) error {
	m.mu.Lock()
	snapshot := &memTx{state: m.state.clone()}
	m.mu.Unlock()
	return fn(ctx, snapshot)
}

func (m *memStore) events() []notify.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notify.Event
	for _, ev := range m.state.events {
		out = append(out, ev)
	}
	return out
}

func (m *memStore) setBalance(id uuid.UUID, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.state.parties[id]
	p.Balance = balance
	m.state.parties[id] = p
}

type memTx struct {
	state memState
}

func (t *memTx) GetParty(_ context.Context, id uuid.UUID) (Party, error) {
	p, ok := t.state.parties[id]
	if !ok {
		return Party{}, shared.NotFound("party", id.String())
	}
	return p, nil
}

func (t *memTx) LockParty(ctx context.Context, id uuid.UUID) (Party, error) {
	return t.GetParty(ctx, id)
}

func (t *memTx) ListParties(_ context.Context, kind PartyKind) ([]Party, error) {
	var out []Party
	for _, p := range t.state.parties {
		if kind == "" || p.Kind == kind {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *memTx) GetRecord(_ context.Context, id uuid.UUID) (Record, bool, error) {
	for _, rec := range t.state.records {
		if rec.ID == id {
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}

func (t *memTx) filter(keep func(Record) bool) []Record {
	var out []Record
	for _, rec := range t.state.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func (t *memTx) PartyRecords(_ context.Context, partyID uuid.UUID, r shared.DateRange) ([]Record, error) {
	return t.filter(func(rec Record) bool { return rec.PartyID == partyID && r.Contains(rec.Date) }), nil
}

func (t *memTx) Records(_ context.Context, r shared.DateRange, kind RecordKind) ([]Record, error) {
	return t.filter(func(rec Record) bool { return (kind == "" || rec.Kind == kind) && r.Contains(rec.Date) }), nil
}

func (t *memTx) InsertParty(_ context.Context, p Party) error {
	for _, existing := range t.state.parties {
		if existing.Kind == p.Kind && existing.Code == p.Code {
			return shared.Invalid("code", "%s %s already exists", p.Kind, p.Code)
		}
	}
	t.state.parties[p.ID] = p
	return nil
}

func (t *memTx) InsertRecord(_ context.Context, rec Record) error {
	for _, existing := range t.state.records {
		if existing.ID == rec.ID {
			return errDuplicateRecord
		}
	}
	t.state.records = append(t.state.records, rec)
	return nil
}

func (t *memTx) SetPartyBalance(_ context.Context, id uuid.UUID, balance decimal.Decimal) error {
	p, ok := t.state.parties[id]
	if !ok {
		return shared.NotFound("party", id.String())
	}
	p.Balance = balance
	t.state.parties[id] = p
	return nil
}

func (t *memTx) InsertNotification(_ context.Context, ev notify.Event) (bool, error) {
	if _, ok := t.state.events[ev.ID]; ok {
		return false, nil
	}
	t.state.events[ev.ID] = ev
	return true, nil
}
