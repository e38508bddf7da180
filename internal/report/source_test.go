package report

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dairybooth/dairyledger/internal/ledger"
	"github.com/dairybooth/dairyledger/internal/shared"
)

type memSource struct {
	parties   []ledger.Party
	records   []ledger.Record
	failed    []FailedNotification
	snapshots atomic.Int32
}

func (s *memSource) Snapshot(ctx context.Context, fn func(context.Context, View) error) error {
	s.snapshots.Add(1)
	return fn(ctx, memView{s})
}

type memView struct{ s *memSource }

func (v memView) GetParty(_ context.Context, id uuid.UUID) (ledger.Party, error) {
	for _, p := range v.s.parties {
		if p.ID == id {
			return p, nil
		}
	}
	return ledger.Party{}, shared.NotFound("party", id.String())
}

func (v memView) ListParties(_ context.Context, kind ledger.PartyKind) ([]ledger.Party, error) {
	var out []ledger.Party
	for _, p := range v.s.parties {
		if kind == "" || p.Kind == kind {
			out = append(out, p)
		}
	}
	return out, nil
}

func (v memView) GetRecord(_ context.Context, id uuid.UUID) (ledger.Record, bool, error) {
	for _, r := range v.s.records {
		if r.ID == id {
			return r, true, nil
		}
	}
	return ledger.Record{}, false, nil
}

func (v memView) filter(keep func(ledger.Record) bool) []ledger.Record {
	var out []ledger.Record
	for _, r := range v.s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func (v memView) PartyRecords(_ context.Context, partyID uuid.UUID, r shared.DateRange) ([]ledger.Record, error) {
	return v.filter(func(rec ledger.Record) bool { return rec.PartyID == partyID && r.Contains(rec.Date) }), nil
}

func (v memView) Records(_ context.Context, r shared.DateRange, kind ledger.RecordKind) ([]ledger.Record, error) {
	return v.filter(func(rec ledger.Record) bool { return (kind == "" || rec.Kind == kind) && r.Contains(rec.Date) }), nil
}

func (v memView) FailedNotifications(_ context.Context, r shared.DateRange, partyID uuid.UUID) ([]FailedNotification, error) {
	var out []FailedNotification
	for _, f := range v.s.failed {
		if r.Contains(f.Date) && (partyID == uuid.Nil || f.PartyID == partyID) {
			out = append(out, f)
		}
	}
	return out, nil
}
