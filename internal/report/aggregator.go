package report

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/dairybooth/dairyledger/internal/ledger"
	"github.com/dairybooth/dairyledger/internal/notify"
	"github.com/dairybooth/dairyledger/internal/shared"
)

// Aggregator builds daily, monthly and per-party reports on demand.
type Aggregator struct {
	source   Source
	calc     ledger.BalanceCalculator
	calendar shared.Calendar
	cache    *Cache
	logger   *slog.Logger
	builds   singleflight.Group
}

// NewAggregator constructs an aggregator. A nil cache builds every report from the source.
func NewAggregator(source Source, calc ledger.BalanceCalculator, calendar shared.Calendar, cache *Cache, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{source: source, calc: calc, calendar: calendar, cache: cache, logger: logger}
}

// Calendar returns the business calendar in use.
func (a *Aggregator) Calendar() shared.Calendar {
	return a.calendar
}

// DailyReport summarises one business day.
func (a *Aggregator) DailyReport(ctx context.Context, date time.Time) (Report, error) {
	if date.IsZero() {
		return Report{}, shared.Invalid("date", "required")
	}
	rng := a.calendar.Day(date)
	period := Period{Label: shared.FormatDate(rng.From), From: rng.From, To: rng.To}
	var out Report
	err := a.cached(ctx, &out, func(ctx context.Context) (any, error) {
		return a.buildRange(ctx, ScopeDaily, period, true)
	}, "daily", period.Label)
	return out, err
}

// MonthlyReport summarises one business month. Its totals equal the sum of the daily
// reports of the same days.
func (a *Aggregator) MonthlyReport(ctx context.Context, ym shared.YearMonth) (Report, error) {
	if ym.Month < time.January || ym.Month > time.December {
		return Report{}, shared.Invalid("month", "out of range")
	}
	rng := a.calendar.Month(ym)
	period := Period{Label: ym.String(), From: rng.From, To: rng.To}
	var out Report
	err := a.cached(ctx, &out, func(ctx context.Context) (any, error) {
		return a.buildRange(ctx, ScopeMonthly, period, false)
	}, "monthly", period.Label, shared.FormatDate(rng.From))
	return out, err
}

// PartyReport lists one party's records in [r.From, r.To) with running movement.
func (a *Aggregator) PartyReport(ctx context.Context, partyID uuid.UUID, r shared.DateRange) (Report, error) {
	if err := r.Validate(); err != nil {
		return Report{}, err
	}
	period := Period{
		Label: shared.FormatDate(r.From) + ".." + shared.FormatDate(r.To.AddDate(0, 0, -1)),
		From:  r.From,
		To:    r.To,
	}
	var out Report
	err := a.cached(ctx, &out, func(ctx context.Context) (any, error) {
		var rep Report
		err := a.source.Snapshot(ctx, func(ctx context.Context, v View) error {
			party, err := v.GetParty(ctx, partyID)
			if err != nil {
				return err
			}
			records, err := v.PartyRecords(ctx, partyID, r)
			if err != nil {
				return err
			}
			failed, err := v.FailedNotifications(ctx, r, partyID)
			if err != nil {
				return err
			}
			rep = summarize(ScopeParty, period, a.calc, map[uuid.UUID]ledger.Party{party.ID: party}, records, true)
			rep.Net = partyNet(rep)
			rep.FailedNotifications = failed
			return nil
		})
		return rep, err
	}, "party", partyID.String(), shared.FormatDate(r.From), shared.FormatDate(r.To))
	return out, err
}

// PaymentCycles splits a party's month into the 1-15 and 16-end payment cycles.
func (a *Aggregator) PaymentCycles(ctx context.Context, partyID uuid.UUID, ym shared.YearMonth) (CycleReport, error) {
	if ym.Month < time.January || ym.Month > time.December {
		return CycleReport{}, shared.Invalid("month", "out of range")
	}
	var out CycleReport
	err := a.cached(ctx, &out, func(ctx context.Context) (any, error) {
		var rep CycleReport
		err := a.source.Snapshot(ctx, func(ctx context.Context, v View) error {
			party, err := v.GetParty(ctx, partyID)
			if err != nil {
				return err
			}
			periods := cyclePeriods(ym)
			records, err := v.PartyRecords(ctx, partyID, shared.DateRange{From: periods[0].From, To: periods[len(periods)-1].To})
			if err != nil {
				return err
			}
			rep = buildCycles(party, ym, a.calc, records)
			return nil
		})
		return rep, err
	}, "cycles", partyID.String(), ym.String())
	return out, err
}

// SupplierSummary builds the daily or monthly summary message payload of a supplier.
// A monthly summary covers the business month containing date.
func (a *Aggregator) SupplierSummary(ctx context.Context, partyID uuid.UUID, scope notify.SummaryScope, date time.Time) (notify.SummaryPayload, error) {
	var rng shared.DateRange
	switch scope {
	case notify.SummaryDaily:
		rng = a.calendar.Day(date)
	case notify.SummaryMonthly:
		rng = a.calendar.Month(a.calendar.MonthOf(date))
	default:
		return notify.SummaryPayload{}, shared.Invalid("scope", "must be daily or monthly")
	}
	var out notify.SummaryPayload
	err := a.cached(ctx, &out, func(ctx context.Context) (any, error) {
		var summary notify.SummaryPayload
		err := a.source.Snapshot(ctx, func(ctx context.Context, v View) error {
			party, err := v.GetParty(ctx, partyID)
			if err != nil {
				return err
			}
			if party.Kind != ledger.PartySupplier {
				return shared.Invalid("id", "summaries are only sent to suppliers")
			}
			records, err := v.PartyRecords(ctx, partyID, rng)
			if err != nil {
				return err
			}
			summary = buildSummary(scope, party, rng.From, records)
			if summary.Days == 0 {
				return shared.NotFound("collections", partyID.String()+" "+shared.FormatDate(rng.From))
			}
			return nil
		})
		return summary, err
	}, "summary", string(scope), partyID.String(), shared.FormatDate(rng.From))
	return out, err
}

func partyNet(rep Report) decimal.Decimal {
	net := decimal.Zero
	for _, pt := range rep.Parties {
		net = net.Add(pt.Net)
	}
	return net
}

func (a *Aggregator) buildRange(ctx context.Context, scope Scope, period Period, withEntries bool) (Report, error) {
	var rep Report
	rng := shared.DateRange{From: period.From, To: period.To}
	err := a.source.Snapshot(ctx, func(ctx context.Context, v View) error {
		records, err := v.Records(ctx, rng, "")
		if err != nil {
			return err
		}
		parties, err := v.ListParties(ctx, "")
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]ledger.Party, len(parties))
		for _, p := range parties {
			byID[p.ID] = p
		}
		failed, err := v.FailedNotifications(ctx, rng, uuid.Nil)
		if err != nil {
			return err
		}
		rep = summarize(scope, period, a.calc, byID, records, withEntries)
		rep.FailedNotifications = failed
		return nil
	})
	return rep, err
}

// cached serves dest from the report cache, collapsing concurrent identical builds.
// Cache failures degrade to a direct build.
func (a *Aggregator) cached(ctx context.Context, dest any, build func(context.Context) (any, error), parts ...string) error {
	key, err := a.cache.BuildKey(ctx, parts...)
	if err != nil {
		a.logger.WarnContext(ctx, "report cache unavailable", slog.Any("error", err))
		key = ""
	}
	flightKey := key
	if flightKey == "" {
		flightKey = strings.Join(parts, ":")
	}

	ch := a.builds.DoChan(flightKey, func() (any, error) {
		// The shared build must outlive the first caller's cancellation.
		buildCtx := context.WithoutCancel(ctx)
		if key == "" {
			return build(buildCtx)
		}
		var (
			raw      json.RawMessage
			buildErr error
		)
		err := a.cache.FetchJSON(buildCtx, key, &raw, func(ctx context.Context) (any, error) {
			value, err := build(ctx)
			buildErr = err
			return value, err
		})
		if err == nil {
			return raw, nil
		}
		if buildErr != nil {
			return nil, buildErr
		}
		a.logger.WarnContext(buildCtx, "report cache fetch failed", slog.Any("error", err))
		return build(buildCtx)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return roundTrip(res.Val, dest)
	}
}
