package report

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dairybooth/dairyledger/internal/ledger"
	"github.com/dairybooth/dairyledger/internal/notify"
	"github.com/dairybooth/dairyledger/internal/shared"
)

var (
	supplierA = ledger.Party{ID: uuid.New(), Kind: ledger.PartySupplier, Code: "S-1", Name: "Ramesh"}
	supplierB = ledger.Party{ID: uuid.New(), Kind: ledger.PartySupplier, Code: "S-2", Name: "Lakshmi"}
	customerA = ledger.Party{ID: uuid.New(), Kind: ledger.PartyCustomer, Code: "C-1", Name: "Hotel"}
	utcCal    = shared.Calendar{Location: time.UTC, MonthStartDay: 1}
	partyCalc = ledger.BalanceCalculator{Convention: ledger.SignParty}
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func rec(p ledger.Party, kind ledger.RecordKind, date time.Time, session ledger.Session, qty, rate string) ledger.Record {
	q := decimal.RequireFromString(qty)
	r := decimal.RequireFromString(rate)
	amount := q.Mul(r)
	if kind == ledger.RecordPayment {
		amount, q, r = q, decimal.Zero, decimal.Zero
	}
	return ledger.Record{
		ID: uuid.New(), Kind: kind, PartyID: p.ID, Date: date, Session: session,
		Quantity: q, Rate: r, Amount: amount,
	}
}

func randomSource(seed uint64, from time.Time, days int) *memSource {
	rng := rand.New(rand.NewSource(int64(seed ^ 0x9e37)))
	src := &memSource{parties: []ledger.Party{supplierA, supplierB, customerA}}
	for i := 0; i < 300; i++ {
		d := from.AddDate(0, 0, rng.Intn(days))
		qty := decimal.New(int64(rng.Intn(3000)+1), -2).String()
		rate := decimal.New(int64(rng.Intn(5000)+2500), -2).String()
		session := ledger.SessionMorning
		if rng.Intn(2) == 0 {
			session = ledger.SessionEvening
		}
		switch rng.Intn(5) {
		case 0:
			src.records = append(src.records, rec(customerA, ledger.RecordSale, d, session, qty, rate))
		case 1:
			src.records = append(src.records, rec(supplierB, ledger.RecordPayment, d, "", qty, "0"))
		case 2:
			src.records = append(src.records, rec(customerA, ledger.RecordPayment, d, "", qty, "0"))
		default:
			p := supplierA
			if rng.Intn(2) == 0 {
				p = supplierB
			}
			src.records = append(src.records, rec(p, ledger.RecordCollection, d, session, qty, rate))
		}
	}
	return src
}

func TestMonthlyReportEqualsSumOfDailyReports(t *testing.T) {
	ctx := context.Background()
	// spill into neighbouring months so the boundaries are exercised
	src := randomSource(7, day(2026, 1, 25), 45)
	agg := NewAggregator(src, partyCalc, utcCal, nil, nil)

	monthly, err := agg.MonthlyReport(ctx, shared.YearMonth{Year: 2026, Month: time.February})
	require.NoError(t, err)
	require.Equal(t, day(2026, 2, 1), monthly.Period.From)
	require.Equal(t, day(2026, 3, 1), monthly.Period.To)

	sum := zeroReport(ScopeMonthly, monthly.Period)
	partyNets := map[uuid.UUID]decimal.Decimal{}
	for _, d := range (shared.DateRange{From: monthly.Period.From, To: monthly.Period.To}).Days() {
		daily, err := agg.DailyReport(ctx, d)
		require.NoError(t, err)
		sum.QuantityCollected = sum.QuantityCollected.Add(daily.QuantityCollected)
		sum.QuantitySold = sum.QuantitySold.Add(daily.QuantitySold)
		sum.AmountCollected = sum.AmountCollected.Add(daily.AmountCollected)
		sum.AmountSold = sum.AmountSold.Add(daily.AmountSold)
		sum.AmountPaid = sum.AmountPaid.Add(daily.AmountPaid)
		sum.AmountReceived = sum.AmountReceived.Add(daily.AmountReceived)
		sum.Net = sum.Net.Add(daily.Net)
		for _, pt := range daily.Parties {
			partyNets[pt.PartyID] = partyNets[pt.PartyID].Add(pt.Net)
		}
	}

	require.True(t, monthly.QuantityCollected.Equal(sum.QuantityCollected))
	require.True(t, monthly.QuantitySold.Equal(sum.QuantitySold))
	require.True(t, monthly.AmountCollected.Equal(sum.AmountCollected))
	require.True(t, monthly.AmountSold.Equal(sum.AmountSold))
	require.True(t, monthly.AmountPaid.Equal(sum.AmountPaid))
	require.True(t, monthly.AmountReceived.Equal(sum.AmountReceived))
	require.True(t, monthly.Net.Equal(sum.Net))
	require.NotEmpty(t, monthly.Parties)
	for _, pt := range monthly.Parties {
		require.True(t, pt.Net.Equal(partyNets[pt.PartyID]), pt.Code)
	}
}

func TestEmptyRangeGivesZeroReport(t *testing.T) {
	agg := NewAggregator(&memSource{parties: []ledger.Party{supplierA}}, partyCalc, utcCal, nil, nil)

	rep, err := agg.DailyReport(context.Background(), day(2026, 3, 4))
	require.NoError(t, err)
	require.True(t, rep.QuantityCollected.IsZero())
	require.True(t, rep.AmountCollected.IsZero())
	require.True(t, rep.Net.IsZero())
	require.Empty(t, rep.Parties)
	require.Equal(t, [][]string{CSVHeader}, Rows(rep))

	rep, err = agg.PartyReport(context.Background(), supplierA.ID, shared.DateRange{From: day(2026, 3, 1), To: day(2026, 4, 1)})
	require.NoError(t, err)
	require.Empty(t, rep.Entries)
	require.Equal(t, [][]string{CSVHeader}, Rows(rep))
}

func TestMonthBoundariesAreHalfOpen(t *testing.T) {
	src := &memSource{
		parties: []ledger.Party{supplierA},
		records: []ledger.Record{
			rec(supplierA, ledger.RecordCollection, day(2026, 2, 28), ledger.SessionEvening, "1", "40"),
			rec(supplierA, ledger.RecordCollection, day(2026, 3, 1), ledger.SessionMorning, "2", "40"),
			rec(supplierA, ledger.RecordCollection, day(2026, 3, 31), ledger.SessionEvening, "3", "40"),
			rec(supplierA, ledger.RecordCollection, day(2026, 4, 1), ledger.SessionMorning, "4", "40"),
		},
	}
	agg := NewAggregator(src, partyCalc, utcCal, nil, nil)
	rep, err := agg.MonthlyReport(context.Background(), shared.YearMonth{Year: 2026, Month: time.March})
	require.NoError(t, err)
	require.Equal(t, "5", rep.QuantityCollected.String())

	shifted := NewAggregator(src, partyCalc, shared.Calendar{Location: time.UTC, MonthStartDay: 16}, nil, nil)
	rep, err = shifted.MonthlyReport(context.Background(), shared.YearMonth{Year: 2026, Month: time.February})
	require.NoError(t, err)
	require.Equal(t, day(2026, 2, 16), rep.Period.From)
	require.Equal(t, day(2026, 3, 16), rep.Period.To)
	require.Equal(t, "3", rep.QuantityCollected.String())
}

func TestPartyReportRunningBalanceAndRows(t *testing.T) {
	src := &memSource{
		parties: []ledger.Party{supplierA, supplierB},
		records: []ledger.Record{
			rec(supplierA, ledger.RecordCollection, day(2026, 3, 1), ledger.SessionMorning, "10", "40"),
			rec(supplierB, ledger.RecordCollection, day(2026, 3, 1), ledger.SessionMorning, "5", "40"),
			rec(supplierA, ledger.RecordCollection, day(2026, 3, 2), ledger.SessionEvening, "5", "42"),
			rec(supplierA, ledger.RecordPayment, day(2026, 3, 3), "", "300", "0"),
		},
		failed: []FailedNotification{
			{EventID: uuid.New(), PartyID: supplierA.ID, Date: day(2026, 3, 2), Attempts: 5, LastError: "timeout"},
			{EventID: uuid.New(), PartyID: supplierB.ID, Date: day(2026, 3, 1), Attempts: 1},
		},
	}
	agg := NewAggregator(src, partyCalc, utcCal, nil, nil)
	rep, err := agg.PartyReport(context.Background(), supplierA.ID, shared.DateRange{From: day(2026, 3, 1), To: day(2026, 3, 4)})
	require.NoError(t, err)
	require.Equal(t, ScopeParty, rep.Scope)
	require.Len(t, rep.Entries, 3)
	require.Equal(t, "310", rep.Net.String())
	require.Len(t, rep.FailedNotifications, 1)
	require.Equal(t, "timeout", rep.FailedNotifications[0].LastError)

	require.Equal(t, [][]string{
		CSVHeader,
		{"2026-03-01", "S-1", "10.00", "40.00", "400.00", "400.00"},
		{"2026-03-02", "S-1", "5.00", "42.00", "210.00", "610.00"},
		{"2026-03-03", "S-1", "0.00", "0.00", "300.00", "310.00"},
	}, Rows(rep))

	require.Len(t, rep.Parties, 1)
	require.Equal(t, "40.67", rep.Parties[0].AverageRate.String())

	_, err = agg.PartyReport(context.Background(), uuid.New(), shared.DateRange{From: day(2026, 3, 1), To: day(2026, 3, 4)})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDailyReportRowsPerParty(t *testing.T) {
	src := &memSource{
		parties: []ledger.Party{supplierA, customerA},
		records: []ledger.Record{
			rec(supplierA, ledger.RecordCollection, day(2026, 3, 1), ledger.SessionMorning, "10", "40"),
			rec(supplierA, ledger.RecordCollection, day(2026, 3, 1), ledger.SessionEvening, "10", "44"),
			rec(customerA, ledger.RecordSale, day(2026, 3, 1), ledger.SessionMorning, "4", "60"),
		},
	}
	agg := NewAggregator(src, partyCalc, utcCal, nil, nil)
	rep, err := agg.DailyReport(context.Background(), day(2026, 3, 1))
	require.NoError(t, err)
	require.Equal(t, "-600", rep.Net.String())
	require.Equal(t, [][]string{
		CSVHeader,
		{"2026-03-01", "S-1", "20.00", "42.00", "840.00", "840.00"},
		{"2026-03-01", "C-1", "4.00", "60.00", "240.00", "240.00"},
	}, Rows(rep))
}

func TestPaymentCycles(t *testing.T) {
	src := &memSource{
		parties: []ledger.Party{supplierA},
		records: []ledger.Record{
			rec(supplierA, ledger.RecordCollection, day(2026, 2, 1), ledger.SessionMorning, "10", "40"),
			rec(supplierA, ledger.RecordCollection, day(2026, 2, 15), ledger.SessionEvening, "5", "40"),
			rec(supplierA, ledger.RecordCollection, day(2026, 2, 16), ledger.SessionMorning, "2", "40"),
			rec(supplierA, ledger.RecordPayment, day(2026, 2, 28), "", "100", "0"),
			rec(supplierA, ledger.RecordCollection, day(2026, 3, 1), ledger.SessionMorning, "99", "40"),
		},
	}
	agg := NewAggregator(src, partyCalc, utcCal, nil, nil)
	rep, err := agg.PaymentCycles(context.Background(), supplierA.ID, shared.YearMonth{Year: 2026, Month: time.February})
	require.NoError(t, err)
	require.Len(t, rep.Cycles, 2)

	first, second := rep.Cycles[0], rep.Cycles[1]
	require.Equal(t, "2026-02 1-15", first.Period.Label)
	require.Equal(t, "2026-02 16-28", second.Period.Label)
	require.Equal(t, "15", first.Quantity.String())
	require.Equal(t, "10", first.Morning.Quantity.String())
	require.Equal(t, "5", first.Evening.Quantity.String())
	require.Equal(t, "600", first.Net.String())
	require.Equal(t, "2", second.Quantity.String())
	require.Equal(t, "100", second.Paid.String())
	require.Equal(t, "-20", second.Net.String())
}

func TestReportCacheServesUntilBumped(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, time.Minute)

	src := &memSource{
		parties: []ledger.Party{supplierA},
		records: []ledger.Record{rec(supplierA, ledger.RecordCollection, day(2026, 3, 1), ledger.SessionMorning, "10", "40")},
	}
	agg := NewAggregator(src, partyCalc, utcCal, cache, nil)
	ctx := context.Background()

	first, err := agg.DailyReport(ctx, day(2026, 3, 1))
	require.NoError(t, err)
	second, err := agg.DailyReport(ctx, day(2026, 3, 1))
	require.NoError(t, err)
	require.EqualValues(t, 1, src.snapshots.Load())
	require.True(t, first.AmountCollected.Equal(second.AmountCollected))
	require.Equal(t, "400", second.AmountCollected.String())

	src.records = append(src.records, rec(supplierA, ledger.RecordCollection, day(2026, 3, 1), ledger.SessionEvening, "5", "40"))
	require.NoError(t, cache.Bump(ctx))

	third, err := agg.DailyReport(ctx, day(2026, 3, 1))
	require.NoError(t, err)
	require.EqualValues(t, 2, src.snapshots.Load())
	require.Equal(t, "600", third.AmountCollected.String())
}

func TestReportCacheDegradesWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	src := &memSource{
		parties: []ledger.Party{supplierA},
		records: []ledger.Record{rec(supplierA, ledger.RecordCollection, day(2026, 3, 1), ledger.SessionMorning, "10", "40")},
	}
	agg := NewAggregator(src, partyCalc, utcCal, NewCache(client, time.Minute), nil)
	rep, err := agg.DailyReport(context.Background(), day(2026, 3, 1))
	require.NoError(t, err)
	require.Equal(t, "400", rep.AmountCollected.String())
}

func BenchmarkMonthlyReport(b *testing.B) {
	src := randomSource(11, day(2026, 3, 1), 31)
	agg := NewAggregator(src, partyCalc, utcCal, nil, nil)
	ym := shared.YearMonth{Year: 2026, Month: time.March}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := agg.MonthlyReport(context.Background(), ym); err != nil {
			b.Fatal(err)
		}
	}
}

func TestSupplierSummary(t *testing.T) {
	ctx := context.Background()
	withBalance := func(r ledger.Record, milk ledger.MilkType, balance string) ledger.Record {
		r.MilkType = milk
		r.BalanceAfter = decimal.RequireFromString(balance)
		return r
	}
	src := &memSource{
		parties: []ledger.Party{supplierA, supplierB},
		records: []ledger.Record{
			withBalance(rec(supplierA, ledger.RecordCollection, day(2026, 3, 4), ledger.SessionMorning, "10", "50"), ledger.MilkBuffalo, "500"),
			withBalance(rec(supplierA, ledger.RecordCollection, day(2026, 3, 4), ledger.SessionEvening, "5", "40"), ledger.MilkCow, "700"),
			withBalance(rec(supplierB, ledger.RecordCollection, day(2026, 3, 4), ledger.SessionMorning, "99", "40"), ledger.MilkCow, "3960"),
			withBalance(rec(supplierA, ledger.RecordPayment, day(2026, 3, 10), "", "300", "0"), "", "400"),
			withBalance(rec(supplierA, ledger.RecordCollection, day(2026, 3, 20), ledger.SessionMorning, "2", "50"), ledger.MilkBuffalo, "500"),
			withBalance(rec(supplierA, ledger.RecordCollection, day(2026, 4, 1), ledger.SessionMorning, "1", "50"), ledger.MilkBuffalo, "550"),
		},
	}
	agg := NewAggregator(src, partyCalc, utcCal, nil, nil)

	daily, err := agg.SupplierSummary(ctx, supplierA.ID, notify.SummaryDaily, day(2026, 3, 4))
	require.NoError(t, err)
	require.Equal(t, "S-1", daily.PartyCode)
	require.Len(t, daily.Lines, 2)
	require.Equal(t, "EVENING", daily.Lines[1].Session)
	require.True(t, daily.Amount.Equal(decimal.NewFromInt(700)))
	require.True(t, daily.Balance.Equal(decimal.NewFromInt(700)))
	require.True(t, daily.Paid.IsZero())

	monthly, err := agg.SupplierSummary(ctx, supplierA.ID, notify.SummaryMonthly, day(2026, 3, 20))
	require.NoError(t, err)
	require.Equal(t, day(2026, 3, 1), monthly.Date)
	require.Empty(t, monthly.Lines)
	require.Equal(t, 2, monthly.Days)
	require.True(t, monthly.Quantity.Equal(decimal.NewFromInt(17)))
	require.True(t, monthly.Buffalo.Equal(decimal.NewFromInt(600)))
	require.True(t, monthly.Cow.Equal(decimal.NewFromInt(200)))
	require.True(t, monthly.FirstCycle.Equal(decimal.NewFromInt(700)))
	require.True(t, monthly.SecondCycle.Equal(decimal.NewFromInt(100)))
	require.True(t, monthly.Paid.Equal(decimal.NewFromInt(300)))
	require.True(t, monthly.Balance.Equal(decimal.NewFromInt(500)), "closing balance of march, got %s", monthly.Balance)

	_, err = agg.SupplierSummary(ctx, supplierA.ID, notify.SummaryDaily, day(2026, 3, 10))
	require.ErrorIs(t, err, shared.ErrNotFound, "payments alone do not make a summary")
	_, err = agg.SupplierSummary(ctx, supplierA.ID, "WEEKLY", day(2026, 3, 10))
	require.ErrorIs(t, err, shared.ErrValidation)
}
