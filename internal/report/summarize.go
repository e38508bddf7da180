package report

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dairybooth/dairyledger/internal/ledger"
	"github.com/dairybooth/dairyledger/internal/notify"
	"github.com/dairybooth/dairyledger/internal/shared"
)

func zeroReport(scope Scope, period Period) Report {
	return Report{
		Scope:             scope,
		Period:            period,
		QuantityCollected: decimal.Zero,
		QuantitySold:      decimal.Zero,
		AmountCollected:   decimal.Zero,
		AmountSold:        decimal.Zero,
		AmountPaid:        decimal.Zero,
		AmountReceived:    decimal.Zero,
		Net:               decimal.Zero,
		Parties:           []PartyTotals{},
	}
}

func zeroTotals(p ledger.Party) *PartyTotals {
	return &PartyTotals{
		PartyID:     p.ID,
		Code:        p.Code,
		Name:        p.Name,
		Kind:        p.Kind,
		Quantity:    decimal.Zero,
		Amount:      decimal.Zero,
		Paid:        decimal.Zero,
		AverageRate: decimal.Zero,
		Net:         decimal.Zero,
	}
}

// summarize folds records (already ordered by date and append order) into a report.
// Records whose party is unknown are attributed to a party with only an id.
func summarize(scope Scope, period Period, calc ledger.BalanceCalculator, parties map[uuid.UUID]ledger.Party, records []ledger.Record, withEntries bool) Report {
	rep := zeroReport(scope, period)
	totals := make(map[uuid.UUID]*PartyTotals)

	for _, rec := range records {
		party, ok := parties[rec.PartyID]
		if !ok {
			party = ledger.Party{ID: rec.PartyID}
		}
		pt, ok := totals[rec.PartyID]
		if !ok {
			pt = zeroTotals(party)
			totals[rec.PartyID] = pt
		}

		switch rec.Kind {
		case ledger.RecordCollection:
			rep.QuantityCollected = rep.QuantityCollected.Add(rec.Quantity)
			rep.AmountCollected = rep.AmountCollected.Add(rec.Amount)
			pt.Quantity = pt.Quantity.Add(rec.Quantity)
			pt.Amount = pt.Amount.Add(rec.Amount)
		case ledger.RecordSale:
			rep.QuantitySold = rep.QuantitySold.Add(rec.Quantity)
			rep.AmountSold = rep.AmountSold.Add(rec.Amount)
			pt.Quantity = pt.Quantity.Add(rec.Quantity)
			pt.Amount = pt.Amount.Add(rec.Amount)
		case ledger.RecordPayment:
			if party.Kind == ledger.PartyCustomer {
				rep.AmountReceived = rep.AmountReceived.Add(rec.Amount)
			} else {
				rep.AmountPaid = rep.AmountPaid.Add(rec.Amount)
			}
			pt.Paid = pt.Paid.Add(rec.Amount)
		}
		signed := calc.SignedAmount(party.Kind, rec.Kind, rec.Amount)
		pt.Net = calc.ApplyDelta(pt.Net, signed)

		if withEntries {
			rep.Entries = append(rep.Entries, Entry{
				RecordID:       rec.ID,
				Date:           rec.Date,
				PartyID:        rec.PartyID,
				PartyCode:      party.Code,
				Kind:           rec.Kind,
				Session:        rec.Session,
				MilkType:       rec.MilkType,
				Quantity:       rec.Quantity,
				Fat:            rec.Fat,
				Rate:           rec.Rate,
				Amount:         rec.Amount,
				Signed:         signed,
				RunningBalance: pt.Net,
			})
		}
	}

	for _, pt := range totals {
		pt.AverageRate = averageRate(pt.Amount, pt.Quantity)
		rep.Parties = append(rep.Parties, *pt)
	}
	sortParties(rep.Parties)
	rep.Net = rep.AmountSold.Sub(rep.AmountCollected)
	return rep
}

func averageRate(amount, quantity decimal.Decimal) decimal.Decimal {
	if !quantity.IsPositive() {
		return decimal.Zero
	}
	return amount.DivRound(quantity, 2)
}

func sortParties(parties []PartyTotals) {
	sort.Slice(parties, func(i, j int) bool {
		if parties[i].Kind != parties[j].Kind {
			return parties[i].Kind > parties[j].Kind
		}
		if parties[i].Code != parties[j].Code {
			return parties[i].Code < parties[j].Code
		}
		return parties[i].PartyID.String() < parties[j].PartyID.String()
	})
}

// cyclePeriods splits a calendar month into the booth's two payment cycles.
func cyclePeriods(ym shared.YearMonth) []Period {
	first := time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, time.UTC)
	mid := first.AddDate(0, 0, 15)
	next := first.AddDate(0, 1, 0)
	return []Period{
		{Label: ym.String() + " 1-15", From: first, To: mid},
		{Label: ym.String() + " 16-" + next.AddDate(0, 0, -1).Format("02"), From: mid, To: next},
	}
}

func buildCycles(party ledger.Party, ym shared.YearMonth, calc ledger.BalanceCalculator, records []ledger.Record) CycleReport {
	out := CycleReport{PartyID: party.ID, Code: party.Code, Name: party.Name, Month: ym.String()}
	for _, period := range cyclePeriods(ym) {
		c := Cycle{
			Period:   period,
			Morning:  SessionTotals{Quantity: decimal.Zero, Amount: decimal.Zero},
			Evening:  SessionTotals{Quantity: decimal.Zero, Amount: decimal.Zero},
			Quantity: decimal.Zero,
			Amount:   decimal.Zero,
			Paid:     decimal.Zero,
			Net:      decimal.Zero,
		}
		rng := shared.DateRange{From: period.From, To: period.To}
		for _, rec := range records {
			if !rng.Contains(rec.Date) {
				continue
			}
			c.Net = calc.ApplyDelta(c.Net, calc.SignedAmount(party.Kind, rec.Kind, rec.Amount))
			if rec.Kind == ledger.RecordPayment {
				c.Paid = c.Paid.Add(rec.Amount)
				continue
			}
			c.Quantity = c.Quantity.Add(rec.Quantity)
			c.Amount = c.Amount.Add(rec.Amount)
			s := &c.Morning
			if rec.Session == ledger.SessionEvening {
				s = &c.Evening
			}
			s.Quantity = s.Quantity.Add(rec.Quantity)
			s.Amount = s.Amount.Add(rec.Amount)
		}
		out.Cycles = append(out.Cycles, c)
	}
	return out
}

// buildSummary folds a supplier's records of one period into the payload of a summary
// message. Records must be in append order so the last one carries the closing balance.
func buildSummary(scope notify.SummaryScope, party ledger.Party, from time.Time, records []ledger.Record) notify.SummaryPayload {
	out := notify.SummaryPayload{
		Scope:       scope,
		PartyCode:   party.Code,
		PartyName:   party.Name,
		Date:        from,
		Quantity:    decimal.Zero,
		Amount:      decimal.Zero,
		Cow:         decimal.Zero,
		Buffalo:     decimal.Zero,
		FirstCycle:  decimal.Zero,
		SecondCycle: decimal.Zero,
		Paid:        decimal.Zero,
		Balance:     party.Balance,
	}
	days := make(map[string]struct{})
	for _, rec := range records {
		out.Balance = rec.BalanceAfter
		if rec.Kind == ledger.RecordPayment {
			out.Paid = out.Paid.Add(rec.Amount)
			continue
		}
		if rec.Kind != ledger.RecordCollection {
			continue
		}
		days[shared.FormatDate(rec.Date)] = struct{}{}
		out.Quantity = out.Quantity.Add(rec.Quantity)
		out.Amount = out.Amount.Add(rec.Amount)
		switch rec.MilkType {
		case ledger.MilkCow:
			out.Cow = out.Cow.Add(rec.Amount)
		case ledger.MilkBuffalo:
			out.Buffalo = out.Buffalo.Add(rec.Amount)
		}
		if rec.Date.Day() <= 15 {
			out.FirstCycle = out.FirstCycle.Add(rec.Amount)
		} else {
			out.SecondCycle = out.SecondCycle.Add(rec.Amount)
		}
		if scope == notify.SummaryDaily {
			out.Lines = append(out.Lines, notify.SummaryLine{
				Session:  string(rec.Session),
				MilkType: string(rec.MilkType),
				Quantity: rec.Quantity,
				Fat:      rec.Fat,
				Amount:   rec.Amount,
			})
		}
	}
	out.Days = len(days)
	return out
}
