package report

import (
	"github.com/dairybooth/dairyledger/internal/shared"
)

// CSVHeader is the first row of every export.
var CSVHeader = []string{"date/period", "party", "quantity", "rate", "amount", "running_balance"}

// Rows renders a report as CSV rows, header first. Party reports emit one row per
// record; daily and monthly reports one row per party. running_balance is the party's
// cumulative signed amount within the report, in row order. A zero report yields only
// the header.
func Rows(rep Report) [][]string {
	rows := [][]string{append([]string(nil), CSVHeader...)}
	if rep.Scope == ScopeParty {
		for _, e := range rep.Entries {
			rows = append(rows, []string{
				shared.FormatDate(e.Date),
				e.PartyCode,
				e.Quantity.StringFixed(2),
				e.Rate.StringFixed(2),
				e.Amount.StringFixed(2),
				e.RunningBalance.StringFixed(2),
			})
		}
		return rows
	}
	for _, pt := range rep.Parties {
		rows = append(rows, []string{
			rep.Period.Label,
			pt.Code,
			pt.Quantity.StringFixed(2),
			pt.AverageRate.StringFixed(2),
			pt.Amount.StringFixed(2),
			pt.Net.StringFixed(2),
		})
	}
	return rows
}
