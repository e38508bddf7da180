package ledger

import (
	"github.com/shopspring/decimal"
)

// RateChart maps a fat reading to the rate per liter for each milk type.
type RateChart struct {
	charts map[MilkType]map[string]decimal.Decimal
}

// DefaultRateChart returns the booth's buffalo and cow charts.
func DefaultRateChart() RateChart {
	return RateChart{charts: map[MilkType]map[string]decimal.Decimal{
		MilkBuffalo: buildChart("5.0", "10.0", []string{
			"38.70", "39.47", "40.25", "41.02", "41.80", "42.57", "43.34", "44.12", "44.89", "45.67",
			"46.44", "47.21", "47.99", "48.76", "49.54", "50.31", "51.08", "51.86", "52.63", "53.41",
			"54.18", "54.95", "55.73", "56.50", "57.28", "58.05", "58.82", "59.60", "60.37", "61.15",
			"61.92", "62.69", "63.47", "64.24", "65.02", "65.79", "66.56", "67.34", "68.11", "68.89",
			"69.66", "70.43", "71.21", "71.98", "72.76", "73.53", "74.30", "75.08", "75.85", "76.63",
			"77.40",
		}),
		MilkCow: buildChart("3.0", "6.0", []string{
			"25.30", "25.53", "25.76", "25.99", "26.22", "26.45", "26.68", "26.91", "27.14", "27.37",
			"27.60", "27.83", "28.06", "28.29", "28.52", "28.75", "28.98", "29.21", "29.44", "29.67",
			"29.90", "30.13", "30.36", "30.59", "30.82", "31.05", "31.28", "31.51", "31.74", "31.97",
			"32.20",
		}),
	}}
}

func buildChart(from, to string, rates []string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(rates))
	step := decimal.RequireFromString("0.1")
	fat := decimal.RequireFromString(from)
	last := decimal.RequireFromString(to)
	for _, r := range rates {
		if fat.GreaterThan(last) {
			break
		}
		out[fat.StringFixed(1)] = decimal.RequireFromString(r)
		fat = fat.Add(step)
	}
	return out
}

// Lookup returns the rate for fat rounded to one decimal place.
func (c RateChart) Lookup(milk MilkType, fat decimal.Decimal) (decimal.Decimal, bool) {
	chart, ok := c.charts[milk]
	if !ok {
		return decimal.Zero, false
	}
	rate, ok := chart[fat.Round(1).StringFixed(1)]
	return rate, ok
}
