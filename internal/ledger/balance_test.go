package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSignedAmount(t *testing.T) {
	amount := decimal.RequireFromString("250.50")
	cases := []struct {
		convention SignConvention
		party      PartyKind
		kind       RecordKind
		want       string
	}{
		{SignParty, PartySupplier, RecordCollection, "250.5"},
		{SignParty, PartyCustomer, RecordSale, "250.5"},
		{SignParty, PartySupplier, RecordPayment, "-250.5"},
		{SignParty, PartyCustomer, RecordPayment, "-250.5"},
		{SignBusiness, PartySupplier, RecordCollection, "-250.5"},
		{SignBusiness, PartyCustomer, RecordSale, "250.5"},
		{SignBusiness, PartySupplier, RecordPayment, "250.5"},
		{SignBusiness, PartyCustomer, RecordPayment, "-250.5"},
	}
	for _, tc := range cases {
		calc := BalanceCalculator{Convention: tc.convention}
		got := calc.SignedAmount(tc.party, tc.kind, amount)
		require.True(t, got.Equal(decimal.RequireFromString(tc.want)), "%s %s %s: got %s", tc.convention, tc.party, tc.kind, got)
	}
}

func TestApplyDeltaAndReplay(t *testing.T) {
	calc := BalanceCalculator{Convention: SignParty}
	records := []Record{
		{Kind: RecordCollection, Amount: decimal.RequireFromString("400")},
		{Kind: RecordCollection, Amount: decimal.RequireFromString("125.75")},
		{Kind: RecordPayment, Amount: decimal.RequireFromString("300")},
	}
	balance := decimal.Zero
	for _, rec := range records {
		balance = calc.ApplyDelta(balance, calc.SignedAmount(PartySupplier, rec.Kind, rec.Amount))
	}
	require.Equal(t, "225.75", balance.String())
	require.True(t, calc.Replay(PartySupplier, records).Equal(balance))
	require.True(t, calc.Replay(PartySupplier, nil).IsZero())
}

func TestParseSignConvention(t *testing.T) {
	c, err := ParseSignConvention("")
	require.NoError(t, err)
	require.Equal(t, SignParty, c)

	c, err = ParseSignConvention(" Business ")
	require.NoError(t, err)
	require.Equal(t, SignBusiness, c)

	_, err = ParseSignConvention("ledger")
	require.Error(t, err)
}
