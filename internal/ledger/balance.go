package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SignConvention fixes how record amounts move party balances.
type SignConvention string

const (
	// SignParty keeps both suppliers and customers positive in their natural direction:
	// a supplier balance is what the business owes them, a customer balance is what they
	// owe the business. Payments reduce either.
	SignParty SignConvention = "party"
	// SignBusiness signs balances from the business's point of view: receivables are
	// positive and payables negative.
	SignBusiness SignConvention = "business"
)

// ParseSignConvention parses configuration values.
func ParseSignConvention(s string) (SignConvention, error) {
	switch SignConvention(strings.ToLower(strings.TrimSpace(s))) {
	case "", SignParty:
		return SignParty, nil
	case SignBusiness:
		return SignBusiness, nil
	}
	return "", fmt.Errorf("ledger: unknown balance sign convention %q", s)
}

// BalanceCalculator derives balance deltas. It holds no state.
type BalanceCalculator struct {
	Convention SignConvention
}

// SignedAmount returns the balance delta of a record with the given non-negative amount.
func (c BalanceCalculator) SignedAmount(party PartyKind, kind RecordKind, amount decimal.Decimal) decimal.Decimal {
	var sign int64
	switch kind {
	case RecordCollection, RecordSale:
		sign = 1
	case RecordPayment:
		sign = -1
	}
	if c.Convention == SignBusiness && party == PartySupplier {
		sign = -sign
	}
	return amount.Mul(decimal.NewFromInt(sign))
}

// ApplyDelta is newBalance = previous + signed.
func (c BalanceCalculator) ApplyDelta(previous, signed decimal.Decimal) decimal.Decimal {
	return previous.Add(signed)
}

// Replay folds records into a balance starting from zero.
func (c BalanceCalculator) Replay(party PartyKind, records []Record) decimal.Decimal {
	balance := decimal.Zero
	for _, rec := range records {
		balance = c.ApplyDelta(balance, c.SignedAmount(party, rec.Kind, rec.Amount))
	}
	return balance
}
