package report

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dairybooth/dairyledger/internal/ledger"
)

// Scope identifies the kind of report.
type Scope string

const (
	ScopeDaily   Scope = "DAILY"
	ScopeMonthly Scope = "MONTHLY"
	ScopeParty   Scope = "PARTY"
)

// Period is the half-open date range [From, To) a report covers.
type Period struct {
	Label string    `json:"label"`
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
}

// PartyTotals aggregates one party's records within a period. Quantity and Amount cover
// collections for suppliers and sales for customers; Net is the signed balance movement.
type PartyTotals struct {
	PartyID     uuid.UUID        `json:"party_id"`
	Code        string           `json:"code"`
	Name        string           `json:"name"`
	Kind        ledger.PartyKind `json:"kind"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Amount      decimal.Decimal  `json:"amount"`
	Paid        decimal.Decimal  `json:"paid"`
	AverageRate decimal.Decimal  `json:"average_rate"`
	Net         decimal.Decimal  `json:"net"`
}

// Entry is one record inside a report, with the party's running movement in row order.
type Entry struct {
	RecordID       uuid.UUID           `json:"record_id"`
	Date           time.Time           `json:"date"`
	PartyID        uuid.UUID           `json:"party_id"`
	PartyCode      string              `json:"party_code"`
	Kind           ledger.RecordKind   `json:"kind"`
	Session        ledger.Session      `json:"session,omitempty"`
	MilkType       ledger.MilkType     `json:"milk_type,omitempty"`
	Quantity       decimal.Decimal     `json:"quantity"`
	Fat            decimal.NullDecimal `json:"fat"`
	Rate           decimal.Decimal     `json:"rate"`
	Amount         decimal.Decimal     `json:"amount"`
	Signed         decimal.Decimal     `json:"signed"`
	RunningBalance decimal.Decimal     `json:"running_balance"`
}

// FailedNotification surfaces a supplier notification that gave up.
type FailedNotification struct {
	EventID   uuid.UUID `json:"event_id"`
	RecordID  uuid.UUID `json:"record_id"`
	PartyID   uuid.UUID `json:"party_id"`
	PartyCode string    `json:"party_code"`
	Date      time.Time `json:"date"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
}

// Report is a read-only summary over a period.
type Report struct {
	Scope               Scope                `json:"scope"`
	Period              Period               `json:"period"`
	QuantityCollected   decimal.Decimal      `json:"quantity_collected"`
	QuantitySold        decimal.Decimal      `json:"quantity_sold"`
	AmountCollected     decimal.Decimal      `json:"amount_collected"`
	AmountSold          decimal.Decimal      `json:"amount_sold"`
	AmountPaid          decimal.Decimal      `json:"amount_paid"`
	AmountReceived      decimal.Decimal      `json:"amount_received"`
	Net                 decimal.Decimal      `json:"net"`
	Parties             []PartyTotals        `json:"parties"`
	Entries             []Entry              `json:"entries,omitempty"`
	FailedNotifications []FailedNotification `json:"failed_notifications,omitempty"`
}

// SessionTotals splits milk volume by session.
type SessionTotals struct {
	Quantity decimal.Decimal `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

// Cycle is one fortnightly payment cycle of a party.
type Cycle struct {
	Period   Period          `json:"period"`
	Morning  SessionTotals   `json:"morning"`
	Evening  SessionTotals   `json:"evening"`
	Quantity decimal.Decimal `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
	Paid     decimal.Decimal `json:"paid"`
	Net      decimal.Decimal `json:"net"`
}

// CycleReport lists the payment cycles of one party in a month.
type CycleReport struct {
	PartyID uuid.UUID `json:"party_id"`
	Code    string    `json:"code"`
	Name    string    `json:"name"`
	Month   string    `json:"month"`
	Cycles  []Cycle   `json:"cycles"`
}
