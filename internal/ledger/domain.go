package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PartyKind distinguishes suppliers from customers.
type PartyKind string

const (
	PartySupplier PartyKind = "SUPPLIER"
	PartyCustomer PartyKind = "CUSTOMER"
)

// Valid reports whether k is a known kind.
func (k PartyKind) Valid() bool {
	return k == PartySupplier || k == PartyCustomer
}

// RecordKind enumerates ledger entry kinds.
type RecordKind string

const (
	// RecordCollection is milk bought from a supplier.
	RecordCollection RecordKind = "COLLECTION"
	// RecordSale is milk sold to a customer.
	RecordSale RecordKind = "SALE"
	// RecordPayment is money paid to a supplier or received from a customer.
	RecordPayment RecordKind = "PAYMENT"
)

// Valid reports whether k is a known kind.
func (k RecordKind) Valid() bool {
	return k == RecordCollection || k == RecordSale || k == RecordPayment
}

// Session is the milking session of a collection or sale.
type Session string

const (
	SessionMorning Session = "MORNING"
	SessionEvening Session = "EVENING"
)

// MilkType selects the fat/rate chart.
type MilkType string

const (
	MilkBuffalo MilkType = "BUFFALO"
	MilkCow     MilkType = "COW"
)

// Party is a supplier or customer. Balance is only ever written by the append path.
type Party struct {
	ID        uuid.UUID       `json:"id"`
	Kind      PartyKind       `json:"kind"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Phone     string          `json:"phone,omitempty"`
	Email     string          `json:"email,omitempty"`
	Address   string          `json:"address,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// Record is an immutable ledger entry.
type Record struct {
	ID           uuid.UUID           `json:"id"`
	Kind         RecordKind          `json:"kind"`
	PartyID      uuid.UUID           `json:"party_id"`
	Date         time.Time           `json:"date"`
	Session      Session             `json:"session,omitempty"`
	MilkType     MilkType            `json:"milk_type,omitempty"`
	Quantity     decimal.Decimal     `json:"quantity"`
	Fat          decimal.NullDecimal `json:"fat"`
	Rate         decimal.Decimal     `json:"rate"`
	Amount       decimal.Decimal     `json:"amount"`
	BalanceAfter decimal.Decimal     `json:"balance_after"`
	Note         string              `json:"note,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// PartyInput creates a party.
type PartyInput struct {
	Kind    PartyKind
	Code    string
	Name    string
	Phone   string
	Email   string
	Address string
}

// RecordInput appends a collection or sale. ID is an optional caller-chosen idempotency
// key; Rate may be omitted when Fat is given.
type RecordInput struct {
	ID       uuid.UUID
	PartyID  uuid.UUID
	Date     time.Time
	Session  Session
	MilkType MilkType
	Quantity decimal.Decimal
	Fat      decimal.NullDecimal
	Rate     decimal.NullDecimal
	Note     string
}

// PaymentInput appends a payment.
type PaymentInput struct {
	ID      uuid.UUID
	PartyID uuid.UUID
	Date    time.Time
	Amount  decimal.Decimal
	Note    string
}

// AppendResult is returned by the append operations. Replayed is true when the record id
// had already been appended and the stored record is returned unchanged.
type AppendResult struct {
	Record   Record `json:"record"`
	Replayed bool   `json:"replayed"`
	// NotificationID is the supplier notification created with a new collection.
	NotificationID *uuid.UUID `json:"notification_id,omitempty"`
}

// BalanceDrift reports a party whose stored balance disagrees with its ledger.
type BalanceDrift struct {
	PartyID  uuid.UUID
	Code     string
	Stored   decimal.Decimal
	Computed decimal.Decimal
}
