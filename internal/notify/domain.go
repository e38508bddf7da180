package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State is the lifecycle state of a notification event.
type State string

const (
	StatePending   State = "PENDING"
	StateSending   State = "SENDING"
	StateRetryWait State = "RETRY_WAIT"
	StateDelivered State = "DELIVERED"
	StateFailed    State = "FAILED"
)

// Terminal reports whether no further automatic transition exists.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateFailed
}

// eventNamespace seeds deterministic event ids.
var eventNamespace = uuid.MustParse("6f1c3b0e-2d4a-5b8e-9c7f-1a2b3c4d5e6f")

// EventIDForRecord derives the idempotency key of the notification for a collection record.
func EventIDForRecord(recordID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(eventNamespace, []byte("collection:"+recordID.String()))
}

// Event is a durable notification request.
type Event struct {
	ID             uuid.UUID       `json:"id"`
	RecordID       uuid.UUID       `json:"record_id"`
	PartyID        uuid.UUID       `json:"party_id"`
	Phone          string          `json:"phone"`
	Payload        json.RawMessage `json:"payload"`
	State          State           `json:"state"`
	Attempts       int             `json:"attempts"`
	NextAttemptAt  time.Time       `json:"next_attempt_at"`
	LeaseOwner     string          `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	LastAttemptAt  *time.Time      `json:"last_attempt_at,omitempty"`
	LastError      *string         `json:"last_error,omitempty"`
	DeliveryID     string          `json:"delivery_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Transition is one row of the audit log.
type Transition struct {
	EventID uuid.UUID `json:"event_id"`
	From    State     `json:"from"`
	To      State     `json:"to"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}

// CollectionPayload is the snapshot rendered into the supplier message.
type CollectionPayload struct {
	RecordID  uuid.UUID           `json:"record_id"`
	PartyCode string              `json:"party_code"`
	PartyName string              `json:"party_name"`
	Date      string              `json:"date"`
	Session   string              `json:"session"`
	MilkType  string              `json:"milk_type"`
	Quantity  decimal.Decimal     `json:"quantity"`
	Fat       decimal.NullDecimal `json:"fat"`
	Rate      decimal.Decimal     `json:"rate"`
	Amount    decimal.Decimal     `json:"amount"`
	Balance   decimal.Decimal     `json:"balance"`
}

// SummaryScope distinguishes daily from monthly supplier summaries.
type SummaryScope string

const (
	SummaryDaily   SummaryScope = "DAILY"
	SummaryMonthly SummaryScope = "MONTHLY"
)

// SummaryLine is one collection listed in a daily summary.
type SummaryLine struct {
	Session  string              `json:"session"`
	MilkType string              `json:"milk_type"`
	Quantity decimal.Decimal     `json:"quantity"`
	Fat      decimal.NullDecimal `json:"fat"`
	Amount   decimal.Decimal     `json:"amount"`
}

// SummaryPayload is a supplier's period snapshot. Date is the day of a daily summary and
// the first day of the month of a monthly one. Balance is the balance after the last
// record of the period.
type SummaryPayload struct {
	Scope       SummaryScope    `json:"scope"`
	PartyCode   string          `json:"party_code"`
	PartyName   string          `json:"party_name"`
	Date        time.Time       `json:"date"`
	Lines       []SummaryLine   `json:"lines,omitempty"`
	Days        int             `json:"days"`
	Quantity    decimal.Decimal `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
	Cow         decimal.Decimal `json:"cow"`
	Buffalo     decimal.Decimal `json:"buffalo"`
	FirstCycle  decimal.Decimal `json:"first_cycle"`
	SecondCycle decimal.Decimal `json:"second_cycle"`
	Paid        decimal.Decimal `json:"paid"`
	Balance     decimal.Decimal `json:"balance"`
}

// NewCollectionEvent builds the PENDING event for a collection record.
func NewCollectionEvent(partyID uuid.UUID, phone string, payload CollectionPayload, now time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("notify: encode payload: %w", err)
	}
	now = now.UTC()
	return Event{
		ID:            EventIDForRecord(payload.RecordID),
		RecordID:      payload.RecordID,
		PartyID:       partyID,
		Phone:         phone,
		Payload:       raw,
		State:         StatePending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// DecodePayload reads the collection snapshot of e.
func (e Event) DecodePayload() (CollectionPayload, error) {
	var p CollectionPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return CollectionPayload{}, fmt.Errorf("notify: decode payload: %w", err)
	}
	return p, nil
}

// previousState is the state a freshly claimed event came from. Attempts are counted at
// claim time and reset on replay, so the first attempt always starts from PENDING.
func (e Event) previousState() State {
	if e.Attempts <= 1 {
		return StatePending
	}
	return StateRetryWait
}
