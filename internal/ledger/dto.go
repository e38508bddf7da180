package ledger

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dairybooth/dairyledger/internal/shared"
)

// CreatePartyRequest is the body of POST /parties.
type CreatePartyRequest struct {
	Kind    string `json:"kind" validate:"required,oneof=SUPPLIER CUSTOMER"`
	Code    string `json:"code" validate:"required,max=32"`
	Name    string `json:"name" validate:"required,max=128"`
	Phone   string `json:"phone" validate:"omitempty,max=32"`
	Email   string `json:"email" validate:"omitempty,email"`
	Address string `json:"address" validate:"omitempty,max=256"`
}

func (r CreatePartyRequest) input() PartyInput {
	return PartyInput{
		Kind:    PartyKind(r.Kind),
		Code:    r.Code,
		Name:    r.Name,
		Phone:   r.Phone,
		Email:   r.Email,
		Address: r.Address,
	}
}

// MilkRecordRequest is the body of POST /ledger/collections and /ledger/sales.
type MilkRecordRequest struct {
	ID       string           `json:"id" validate:"omitempty,uuid"`
	PartyID  string           `json:"party_id" validate:"required,uuid"`
	Date     string           `json:"date" validate:"required,datetime=2006-01-02"`
	Session  string           `json:"session" validate:"required,oneof=MORNING EVENING"`
	MilkType string           `json:"milk_type" validate:"omitempty,oneof=BUFFALO COW"`
	Quantity decimal.Decimal  `json:"quantity"`
	Fat      *decimal.Decimal `json:"fat"`
	Rate     *decimal.Decimal `json:"rate"`
	Note     string           `json:"note" validate:"omitempty,max=256"`
}

func (r MilkRecordRequest) input() (RecordInput, error) {
	in := RecordInput{
		Session:  Session(r.Session),
		MilkType: MilkType(r.MilkType),
		Quantity: r.Quantity,
		Note:     r.Note,
	}
	var err error
	if in.ID, err = optionalUUID(r.ID); err != nil {
		return RecordInput{}, err
	}
	if in.PartyID, err = uuid.Parse(r.PartyID); err != nil {
		return RecordInput{}, shared.Invalid("party_id", "must be a UUID")
	}
	if in.Date, err = shared.ParseDate(r.Date); err != nil {
		return RecordInput{}, err
	}
	if r.Fat != nil {
		in.Fat = decimal.NewNullDecimal(*r.Fat)
	}
	if r.Rate != nil {
		in.Rate = decimal.NewNullDecimal(*r.Rate)
	}
	return in, nil
}

// PaymentRequest is the body of POST /ledger/payments.
type PaymentRequest struct {
	ID      string          `json:"id" validate:"omitempty,uuid"`
	PartyID string          `json:"party_id" validate:"required,uuid"`
	Date    string          `json:"date" validate:"required,datetime=2006-01-02"`
	Amount  decimal.Decimal `json:"amount"`
	Note    string          `json:"note" validate:"omitempty,max=256"`
}

func (r PaymentRequest) input() (PaymentInput, error) {
	in := PaymentInput{Amount: r.Amount, Note: r.Note}
	var err error
	if in.ID, err = optionalUUID(r.ID); err != nil {
		return PaymentInput{}, err
	}
	if in.PartyID, err = uuid.Parse(r.PartyID); err != nil {
		return PaymentInput{}, shared.Invalid("party_id", "must be a UUID")
	}
	if in.Date, err = shared.ParseDate(r.Date); err != nil {
		return PaymentInput{}, err
	}
	return in, nil
}

func optionalUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, shared.Invalid("id", "must be a UUID")
	}
	return id, nil
}
