package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dairybooth/dairyledger/internal/notify"
	"github.com/dairybooth/dairyledger/internal/shared"
)

var errDuplicateRecord = errors.New("record id already used")

// CacheInvalidator is notified after every committed append.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// DispatchNotifier is told about notification events committed by an append.
type DispatchNotifier interface {
	NotificationQueued(ctx context.Context, eventID uuid.UUID) error
}

// AppendObserver records the outcome of every append that reached the store.
type AppendObserver interface {
	ObserveAppend(kind string, replayed bool, amount decimal.Decimal)
}

// Config configures the ledger service.
type Config struct {
	Convention  SignConvention
	Calendar    shared.Calendar
	PhoneRegion string
	Rates       RateChart
}

// Service implements the ledger append and query operations.
type Service struct {
	store       Store
	calc        BalanceCalculator
	calendar    shared.Calendar
	phoneRegion string
	rates       RateChart
	invalidator CacheInvalidator
	notifier    DispatchNotifier
	observer    AppendObserver
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs a ledger service.
func NewService(store Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Convention == "" {
		cfg.Convention = SignParty
	}
	if cfg.PhoneRegion == "" {
		cfg.PhoneRegion = shared.DefaultPhoneRegion
	}
	if cfg.Rates.charts == nil {
		cfg.Rates = DefaultRateChart()
	}
	return &Service{
		store:       store,
		calc:        BalanceCalculator{Convention: cfg.Convention},
		calendar:    cfg.Calendar,
		phoneRegion: cfg.PhoneRegion,
		rates:       cfg.Rates,
		logger:      logger,
		now:         time.Now,
	}
}

// SetCacheInvalidator wires the report cache.
func (s *Service) SetCacheInvalidator(inv CacheInvalidator) {
	s.invalidator = inv
}

// SetDispatchNotifier wires prompt notification delivery. Without one, events wait for
// the dispatcher's next poll.
func (s *Service) SetDispatchNotifier(n DispatchNotifier) {
	s.notifier = n
}

// SetAppendObserver wires append metrics.
func (s *Service) SetAppendObserver(o AppendObserver) {
	s.observer = o
}

// Calculator returns the balance calculator in use.
func (s *Service) Calculator() BalanceCalculator {
	return s.calc
}

// CreateParty registers a supplier or customer with a zero balance.
func (s *Service) CreateParty(ctx context.Context, in PartyInput) (Party, error) {
	if !in.Kind.Valid() {
		return Party{}, shared.Invalid("kind", "unknown party kind %q", in.Kind)
	}
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return Party{}, shared.Invalid("code", "required")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Party{}, shared.Invalid("name", "required")
	}
	phone, err := shared.NormalizePhone(in.Phone, s.phoneRegion)
	if err != nil {
		return Party{}, err
	}
	p := Party{
		ID:        uuid.New(),
		Kind:      in.Kind,
		Code:      code,
		Name:      name,
		Phone:     phone,
		Email:     strings.TrimSpace(in.Email),
		Address:   strings.TrimSpace(in.Address),
		Balance:   decimal.Zero,
		CreatedAt: s.now().UTC(),
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertParty(ctx, p)
	})
	if err != nil {
		return Party{}, err
	}
	s.logger.InfoContext(ctx, "party created", slog.String("party_id", p.ID.String()), slog.String("kind", string(p.Kind)), slog.String("code", p.Code))
	return p, nil
}

// GetParty returns one party with its current balance.
func (s *Service) GetParty(ctx context.Context, id uuid.UUID) (Party, error) {
	var p Party
	err := s.store.WithReadTx(ctx, func(ctx context.Context, tx ReadTx) error {
		var err error
		p, err = tx.GetParty(ctx, id)
		return err
	})
	return p, err
}

// ListParties lists parties of kind, or all parties when kind is empty.
func (s *Service) ListParties(ctx context.Context, kind PartyKind) ([]Party, error) {
	if kind != "" && !kind.Valid() {
		return nil, shared.Invalid("kind", "unknown party kind %q", kind)
	}
	var out []Party
	err := s.store.WithReadTx(ctx, func(ctx context.Context, tx ReadTx) error {
		var err error
		out, err = tx.ListParties(ctx, kind)
		return err
	})
	return out, err
}

// RecordCollection appends milk bought from a supplier and enqueues the supplier
// notification in the same transaction.
func (s *Service) RecordCollection(ctx context.Context, in RecordInput) (AppendResult, error) {
	rec, err := s.milkRecord(RecordCollection, in)
	if err != nil {
		return AppendResult{}, err
	}
	return s.append(ctx, rec)
}

// RecordSale appends milk sold to a customer.
func (s *Service) RecordSale(ctx context.Context, in RecordInput) (AppendResult, error) {
	rec, err := s.milkRecord(RecordSale, in)
	if err != nil {
		return AppendResult{}, err
	}
	return s.append(ctx, rec)
}

// RecordPayment appends money paid to a supplier or received from a customer.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (AppendResult, error) {
	date, err := s.checkCommon(in.PartyID, in.Date)
	if err != nil {
		return AppendResult{}, err
	}
	if !in.Amount.IsPositive() {
		return AppendResult{}, shared.Invalid("amount", "must be positive")
	}
	if err := checkScale("amount", in.Amount); err != nil {
		return AppendResult{}, err
	}
	return s.append(ctx, Record{
		ID:       in.ID,
		Kind:     RecordPayment,
		PartyID:  in.PartyID,
		Date:     date,
		Quantity: decimal.Zero,
		Rate:     decimal.Zero,
		Amount:   in.Amount,
		Note:     strings.TrimSpace(in.Note),
	})
}

func (s *Service) checkCommon(partyID uuid.UUID, date time.Time) (time.Time, error) {
	if partyID == uuid.Nil {
		return time.Time{}, shared.Invalid("party_id", "required")
	}
	if date.IsZero() {
		return time.Time{}, shared.Invalid("date", "required")
	}
	date = shared.CivilDate(date)
	if today := s.calendar.Today(s.now()); date.After(today) {
		return time.Time{}, shared.Invalid("date", "%s is after today (%s)", shared.FormatDate(date), shared.FormatDate(today))
	}
	return date, nil
}

func (s *Service) milkRecord(kind RecordKind, in RecordInput) (Record, error) {
	date, err := s.checkCommon(in.PartyID, in.Date)
	if err != nil {
		return Record{}, err
	}
	if in.Session != SessionMorning && in.Session != SessionEvening {
		return Record{}, shared.Invalid("session", "unknown session %q", in.Session)
	}
	if in.MilkType != "" && in.MilkType != MilkBuffalo && in.MilkType != MilkCow {
		return Record{}, shared.Invalid("milk_type", "unknown milk type %q", in.MilkType)
	}
	if !in.Quantity.IsPositive() {
		return Record{}, shared.Invalid("quantity", "must be positive")
	}
	if err := checkScale("quantity", in.Quantity); err != nil {
		return Record{}, err
	}
	if in.Fat.Valid {
		if !in.Fat.Decimal.IsPositive() {
			return Record{}, shared.Invalid("fat", "must be positive")
		}
		if err := checkScale("fat", in.Fat.Decimal); err != nil {
			return Record{}, err
		}
	}

	var rate decimal.Decimal
	switch {
	case in.Rate.Valid:
		if !in.Rate.Decimal.IsPositive() {
			return Record{}, shared.Invalid("rate", "must be positive")
		}
		if err := checkScale("rate", in.Rate.Decimal); err != nil {
			return Record{}, err
		}
		rate = in.Rate.Decimal
	case in.Fat.Valid && in.MilkType != "":
		r, ok := s.rates.Lookup(in.MilkType, in.Fat.Decimal)
		if !ok {
			return Record{}, shared.Invalid("fat", "no %s rate for fat %s", strings.ToLower(string(in.MilkType)), in.Fat.Decimal.StringFixed(1))
		}
		rate = r
	default:
		return Record{}, shared.Invalid("rate", "required unless fat and milk type are given")
	}

	return Record{
		ID:       in.ID,
		Kind:     kind,
		PartyID:  in.PartyID,
		Date:     date,
		Session:  in.Session,
		MilkType: in.MilkType,
		Quantity: in.Quantity,
		Fat:      in.Fat,
		Rate:     rate,
		Amount:   in.Quantity.Mul(rate),
		Note:     strings.TrimSpace(in.Note),
	}, nil
}

// inputScale is the number of decimal places stored for quantities, rates, fat readings
// and payment amounts. Amounts derived from quantity × rate are stored with twice that.
const inputScale = 2

func checkScale(field string, d decimal.Decimal) error {
	if !d.Equal(d.Truncate(inputScale)) {
		return shared.Invalid(field, "at most %d decimal places allowed, got %s", inputScale, d.String())
	}
	return nil
}

func partyKindFor(kind RecordKind) PartyKind {
	switch kind {
	case RecordCollection:
		return PartySupplier
	case RecordSale:
		return PartyCustomer
	}
	return ""
}

func (s *Service) append(ctx context.Context, draft Record) (AppendResult, error) {
	if draft.ID == uuid.Nil {
		draft.ID = uuid.New()
	}
	var (
		res AppendResult
		err error
	)
	// A unique violation means a concurrent append of the same id committed first; one
	// more pass observes it and replays.
	for attempt := 0; attempt < 2; attempt++ {
		res, err = s.appendOnce(ctx, draft)
		if !errors.Is(err, errDuplicateRecord) {
			break
		}
	}
	if err != nil {
		return AppendResult{}, err
	}

	logger := s.logger.With(
		slog.String("record_id", res.Record.ID.String()),
		slog.String("party_id", res.Record.PartyID.String()),
		slog.String("kind", string(res.Record.Kind)))
	if s.observer != nil {
		s.observer.ObserveAppend(string(res.Record.Kind), res.Replayed, res.Record.Amount)
	}
	if res.Replayed {
		logger.InfoContext(ctx, "ledger append replayed")
		return res, nil
	}
	logger.InfoContext(ctx, "ledger record appended",
		slog.String("amount", res.Record.Amount.String()),
		slog.String("balance", res.Record.BalanceAfter.String()))
	if s.invalidator != nil {
		if err := s.invalidator.Bump(ctx); err != nil {
			logger.WarnContext(ctx, "invalidate report cache", slog.Any("error", err))
		}
	}
	if s.notifier != nil && res.NotificationID != nil {
		if err := s.notifier.NotificationQueued(ctx, *res.NotificationID); err != nil {
			logger.WarnContext(ctx, "enqueue notification dispatch", slog.Any("error", err))
		}
	}
	return res, nil
}

func (s *Service) appendOnce(ctx context.Context, draft Record) (AppendResult, error) {
	var res AppendResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		party, err := tx.LockParty(ctx, draft.PartyID)
		if err != nil {
			return err
		}
		if want := partyKindFor(draft.Kind); want != "" && party.Kind != want {
			return shared.Invalid("party_id", "%s records require a %s, party %s is a %s",
				strings.ToLower(string(draft.Kind)), strings.ToLower(string(want)), party.Code, strings.ToLower(string(party.Kind)))
		}

		existing, found, err := tx.GetRecord(ctx, draft.ID)
		if err != nil {
			return err
		}
		if found {
			if existing.PartyID != draft.PartyID || existing.Kind != draft.Kind {
				return shared.Invalid("id", "record %s already exists for another party or kind", draft.ID)
			}
			res = AppendResult{Record: existing, Replayed: true}
			return nil
		}

		rec := draft
		rec.CreatedAt = s.now().UTC()
		signed := s.calc.SignedAmount(party.Kind, rec.Kind, rec.Amount)
		rec.BalanceAfter = s.calc.ApplyDelta(party.Balance, signed)

		if err := tx.InsertRecord(ctx, rec); err != nil {
			return err
		}
		if err := tx.SetPartyBalance(ctx, party.ID, rec.BalanceAfter); err != nil {
			return err
		}
		var notificationID *uuid.UUID
		if rec.Kind == RecordCollection {
			ev, err := notify.NewCollectionEvent(party.ID, party.Phone, collectionPayload(party, rec), rec.CreatedAt)
			if err != nil {
				return err
			}
			if _, err := tx.InsertNotification(ctx, ev); err != nil {
				return err
			}
			notificationID = &ev.ID
		}
		res = AppendResult{Record: rec, NotificationID: notificationID}
		return nil
	})
	if err != nil {
		return AppendResult{}, err
	}
	return res, nil
}

func collectionPayload(p Party, rec Record) notify.CollectionPayload {
	return notify.CollectionPayload{
		RecordID:  rec.ID,
		PartyCode: p.Code,
		PartyName: p.Name,
		Date:      shared.FormatDate(rec.Date),
		Session:   string(rec.Session),
		MilkType:  string(rec.MilkType),
		Quantity:  rec.Quantity,
		Fat:       rec.Fat,
		Rate:      rec.Rate,
		Amount:    rec.Amount,
		Balance:   rec.BalanceAfter,
	}
}

// PartyRecords returns one party's records in [r.From, r.To), oldest first.
func (s *Service) PartyRecords(ctx context.Context, partyID uuid.UUID, r shared.DateRange) ([]Record, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	var out []Record
	err := s.store.WithReadTx(ctx, func(ctx context.Context, tx ReadTx) error {
		if _, err := tx.GetParty(ctx, partyID); err != nil {
			return err
		}
		var err error
		out, err = tx.PartyRecords(ctx, partyID, r)
		return err
	})
	return out, err
}

// Records returns all records of kind in [r.From, r.To); an empty kind returns every kind.
func (s *Service) Records(ctx context.Context, r shared.DateRange, kind RecordKind) ([]Record, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if kind != "" && !kind.Valid() {
		return nil, shared.Invalid("kind", "unknown record kind %q", kind)
	}
	var out []Record
	err := s.store.WithReadTx(ctx, func(ctx context.Context, tx ReadTx) error {
		var err error
		out, err = tx.Records(ctx, r, kind)
		return err
	})
	return out, err
}

// allTime covers every storable civil date.
var allTime = shared.DateRange{
	From: time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC),
	To:   time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC),
}

// VerifyBalances replays every party's ledger and reports stored balances that differ.
func (s *Service) VerifyBalances(ctx context.Context) ([]BalanceDrift, error) {
	var drifts []BalanceDrift
	err := s.store.WithReadTx(ctx, func(ctx context.Context, tx ReadTx) error {
		parties, err := tx.ListParties(ctx, "")
		if err != nil {
			return err
		}
		for _, p := range parties {
			records, err := tx.PartyRecords(ctx, p.ID, allTime)
			if err != nil {
				return fmt.Errorf("ledger: verify %s: %w", p.Code, err)
			}
			computed := s.calc.Replay(p.Kind, records)
			if !computed.Equal(p.Balance) {
				drifts = append(drifts, BalanceDrift{PartyID: p.ID, Code: p.Code, Stored: p.Balance, Computed: computed})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, d := range drifts {
		s.logger.ErrorContext(ctx, "party balance drift",
			slog.String("party_id", d.PartyID.String()),
			slog.String("code", d.Code),
			slog.String("stored", d.Stored.String()),
			slog.String("computed", d.Computed.String()))
	}
	return drifts, nil
}
