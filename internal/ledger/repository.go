package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dairybooth/dairyledger/internal/notify"
	"github.com/dairybooth/dairyledger/internal/platform/db"
	"github.com/dairybooth/dairyledger/internal/shared"
)

// ReadTx exposes snapshot reads.
type ReadTx interface {
	GetParty(ctx context.Context, id uuid.UUID) (Party, error)
	ListParties(ctx context.Context, kind PartyKind) ([]Party, error)
	GetRecord(ctx context.Context, id uuid.UUID) (Record, bool, error)
	PartyRecords(ctx context.Context, partyID uuid.UUID, r shared.DateRange) ([]Record, error)
	Records(ctx context.Context, r shared.DateRange, kind RecordKind) ([]Record, error)
}

// Tx exposes the writes of the append path. Every method runs in the caller's transaction.
type Tx interface {
	ReadTx
	// LockParty loads the party and holds its row lock until the transaction ends.
	LockParty(ctx context.Context, id uuid.UUID) (Party, error)
	InsertParty(ctx context.Context, p Party) error
	InsertRecord(ctx context.Context, rec Record) error
	SetPartyBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error
	InsertNotification(ctx context.Context, ev notify.Event) (bool, error)
}

// Store opens transactions against the ledger.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	WithReadTx(ctx context.Context, fn func(context.Context, ReadTx) error) error
}

// Repository provides PostgreSQL backed persistence for the ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn in a read-committed transaction. Appends serialize on the party row
// lock; serialization failures and deadlocks are retried.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithRetryTx(ctx, r.pool, db.ReadCommitted, db.DefaultConflictRetries, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// WithReadTx runs fn against a repeatable-read, read-only snapshot.
func (r *Repository) WithReadTx(ctx context.Context, fn func(context.Context, ReadTx) error) error {
	return db.WithTx(ctx, r.pool, db.SnapshotReadOnly, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const partyColumns = `id, kind, code, name, COALESCE(phone, ''), COALESCE(email, ''), COALESCE(address, ''), balance, created_at`

func scanParty(row pgx.Row) (Party, error) {
	var (
		p    Party
		kind string
	)
	if err := row.Scan(&p.ID, &kind, &p.Code, &p.Name, &p.Phone, &p.Email, &p.Address, &p.Balance, &p.CreatedAt); err != nil {
		return Party{}, err
	}
	p.Kind = PartyKind(kind)
	return p, nil
}

func (t *txRepo) getParty(ctx context.Context, id uuid.UUID, suffix string) (Party, error) {
	p, err := scanParty(t.tx.QueryRow(ctx, `SELECT `+partyColumns+` FROM parties WHERE id = $1`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Party{}, shared.NotFound("party", id.String())
	}
	if err != nil {
		return Party{}, fmt.Errorf("ledger: get party: %w", err)
	}
	return p, nil
}

func (t *txRepo) GetParty(ctx context.Context, id uuid.UUID) (Party, error) {
	return t.getParty(ctx, id, "")
}

func (t *txRepo) LockParty(ctx context.Context, id uuid.UUID) (Party, error) {
	return t.getParty(ctx, id, " FOR UPDATE")
}

func (t *txRepo) ListParties(ctx context.Context, kind PartyKind) ([]Party, error) {
	query := `SELECT ` + partyColumns + ` FROM parties`
	var args []any
	if kind != "" {
		query += ` WHERE kind = $1`
		args = append(args, string(kind))
	}
	query += ` ORDER BY kind, code`
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list parties: %w", err)
	}
	defer rows.Close()
	var out []Party
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan party: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertParty(ctx context.Context, p Party) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO parties (id, kind, code, name, phone, email, address, balance, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9)`,
		p.ID, string(p.Kind), p.Code, p.Name, p.Phone, p.Email, p.Address, p.Balance, p.CreatedAt)
	if db.IsUniqueViolation(err) {
		return shared.Invalid("code", "%s %s already exists", p.Kind, p.Code)
	}
	if err != nil {
		return fmt.Errorf("ledger: insert party: %w", err)
	}
	return nil
}

func (t *txRepo) SetPartyBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE parties SET balance = $2 WHERE id = $1`, id, balance)
	if err != nil {
		return fmt.Errorf("ledger: update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("party", id.String())
	}
	return nil
}

const recordColumns = `id, kind, party_id, date, COALESCE(session, ''), COALESCE(milk_type, ''), quantity, fat,
	rate, amount, balance_after, COALESCE(note, ''), created_at`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec                     Record
		kind, session, milkType string
	)
	err := row.Scan(&rec.ID, &kind, &rec.PartyID, &rec.Date, &session, &milkType, &rec.Quantity, &rec.Fat,
		&rec.Rate, &rec.Amount, &rec.BalanceAfter, &rec.Note, &rec.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	rec.Kind = RecordKind(kind)
	rec.Session = Session(session)
	rec.MilkType = MilkType(milkType)
	return rec, nil
}

func (t *txRepo) GetRecord(ctx context.Context, id uuid.UUID) (Record, bool, error) {
	rec, err := scanRecord(t.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM ledger_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("ledger: get record: %w", err)
	}
	return rec, true, nil
}

func (t *txRepo) InsertRecord(ctx context.Context, rec Record) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_records (id, kind, party_id, date, session, milk_type, quantity, fat, rate,
			amount, balance_after, note, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, $11, NULLIF($12, ''), $13)`,
		rec.ID, string(rec.Kind), rec.PartyID, rec.Date, string(rec.Session), string(rec.MilkType),
		rec.Quantity, rec.Fat, rec.Rate, rec.Amount, rec.BalanceAfter, rec.Note, rec.CreatedAt)
	if db.IsUniqueViolation(err) {
		// Lost a race with a concurrent append of the same id; the retry sees the stored row.
		return fmt.Errorf("ledger: insert record %s: %w", rec.ID, errDuplicateRecord)
	}
	if err != nil {
		return fmt.Errorf("ledger: insert record: %w", err)
	}
	return nil
}

func (t *txRepo) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query records: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *txRepo) PartyRecords(ctx context.Context, partyID uuid.UUID, r shared.DateRange) ([]Record, error) {
	return t.queryRecords(ctx, `SELECT `+recordColumns+` FROM ledger_records
		WHERE party_id = $1 AND date >= $2 AND date < $3
		ORDER BY date, seq`, partyID, r.From, r.To)
}

func (t *txRepo) Records(ctx context.Context, r shared.DateRange, kind RecordKind) ([]Record, error) {
	if kind == "" {
		return t.queryRecords(ctx, `SELECT `+recordColumns+` FROM ledger_records
			WHERE date >= $1 AND date < $2
			ORDER BY date, seq`, r.From, r.To)
	}
	return t.queryRecords(ctx, `SELECT `+recordColumns+` FROM ledger_records
		WHERE date >= $1 AND date < $2 AND kind = $3
		ORDER BY date, seq`, r.From, r.To, string(kind))
}

func (t *txRepo) InsertNotification(ctx context.Context, ev notify.Event) (bool, error) {
	return notify.InsertEvent(ctx, t.tx, ev)
}

// ReadTxFrom exposes ledger reads over a transaction opened by another package.
func ReadTxFrom(tx pgx.Tx) ReadTx {
	return &txRepo{tx: tx}
}
