package report

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dairybooth/dairyledger/internal/ledger"
	"github.com/dairybooth/dairyledger/internal/notify"
	"github.com/dairybooth/dairyledger/internal/platform/db"
	"github.com/dairybooth/dairyledger/internal/shared"
)

// View is a consistent snapshot of the ledger and notification state.
type View interface {
	ledger.ReadTx
	// FailedNotifications lists FAILED events whose record date is in r. A nil party
	// id selects every party.
	FailedNotifications(ctx context.Context, r shared.DateRange, partyID uuid.UUID) ([]FailedNotification, error)
}

// Source opens snapshots for report building.
type Source interface {
	Snapshot(ctx context.Context, fn func(context.Context, View) error) error
}

// Repository reads reports from PostgreSQL in repeatable-read, read-only transactions,
// so report building never blocks ledger appends.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type snapshot struct {
	ledger.ReadTx
	tx pgx.Tx
}

// Snapshot implements Source.
func (r *Repository) Snapshot(ctx context.Context, fn func(context.Context, View) error) error {
	return db.WithTx(ctx, r.pool, db.SnapshotReadOnly, func(tx pgx.Tx) error {
		return fn(ctx, &snapshot{ReadTx: ledger.ReadTxFrom(tx), tx: tx})
	})
}

func (s *snapshot) FailedNotifications(ctx context.Context, r shared.DateRange, partyID uuid.UUID) ([]FailedNotification, error) {
	query := `
		SELECT e.id, e.record_id, e.party_id, p.code, l.date, e.attempts, COALESCE(e.last_error, '')
		FROM notification_events e
		JOIN ledger_records l ON l.id = e.record_id
		JOIN parties p ON p.id = e.party_id
		WHERE e.state = $1 AND l.date >= $2 AND l.date < $3`
	args := []any{string(notify.StateFailed), r.From, r.To}
	if partyID != uuid.Nil {
		query += ` AND e.party_id = $4`
		args = append(args, partyID)
	}
	query += ` ORDER BY l.date, l.seq`

	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("report: failed notifications: %w", err)
	}
	defer rows.Close()
	var out []FailedNotification
	for rows.Next() {
		var f FailedNotification
		if err := rows.Scan(&f.EventID, &f.RecordID, &f.PartyID, &f.PartyCode, &f.Date, &f.Attempts, &f.LastError); err != nil {
			return nil, fmt.Errorf("report: scan failed notification: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
