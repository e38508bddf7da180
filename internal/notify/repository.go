package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dairybooth/dairyledger/internal/platform/db"
	"github.com/dairybooth/dairyledger/internal/shared"
)

// Lease identifies the worker claiming an event and for how long.
type Lease struct {
	Owner string
	Now   time.Time
	TTL   time.Duration
}

// Completion is the outcome of one send attempt.
type Completion struct {
	EventID       uuid.UUID
	Owner         string
	To            State
	At            time.Time
	NextAttemptAt time.Time
	DeliveryID    string
	Error         string
}

// Store persists notification events and their transition log.
type Store interface {
	Insert(ctx context.Context, ev Event) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (Event, error)
	Replay(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ClaimNext(ctx context.Context, lease Lease) (Event, bool, error)
	ClaimByID(ctx context.Context, id uuid.UUID, lease Lease) (Event, bool, error)
	Complete(ctx context.Context, c Completion) (bool, error)
	ReclaimExpired(ctx context.Context, now time.Time, maxAttempts int, backoff Backoff) ([]Transition, error)
	ListByState(ctx context.Context, state State, limit int) ([]Event, error)
	Transitions(ctx context.Context, id uuid.UUID) ([]Transition, error)
}

// Querier is the subset of pgx used by InsertEvent; pgx.Tx satisfies it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// InsertEvent writes a PENDING event and its creation transition. It returns false when the
// event already exists. Callers run it inside the ledger append transaction.
func InsertEvent(ctx context.Context, q Querier, ev Event) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO notification_events (id, record_id, party_id, phone, payload, state, attempts,
			next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $8)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.RecordID, ev.PartyID, ev.Phone, ev.Payload, StatePending, ev.NextAttemptAt, ev.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("notify: insert event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := logTransition(ctx, q, Transition{EventID: ev.ID, To: StatePending, At: ev.CreatedAt}); err != nil {
		return false, err
	}
	return true, nil
}

func logTransition(ctx context.Context, q Querier, t Transition) error {
	var from *string
	if t.From != "" {
		s := string(t.From)
		from = &s
	}
	var msg *string
	if t.Error != "" {
		msg = &t.Error
	}
	if _, err := q.Exec(ctx, `
		INSERT INTO notification_transitions (event_id, from_state, to_state, at, error)
		VALUES ($1, $2, $3, $4, $5)`, t.EventID, from, string(t.To), t.At, msg); err != nil {
		return fmt.Errorf("notify: log transition: %w", err)
	}
	return nil
}

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const eventColumns = `id, record_id, party_id, phone, payload, state, attempts, next_attempt_at,
	lease_owner, lease_expires_at, last_attempt_at, last_error, delivery_id, created_at, updated_at`

func scanEvent(row pgx.Row) (Event, error) {
	var (
		ev         Event
		state      string
		leaseOwner *string
		deliveryID *string
	)
	err := row.Scan(&ev.ID, &ev.RecordID, &ev.PartyID, &ev.Phone, &ev.Payload, &state, &ev.Attempts,
		&ev.NextAttemptAt, &leaseOwner, &ev.LeaseExpiresAt, &ev.LastAttemptAt, &ev.LastError,
		&deliveryID, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return Event{}, err
	}
	ev.State = State(state)
	if leaseOwner != nil {
		ev.LeaseOwner = *leaseOwner
	}
	if deliveryID != nil {
		ev.DeliveryID = *deliveryID
	}
	return ev, nil
}

// Insert implements Store.
func (r *Repository) Insert(ctx context.Context, ev Event) (bool, error) {
	var created bool
	err := db.WithTx(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		var err error
		created, err = InsertEvent(ctx, tx, ev)
		return err
	})
	return created, err
}

// Get implements Store.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Event, error) {
	ev, err := scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM notification_events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Event{}, shared.NotFound("notification", id.String())
	}
	if err != nil {
		return Event{}, fmt.Errorf("notify: get event: %w", err)
	}
	return ev, nil
}

// Replay moves a FAILED event back to PENDING with a fresh attempt budget.
func (r *Repository) Replay(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	var replayed bool
	err := db.WithTx(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE notification_events
			SET state = $2, attempts = 0, next_attempt_at = $3, lease_owner = NULL,
			    lease_expires_at = NULL, updated_at = $3
			WHERE id = $1 AND state = $4`, id, StatePending, now, StateFailed)
		if err != nil {
			return fmt.Errorf("notify: replay: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		replayed = true
		return logTransition(ctx, tx, Transition{EventID: id, From: StateFailed, To: StatePending, At: now})
	})
	return replayed, err
}

// ClaimNext leases the oldest ready event. Rows locked by other workers are skipped.
func (r *Repository) ClaimNext(ctx context.Context, lease Lease) (Event, bool, error) {
	return r.claim(ctx, lease, `
		SELECT id, state FROM notification_events
		WHERE (state = $1 OR (state = $2 AND next_attempt_at <= $3))
		ORDER BY next_attempt_at, created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, StatePending, StateRetryWait, lease.Now)
}

// ClaimByID leases one event if it is ready.
func (r *Repository) ClaimByID(ctx context.Context, id uuid.UUID, lease Lease) (Event, bool, error) {
	return r.claim(ctx, lease, `
		SELECT id, state FROM notification_events
		WHERE id = $4 AND (state = $1 OR (state = $2 AND next_attempt_at <= $3))
		FOR UPDATE SKIP LOCKED`, StatePending, StateRetryWait, lease.Now, id)
}

func (r *Repository) claim(ctx context.Context, lease Lease, selectSQL string, args ...any) (Event, bool, error) {
	var (
		ev      Event
		claimed bool
	)
	err := db.WithTx(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		var (
			id   uuid.UUID
			prev string
		)
		if err := tx.QueryRow(ctx, selectSQL, args...).Scan(&id, &prev); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("notify: select claimable: %w", err)
		}
		if err := checkTransition(State(prev), StateSending); err != nil {
			return err
		}
		expires := lease.Now.Add(lease.TTL)
		row := tx.QueryRow(ctx, `
			UPDATE notification_events
			SET state = $2, attempts = attempts + 1, lease_owner = $3, lease_expires_at = $4,
			    last_attempt_at = $5, updated_at = $5
			WHERE id = $1
			RETURNING `+eventColumns, id, StateSending, lease.Owner, expires, lease.Now)
		var err error
		ev, err = scanEvent(row)
		if err != nil {
			return fmt.Errorf("notify: claim: %w", err)
		}
		claimed = true
		return logTransition(ctx, tx, Transition{EventID: id, From: State(prev), To: StateSending, At: lease.Now})
	})
	if err != nil {
		return Event{}, false, err
	}
	return ev, claimed, nil
}

// Complete records the outcome of an attempt. It is a no-op returning false when the lease
// was lost to the sweeper or another worker.
func (r *Repository) Complete(ctx context.Context, c Completion) (bool, error) {
	if err := checkTransition(StateSending, c.To); err != nil {
		return false, err
	}
	var done bool
	err := db.WithTx(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		var deliveryID, lastErr *string
		if c.DeliveryID != "" {
			deliveryID = &c.DeliveryID
		}
		if c.Error != "" {
			lastErr = &c.Error
		}
		next := c.NextAttemptAt
		if next.IsZero() {
			next = c.At
		}
		tag, err := tx.Exec(ctx, `
			UPDATE notification_events
			SET state = $3, next_attempt_at = $4, delivery_id = COALESCE($5, delivery_id),
			    last_error = COALESCE($6, last_error), lease_owner = NULL, lease_expires_at = NULL,
			    updated_at = $7
			WHERE id = $1 AND state = $8 AND lease_owner = $2`,
			c.EventID, c.Owner, c.To, next, deliveryID, lastErr, c.At, StateSending)
		if err != nil {
			return fmt.Errorf("notify: complete: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		done = true
		return logTransition(ctx, tx, Transition{EventID: c.EventID, From: StateSending, To: c.To, At: c.At, Error: c.Error})
	})
	return done, err
}

// ReclaimExpired releases SENDING events whose lease ran out. The outcome of the interrupted
// attempt is unknown, so it counts as a transient failure and backs off like one.
func (r *Repository) ReclaimExpired(ctx context.Context, now time.Time, maxAttempts int, backoff Backoff) ([]Transition, error) {
	var out []Transition
	err := db.WithTx(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, attempts FROM notification_events
			WHERE state = $1 AND lease_expires_at < $2
			ORDER BY lease_expires_at
			FOR UPDATE SKIP LOCKED`, StateSending, now)
		if err != nil {
			return fmt.Errorf("notify: select expired: %w", err)
		}
		type expired struct {
			id       uuid.UUID
			attempts int
		}
		var batch []expired
		for rows.Next() {
			var e expired
			if err := rows.Scan(&e.id, &e.attempts); err != nil {
				rows.Close()
				return fmt.Errorf("notify: scan expired: %w", err)
			}
			batch = append(batch, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("notify: iterate expired: %w", err)
		}

		for _, e := range batch {
			to, next := StateRetryWait, now.Add(backoff.Delay(e.attempts))
			if e.attempts >= maxAttempts {
				to, next = StateFailed, now
			}
			const reason = "lease expired"
			if _, err := tx.Exec(ctx, `
				UPDATE notification_events
				SET state = $2, next_attempt_at = $3, last_error = $4, lease_owner = NULL,
				    lease_expires_at = NULL, updated_at = $5
				WHERE id = $1`, e.id, to, next, reason, now); err != nil {
				return fmt.Errorf("notify: reclaim: %w", err)
			}
			t := Transition{EventID: e.id, From: StateSending, To: to, At: now, Error: reason}
			if err := logTransition(ctx, tx, t); err != nil {
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListByState returns up to limit events in state, oldest first.
func (r *Repository) ListByState(ctx context.Context, state State, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+eventColumns+` FROM notification_events
		WHERE state = $1 ORDER BY created_at LIMIT $2`, state, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("notify: scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Transitions returns the audit log of one event.
func (r *Repository) Transitions(ctx context.Context, id uuid.UUID) ([]Transition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, COALESCE(from_state, ''), to_state, at, COALESCE(error, '')
		FROM notification_transitions WHERE event_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("notify: list transitions: %w", err)
	}
	defer rows.Close()
	var out []Transition
	for rows.Next() {
		var (
			t        Transition
			from, to string
		)
		if err := rows.Scan(&t.EventID, &from, &to, &t.At, &t.Error); err != nil {
			return nil, fmt.Errorf("notify: scan transition: %w", err)
		}
		t.From, t.To = State(from), State(to)
		out = append(out, t)
	}
	return out, rows.Err()
}
