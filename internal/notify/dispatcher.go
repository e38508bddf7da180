package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/dairybooth/dairyledger/internal/jobs"
	"github.com/dairybooth/dairyledger/internal/shared"
)

// Config tunes delivery.
type Config struct {
	MaxAttempts  int
	Backoff      Backoff
	LeaseTTL     time.Duration
	Workers      int
	PollInterval time.Duration
	PhoneRegion  string
	Language     string
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Backoff.Base <= 0 && c.Backoff.Cap <= 0 {
		c.Backoff = DefaultBackoff()
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 2 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.PhoneRegion == "" {
		c.PhoneRegion = shared.DefaultPhoneRegion
	}
	return c
}

// LeaseMargin is the tail of a lease during which no send is in flight, leaving time to
// record the outcome before the sweeper may reclaim the event.
func LeaseMargin(ttl time.Duration) time.Duration {
	m := ttl / 5
	if m > 10*time.Second {
		m = 10 * time.Second
	}
	return m
}

// Dispatcher delivers notification events at most once per successful send, with bounded
// retries. Workers share no state besides the Store.
type Dispatcher struct {
	store     Store
	transport Transport
	renderer  Renderer
	cfg       Config
	owner     string
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
	now       func() time.Time
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *jobmetrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithOwner overrides the lease owner name.
func WithOwner(owner string) Option {
	return func(d *Dispatcher) {
		if owner != "" {
			d.owner = owner
		}
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(store Store, transport Transport, cfg Config, opts ...Option) *Dispatcher {
	cfg = cfg.withDefaults()
	host, _ := os.Hostname()
	d := &Dispatcher{
		store:     store,
		transport: transport,
		renderer:  NewRenderer(cfg.Language),
		cfg:       cfg,
		owner:     fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue persists ev as PENDING. An existing event is left alone unless it is FAILED, in
// which case it is replayed with a fresh attempt budget. It reports whether the event is
// now waiting for delivery because of this call.
func (d *Dispatcher) Enqueue(ctx context.Context, ev Event) (bool, error) {
	created, err := d.store.Insert(ctx, ev)
	if err != nil {
		return false, err
	}
	if created {
		d.metrics.ObserveTransition("", string(StatePending))
		return true, nil
	}
	return d.Replay(ctx, ev.ID)
}

// Replay moves a FAILED event back to PENDING.
func (d *Dispatcher) Replay(ctx context.Context, id uuid.UUID) (bool, error) {
	existing, err := d.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if existing.State != StateFailed {
		return false, nil
	}
	replayed, err := d.store.Replay(ctx, id, d.now().UTC())
	if err != nil {
		return false, err
	}
	if replayed {
		d.metrics.ObserveTransition(string(StateFailed), string(StatePending))
		d.logger.InfoContext(ctx, "notification replayed", slog.String("event_id", id.String()))
	}
	return replayed, nil
}

// ProcessNext claims and handles the oldest ready event. It returns false when nothing
// was ready.
func (d *Dispatcher) ProcessNext(ctx context.Context) (bool, error) {
	ev, ok, err := d.store.ClaimNext(ctx, d.lease())
	if err != nil || !ok {
		return false, err
	}
	d.metrics.ObserveTransition(string(ev.previousState()), string(StateSending))
	return true, d.handle(ctx, ev)
}

// Dispatch handles one specific event. Events that are delivered, failed, leased by
// another worker or still backing off are left untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, id uuid.UUID) (bool, error) {
	ev, ok, err := d.store.ClaimByID(ctx, id, d.lease())
	if err != nil {
		return false, err
	}
	if !ok {
		if _, err := d.store.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	d.metrics.ObserveTransition(string(ev.previousState()), string(StateSending))
	return true, d.handle(ctx, ev)
}

// Drain processes ready events until none remain or limit is reached.
func (d *Dispatcher) Drain(ctx context.Context, limit int) (int, error) {
	n := 0
	for limit <= 0 || n < limit {
		ok, err := d.ProcessNext(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		n++
	}
	return n, nil
}

// Run polls for work with the configured number of workers until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			d.loop(ctx, worker)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, worker int) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		processed, err := d.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			d.logger.ErrorContext(ctx, "dispatch failed", slog.Int("worker", worker), slog.Any("error", err))
		}
		wait := d.cfg.PollInterval
		if processed && err == nil {
			wait = 0
		}
		timer.Reset(wait)
	}
}

func (d *Dispatcher) lease() Lease {
	return Lease{Owner: d.owner, Now: d.now().UTC(), TTL: d.cfg.LeaseTTL}
}

func (d *Dispatcher) handle(ctx context.Context, ev Event) error {
	logger := d.logger.With(slog.String("event_id", ev.ID.String()), slog.Int("attempt", ev.Attempts))

	check := shared.CheckPhone(ev.Phone, d.cfg.PhoneRegion)
	if !check.Valid {
		return d.complete(ctx, logger, ev, StateFailed, time.Time{}, "", "invalid phone: "+check.Reason)
	}
	payload, err := ev.DecodePayload()
	if err != nil {
		return d.complete(ctx, logger, ev, StateFailed, time.Time{}, "", err.Error())
	}

	budget := d.sendBudget(ev)
	if budget <= 0 {
		return d.retryOrFail(ctx, logger, ev, "lease expired before send")
	}
	sendCtx, cancel := context.WithTimeout(ctx, budget)
	start := time.Now()
	deliveryID, sendErr := d.transport.Send(sendCtx, check.E164, d.renderer.Collection(payload))
	elapsed := time.Since(start)
	cancel()

	switch {
	case sendErr == nil:
		d.metrics.ObserveSend("delivered", elapsed)
		return d.complete(ctx, logger, ev, StateDelivered, time.Time{}, deliveryID, "")
	case IsPermanent(sendErr):
		d.metrics.ObserveSend("permanent", elapsed)
		return d.complete(ctx, logger, ev, StateFailed, time.Time{}, "", sendErr.Error())
	default:
		outcome := "transient"
		if errors.Is(sendErr, context.Canceled) || errors.Is(sendErr, context.DeadlineExceeded) || ctx.Err() != nil {
			outcome = "interrupted"
		}
		d.metrics.ObserveSend(outcome, elapsed)
		return d.retryOrFail(ctx, logger, ev, sendErr.Error())
	}
}

// sendBudget is how long a send may run while the lease is still held.
func (d *Dispatcher) sendBudget(ev Event) time.Duration {
	now := d.now().UTC()
	expires := now.Add(d.cfg.LeaseTTL)
	if ev.LeaseExpiresAt != nil {
		expires = *ev.LeaseExpiresAt
	}
	return expires.Sub(now) - LeaseMargin(d.cfg.LeaseTTL)
}

func (d *Dispatcher) retryOrFail(ctx context.Context, logger *slog.Logger, ev Event, reason string) error {
	if ev.Attempts >= d.cfg.MaxAttempts {
		return d.complete(ctx, logger, ev, StateFailed, time.Time{}, "", reason)
	}
	next := d.now().UTC().Add(d.cfg.Backoff.Delay(ev.Attempts))
	return d.complete(ctx, logger, ev, StateRetryWait, next, "", reason)
}

func (d *Dispatcher) complete(ctx context.Context, logger *slog.Logger, ev Event, to State, next time.Time, deliveryID, reason string) error {
	// The send already happened; its outcome must be recorded even if ctx was cancelled.
	writeCtx := context.WithoutCancel(ctx)
	c := Completion{
		EventID:       ev.ID,
		Owner:         ev.LeaseOwner,
		To:            to,
		At:            d.now().UTC(),
		NextAttemptAt: next,
		DeliveryID:    deliveryID,
		Error:         reason,
	}
	done, err := d.store.Complete(writeCtx, c)
	if err != nil {
		logger.ErrorContext(writeCtx, "record notification outcome", slog.String("state", string(to)), slog.Any("error", err))
		return fmt.Errorf("notify: complete %s: %w", ev.ID, err)
	}
	if !done {
		logger.WarnContext(writeCtx, "notification lease lost before completion", slog.String("state", string(to)))
		return nil
	}
	d.metrics.ObserveTransition(string(StateSending), string(to))

	switch to {
	case StateDelivered:
		logger.InfoContext(writeCtx, "notification delivered", slog.String("delivery_id", deliveryID))
	case StateRetryWait:
		logger.WarnContext(writeCtx, "notification send failed, will retry",
			slog.Time("next_attempt_at", next), slog.String("error", reason))
	case StateFailed:
		logger.ErrorContext(writeCtx, "notification failed", slog.String("error", reason))
	}
	return nil
}
