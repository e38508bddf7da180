package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"

	jobmetrics "github.com/dairybooth/dairyledger/internal/jobs"
)

const sweeperLockKey = "lock:dairyledger:notify:sweeper"

// Sweeper returns events stuck in SENDING after their lease expired. A redis lock keeps
// a single sweeper active across worker processes.
type Sweeper struct {
	store       Store
	locker      *redislock.Client
	lockTTL     time.Duration
	maxAttempts int
	backoff     Backoff
	logger      *slog.Logger
	metrics     *jobmetrics.Metrics
	now         func() time.Time
}

// NewSweeper constructs a sweeper sharing the dispatcher's attempt budget and backoff. A
// nil locker runs without cross-process exclusion.
func NewSweeper(store Store, locker *redislock.Client, cfg Config, logger *slog.Logger, metrics *jobmetrics.Metrics) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Sweeper{
		store:       store,
		locker:      locker,
		lockTTL:     30 * time.Second,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

// Reclaim moves expired leases to RETRY_WAIT after the usual backoff, or FAILED when the expired attempt was the
// last one. It returns how many events were reclaimed; zero when another sweeper holds
// the lock.
func (s *Sweeper) Reclaim(ctx context.Context) (int, error) {
	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, sweeperLockKey, s.lockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			s.logger.DebugContext(ctx, "lease sweep skipped, lock held elsewhere")
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				s.logger.WarnContext(ctx, "release sweeper lock", slog.Any("error", err))
			}
		}()
	}

	reclaimed, err := s.store.ReclaimExpired(ctx, s.now().UTC(), s.maxAttempts, s.backoff)
	if err != nil {
		return 0, err
	}
	for _, t := range reclaimed {
		s.metrics.ObserveTransition(string(t.From), string(t.To))
		s.logger.WarnContext(ctx, "notification lease expired",
			slog.String("event_id", t.EventID.String()),
			slog.String("state", string(t.To)))
	}
	return len(reclaimed), nil
}
