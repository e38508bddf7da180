package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/dairybooth/dairyledger/internal/jobs"
	"github.com/dairybooth/dairyledger/internal/shared"
)

const defaultDrainLimit = 100

// Dispatcher is the part of notify.Dispatcher the dispatch job drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, id uuid.UUID) (bool, error)
	Drain(ctx context.Context, limit int) (int, error)
}

// Reclaimer is satisfied by notify.Sweeper.
type Reclaimer interface {
	Reclaim(ctx context.Context) (int, error)
}

// NotifyDispatchJob pushes notification events through the dispatcher.
type NotifyDispatchJob struct {
	Dispatcher Dispatcher
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewNotifyDispatchJob initialises the dispatch handler.
func NewNotifyDispatchJob(dispatcher Dispatcher, logger *slog.Logger, metrics *jobmetrics.Metrics) *NotifyDispatchJob {
	return &NotifyDispatchJob{Dispatcher: dispatcher, Logger: logger, Metrics: metrics}
}

// Handle executes a dispatch task.
func (j *NotifyDispatchJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Dispatcher == nil {
		return errors.New("notify dispatch: handler not configured")
	}
	var payload NotifyDispatchPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskNotifyDispatch)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := loggerOrDefault(j.Logger)
	start := time.Now()

	if payload.EventID != uuid.Nil {
		handled, err := j.Dispatcher.Dispatch(ctx, payload.EventID)
		if errors.Is(err, shared.ErrNotFound) {
			logger.Warn("dispatch target missing", slog.String("event_id", payload.EventID.String()))
			return asynq.SkipRetry
		}
		if err != nil {
			return err
		}
		logger.Debug("dispatched notification",
			slog.String("event_id", payload.EventID.String()),
			slog.Bool("handled", handled))
		return nil
	}

	limit := payload.Limit
	if limit <= 0 {
		limit = defaultDrainLimit
	}
	n, err := j.Dispatcher.Drain(ctx, limit)
	if err != nil {
		logger.Error("drain notifications", slog.Int("handled", n), slog.Any("error", err))
		return err
	}
	if n > 0 {
		logger.Info("drained notifications", slog.Int("handled", n), slog.Duration("duration", time.Since(start)))
	}
	return nil
}

// NotifySweepJob reclaims expired notification leases.
type NotifySweepJob struct {
	Reclaimer Reclaimer
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewNotifySweepJob initialises the sweep handler.
func NewNotifySweepJob(reclaimer Reclaimer, logger *slog.Logger, metrics *jobmetrics.Metrics) *NotifySweepJob {
	return &NotifySweepJob{Reclaimer: reclaimer, Logger: logger, Metrics: metrics}
}

// Handle executes the sweep.
func (j *NotifySweepJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Reclaimer == nil {
		return errors.New("notify sweep: handler not configured")
	}
	tracker := j.Metrics.Track(TaskNotifySweep)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	n, err := j.Reclaimer.Reclaim(ctx)
	if err != nil {
		loggerOrDefault(j.Logger).Error("sweep notification leases", slog.Any("error", err))
		return err
	}
	if n > 0 {
		loggerOrDefault(j.Logger).Info("reclaimed notification leases", slog.Int("count", n))
	}
	return nil
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
