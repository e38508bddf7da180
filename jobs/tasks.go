package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskNotifyDispatch delivers one notification event, or drains every ready one.
	TaskNotifyDispatch = "notify:dispatch"
	// TaskNotifySweep reclaims notification leases abandoned by crashed workers.
	TaskNotifySweep = "notify:sweep"
	// TaskLedgerIntegrity replays every party's ledger against its stored balance.
	TaskLedgerIntegrity = "ledger:integrity"
)

// NotifyDispatchPayload targets a single event when EventID is set; otherwise up to Limit
// ready events are drained.
type NotifyDispatchPayload struct {
	EventID uuid.UUID `json:"event_id,omitempty"`
	Limit   int       `json:"limit,omitempty"`
}

// NewNotifyDispatchTask constructs a dispatch task for one event.
func NewNotifyDispatchTask(eventID uuid.UUID) (*asynq.Task, error) {
	return newTask(TaskNotifyDispatch, NotifyDispatchPayload{EventID: eventID})
}

// NewNotifyDrainTask constructs a dispatch task that drains ready events.
func NewNotifyDrainTask(limit int) (*asynq.Task, error) {
	return newTask(TaskNotifyDispatch, NotifyDispatchPayload{Limit: limit})
}

// NewNotifySweepTask constructs the lease sweep task.
func NewNotifySweepTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskNotifySweep, nil), nil
}

// NewLedgerIntegrityTask constructs the balance integrity task.
func NewLedgerIntegrityTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskLedgerIntegrity, nil), nil
}

func newTask(typ string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, data), nil
}
