package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/internal/budget"
	"github.com/odyssey-erp/odyssey-gl/internal/posting"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueLedger carries posting work and is weighted above QueueDefault.
	QueueLedger = "ledger"

	// TaskPostingEvent posts a queued business event.
	TaskPostingEvent = "posting:event"
	// TaskBudgetRelease releases encumbrances of a cancelled source document.
	TaskBudgetRelease = "budget:release"
	// TaskLedgerIntegrity re-verifies that stored entries balance.
	TaskLedgerIntegrity = "ledger:integrity"
)

// taskNamespace seeds deterministic task ids so a resubmitted event maps to
// the task already queued for it.
var taskNamespace = uuid.MustParse("6f1c2a53-8c1e-4d5b-9a8e-0c7a4b1f2d90")

// TaskID derives the queue id of a task from its type and natural key.
func TaskID(taskType, key string) string {
	return uuid.NewSHA1(taskNamespace, []byte(taskType+"|"+key)).String()
}

// NewPostingEventTask constructs the task for ev. The id is derived from the
// event type and reference number.
func NewPostingEventTask(ev posting.Event) (*asynq.Task, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	id := TaskID(TaskPostingEvent, ev.Type+"|"+ev.ReferenceNumber)
	return asynq.NewTask(TaskPostingEvent, data,
		asynq.TaskID(id),
		asynq.Queue(QueueLedger),
		asynq.MaxRetry(5),
		asynq.Retention(24*time.Hour),
	), nil
}

// decodeEvent keeps JSON numbers exact so amounts never pass through float64.
func decodeEvent(data []byte) (posting.Event, error) {
	var ev posting.Event
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&ev); err != nil {
		return posting.Event{}, fmt.Errorf("%w: decode posting event: %v", asynq.SkipRetry, err)
	}
	return ev, nil
}

// BudgetReleasePayload names the cancelled source document.
type BudgetReleasePayload struct {
	Source budget.Encumberable `json:"source"`
	Reason string              `json:"reason,omitempty"`
}

// NewBudgetReleaseTask constructs the release task for source.
func NewBudgetReleaseTask(source budget.Encumberable, reason string) (*asynq.Task, error) {
	if err := source.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(BudgetReleasePayload{Source: source, Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBudgetRelease, data,
		asynq.TaskID(TaskID(TaskBudgetRelease, source.String())),
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(10),
	), nil
}

// LedgerIntegrityPayload bounds the integrity scan.
type LedgerIntegrityPayload struct {
	LookbackDays int `json:"lookback_days"`
}

// NewLedgerIntegrityTask constructs the periodic integrity scan.
func NewLedgerIntegrityTask(lookbackDays int) (*asynq.Task, error) {
	if lookbackDays <= 0 {
		return nil, fmt.Errorf("lookback days must be positive")
	}
	data, err := json.Marshal(LedgerIntegrityPayload{LookbackDays: lookbackDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data, asynq.Queue(QueueDefault)), nil
}
