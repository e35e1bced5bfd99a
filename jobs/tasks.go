package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGrantsWarmup pre-loads grant snapshots for active principals.
	TaskGrantsWarmup = "grants:warmup"
)

// GrantsWarmupPayload bounds one warmup run.
type GrantsWarmupPayload struct {
	// Limit caps how many principals are primed. Zero means the configured
	// batch size.
	Limit int `json:"limit"`
}

// NewGrantsWarmupTask constructs an Asynq task.
func NewGrantsWarmupTask(payload GrantsWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGrantsWarmup, data), nil
}
