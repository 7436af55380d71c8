package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobSchedule is the recurring-trigger row for a queue's batch formation.
// NextRunAt is what the batch inclusion estimator reads.
type JobSchedule struct {
	ID      uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name    string     `gorm:"column:name;not null"`
	QueueID *uuid.UUID `gorm:"column:queue_id;type:uuid;uniqueIndex:ux_job_schedules_queue"`

	IntervalSecs *int64     `gorm:"column:interval_secs"`
	NextRunAt    *time.Time `gorm:"column:next_run_at"`
	LastRunAt    *time.Time `gorm:"column:last_run_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// JobRun is one durable execution record of a pipeline step. A worker claims
// due rows, runs the step, and either completes the row or reschedules it
// with backoff. State lives in the store so any worker can resume a step
// after a crash.
type JobRun struct {
	ID      uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name    string          `gorm:"column:name;not null"`
	Payload json.RawMessage `gorm:"column:payload;type:jsonb;not null"`

	State         string     `gorm:"column:state;not null;default:'pending'"`
	Attempts      int        `gorm:"column:attempts;not null;default:0"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null"`
	CompletedAt   *time.Time `gorm:"column:completed_at"`
	LastError     *string    `gorm:"column:last_error"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// JobRun states.
const (
	JobRunPending   = "pending"
	JobRunCompleted = "completed"
	JobRunFailed    = "failed"
)
