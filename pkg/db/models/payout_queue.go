package models

import (
	"time"

	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	"github.com/google/uuid"
)

// PayoutQueue is the batching policy grouping payouts that settle together.
// The policy is immutable once a payout in flight references it.
type PayoutQueue struct {
	ID        uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID uuid.UUID          `gorm:"column:account_id;type:uuid;not null"`
	Name      string             `gorm:"column:name;not null"`
	Trigger   enums.QueueTrigger `gorm:"column:trigger;type:queue_trigger_enum;not null;default:'manual'"`

	// TriggerIntervalSecs is set only for interval-triggered queues.
	TriggerIntervalSecs *int64 `gorm:"column:trigger_interval_secs"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TriggerInterval returns the configured interval, or false for manual queues.
func (q PayoutQueue) TriggerInterval() (time.Duration, bool) {
	if q.Trigger != enums.QueueTriggerInterval || q.TriggerIntervalSecs == nil {
		return 0, false
	}
	return time.Duration(*q.TriggerIntervalSecs) * time.Second, true
}
