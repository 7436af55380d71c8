package models

import (
	"encoding/json"
	"time"

	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	"github.com/google/uuid"
)

// OutboxEvent is one record of the durable, per-account ordered event feed.
// Rows are appended once and never mutated or deleted; Sequence is strictly
// increasing per account (ux_outbox_events_account_sequence).
type OutboxEvent struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID uuid.UUID `gorm:"column:account_id;type:uuid;not null;uniqueIndex:ux_outbox_events_account_sequence"`
	Sequence  int64     `gorm:"column:sequence;not null;uniqueIndex:ux_outbox_events_account_sequence"`

	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:outbox_event_type_enum;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:outbox_aggregate_type_enum;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`

	LedgerEventID *uuid.UUID `gorm:"column:ledger_event_id;type:uuid"`
	LedgerTxID    *uuid.UUID `gorm:"column:ledger_tx_id;type:uuid"`

	Payload    json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	RecordedAt time.Time       `gorm:"column:recorded_at;autoCreateTime"`

	PublishedAt  *time.Time `gorm:"column:published_at"`
	AttemptCount int        `gorm:"column:attempt_count;not null;default:0"`
	LastError    *string    `gorm:"column:last_error"`
}

// OutboxSequence is the per-account monotonic counter. The next sequence is
// allocated under the same transaction as the event insert, never out of
// band.
type OutboxSequence struct {
	AccountID    uuid.UUID `gorm:"column:account_id;type:uuid;primaryKey"`
	LastSequence int64     `gorm:"column:last_sequence;not null;default:0"`
}
