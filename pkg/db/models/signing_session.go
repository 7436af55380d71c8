package models

import (
	"encoding/json"
	"time"

	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	"github.com/google/uuid"
)

// SigningSession coordinates one signing party's signature on one batch.
// Exactly one session exists per (batch, signer fingerprint) pair; its state
// lives entirely in the append-only event log.
type SigningSession struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID         uuid.UUID `gorm:"column:account_id;type:uuid;not null"`
	BatchID           uuid.UUID `gorm:"column:batch_id;type:uuid;not null;uniqueIndex:ux_signing_sessions_batch_signer"`
	SignerFingerprint string    `gorm:"column:signer_fingerprint;not null;uniqueIndex:ux_signing_sessions_batch_signer"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
}

// SigningSessionEvent is one row of a session's ordered event log. Replaying
// rows in ascending sequence reconstructs the session state exactly.
type SigningSessionEvent struct {
	ID         uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SessionID  uuid.UUID              `gorm:"column:session_id;type:uuid;not null;uniqueIndex:ux_signing_session_events_seq"`
	Sequence   int                    `gorm:"column:sequence;not null;uniqueIndex:ux_signing_session_events_seq"`
	EventType  enums.SigningEventType `gorm:"column:event_type;type:signing_event_type_enum;not null"`
	Payload    json.RawMessage        `gorm:"column:payload;type:jsonb"`
	RecordedAt time.Time              `gorm:"column:recorded_at;autoCreateTime"`
}
