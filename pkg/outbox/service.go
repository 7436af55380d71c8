// Package outbox appends domain events to the durable per-account feed. An
// event is only ever written inside the same transaction as the state change
// it describes, so the feed never diverges from the tables.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/GaloyMoney/bria-sub001/pkg/db/models"
	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	"github.com/GaloyMoney/bria-sub001/pkg/logger"
)

type DomainEvent struct {
	AccountID     uuid.UUID
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	LedgerEventID *uuid.UUID
	LedgerTxID    *uuid.UUID
	Data          interface{}
	Version       int
	OccurredAt    time.Time
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit allocates the account's next sequence and appends the event, all
// within the caller's transaction. If the transaction rolls back, both the
// sequence allocation and the event vanish together, which is what keeps the
// feed gap-free.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if event.AccountID == uuid.Nil {
		return errors.New("account id required")
	}
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if event.Version == 0 {
		event.Version = 1
	}
	envelope := PayloadEnvelope{
		Version:    event.Version,
		EventID:    uuid.NewString(),
		OccurredAt: event.OccurredAt,
		Data:       payload,
	}
	payloadJSON, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	sequence, err := s.repo.NextSequence(tx, event.AccountID)
	if err != nil {
		return err
	}
	row := models.OutboxEvent{
		ID:            uuid.New(),
		AccountID:     event.AccountID,
		Sequence:      sequence,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		LedgerEventID: event.LedgerEventID,
		LedgerTxID:    event.LedgerTxID,
		Payload:       json.RawMessage(payloadJSON),
	}
	if err := s.repo.Insert(tx, &row); err != nil {
		return err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event_id":   envelope.EventID,
			"event_type": event.EventType,
			"account_id": event.AccountID.String(),
			"sequence":   sequence,
		})
		s.logg.Info(logCtx, "outbox event queued")
	}
	return nil
}
