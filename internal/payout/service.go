// Package payout handles payout submission, queue listing, cancellation, and
// batch-inclusion estimation.
package payout

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/GaloyMoney/bria-sub001/pkg/db"
	"github.com/GaloyMoney/bria-sub001/pkg/db/models"
	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	apperrors "github.com/GaloyMoney/bria-sub001/pkg/errors"
	"github.com/GaloyMoney/bria-sub001/pkg/outbox"
	"github.com/GaloyMoney/bria-sub001/pkg/outbox/payloads"
)

var validate = validator.New()

// SubmitInput is a caller's request to queue a spend.
type SubmitInput struct {
	AccountID   uuid.UUID `validate:"required"`
	WalletID    uuid.UUID `validate:"required"`
	QueueID     uuid.UUID `validate:"required"`
	Destination string    `validate:"required"`
	Satoshis    int64     `validate:"required,gt=0"`
	ExternalID  *string   `validate:"omitempty,min=1,max=128"`
}

// Service defines the payout operations exposed to callers and to the batch
// formation step.
type Service interface {
	Submit(ctx context.Context, input SubmitInput) (uuid.UUID, error)
	ListUnbatched(ctx context.Context, tx *gorm.DB, queueID uuid.UUID) ([]models.Payout, error)
	Cancel(ctx context.Context, accountID, payoutID uuid.UUID) error
	EstimateBatchInclusion(ctx context.Context, payoutIDs []uuid.UUID) (map[uuid.UUID]*time.Time, error)
}

type service struct {
	client *db.Client
	repo   Repository
	events *outbox.Service
}

func NewService(client *db.Client, repo Repository, events *outbox.Service) (Service, error) {
	if client == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "db client required")
	}
	if repo == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "payout repository required")
	}
	if events == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "outbox service required")
	}
	return &service{client: client, repo: repo, events: events}, nil
}

// Submit queues a payout and records the payout_submitted outbox event in
// the same transaction. A duplicate external id within the account fails
// with a conflict before any state changes.
func (s *service) Submit(ctx context.Context, input SubmitInput) (uuid.UUID, error) {
	if err := validate.Struct(input); err != nil {
		return uuid.Nil, apperrors.Wrap(apperrors.CodeValidation, err, "invalid payout submission")
	}

	payout := models.Payout{
		ID:            uuid.New(),
		AccountID:     input.AccountID,
		WalletID:      input.WalletID,
		QueueID:       input.QueueID,
		Destination:   input.Destination,
		SatoshiAmount: input.Satoshis,
		ExternalID:    input.ExternalID,
		State:         enums.PayoutStateQueued,
	}

	err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, &payout); err != nil {
			if db.IsUniqueViolation(err, "ux_payouts_account_external_id") {
				return apperrors.New(apperrors.CodeConflict, "external id already exists")
			}
			return err
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			AccountID:     input.AccountID,
			EventType:     enums.EventPayoutSubmitted,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			Data: payloads.PayoutSubmittedEvent{
				PayoutID:    payout.ID,
				QueueID:     input.QueueID,
				WalletID:    input.WalletID,
				Destination: input.Destination,
				Satoshis:    input.Satoshis,
				ExternalID:  input.ExternalID,
			},
		})
	})
	if err != nil {
		return uuid.Nil, err
	}
	return payout.ID, nil
}

// ListUnbatched exposes the claimable set to batch formation. The caller
// passes its own (serializable) transaction.
func (s *service) ListUnbatched(ctx context.Context, tx *gorm.DB, queueID uuid.UUID) ([]models.Payout, error) {
	return s.repo.WithTx(tx).ListUnbatched(ctx, queueID)
}

// Cancel voids a payout that is still queued. Committed and settled payouts
// cannot be recalled and fail with a state conflict.
func (s *service) Cancel(ctx context.Context, accountID, payoutID uuid.UUID) error {
	return s.client.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payout, err := repo.FindByID(ctx, payoutID)
		if err != nil {
			return err
		}
		if payout.AccountID != accountID {
			return apperrors.New(apperrors.CodeNotFound, "payout not found")
		}
		if err := repo.MarkCancelled(ctx, payoutID); err != nil {
			return err
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			AccountID:     accountID,
			EventType:     enums.EventPayoutCancelled,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payoutID,
			Data: payloads.PayoutCancelledEvent{
				PayoutID:    payoutID,
				QueueID:     payout.QueueID,
				CancelledAt: time.Now(),
			},
		})
	})
}

// EstimateBatchInclusion predicts when each queued payout will be picked up
// by batch formation. Precedence per queue: a recorded next run on the
// queue's schedule, then the queue's trigger interval from now, then nil for
// manual queues. Committed and terminal payouts map to nil. The lookup is
// batched: one query for payouts, one for queues, one for schedules.
func (s *service) EstimateBatchInclusion(ctx context.Context, payoutIDs []uuid.UUID) (map[uuid.UUID]*time.Time, error) {
	estimates := make(map[uuid.UUID]*time.Time, len(payoutIDs))
	payouts, err := s.repo.ListByIDs(ctx, payoutIDs)
	if err != nil {
		return nil, err
	}

	queueIDSet := map[uuid.UUID]struct{}{}
	for _, payout := range payouts {
		estimates[payout.ID] = nil
		if payout.State == enums.PayoutStateQueued {
			queueIDSet[payout.QueueID] = struct{}{}
		}
	}
	queueIDs := make([]uuid.UUID, 0, len(queueIDSet))
	for queueID := range queueIDSet {
		queueIDs = append(queueIDs, queueID)
	}

	queues, err := s.repo.QueuesByIDs(ctx, queueIDs)
	if err != nil {
		return nil, err
	}
	schedules, err := s.repo.SchedulesForQueues(ctx, queueIDs)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, payout := range payouts {
		if payout.State != enums.PayoutStateQueued {
			continue
		}
		if schedule, ok := schedules[payout.QueueID]; ok && schedule.NextRunAt != nil {
			next := *schedule.NextRunAt
			estimates[payout.ID] = &next
			continue
		}
		if queue, ok := queues[payout.QueueID]; ok {
			if interval, ok := queue.TriggerInterval(); ok {
				estimate := now.Add(interval)
				estimates[payout.ID] = &estimate
			}
		}
	}
	return estimates, nil
}
