package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/GaloyMoney/bria-sub001/internal/batch"
	apperrors "github.com/GaloyMoney/bria-sub001/pkg/errors"
	"github.com/GaloyMoney/bria-sub001/pkg/logger"
)

// ProcessBatchGroupPayload identifies the queue to drain.
type ProcessBatchGroupPayload struct {
	QueueID uuid.UUID `json:"queue_id"`
}

// ProcessBatchGroupJobParams configure the batch formation step.
type ProcessBatchGroupJobParams struct {
	Logger    *logger.Logger
	Batches   batch.Service
	BatchRepo batch.Repository
	Runs      Repository
}

// NewProcessBatchGroupJob constructs the first pipeline step. It forms a
// batch from the queue's unbatched payouts and chains the per-wallet
// accounting and signing steps.
func NewProcessBatchGroupJob(params ProcessBatchGroupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Batches == nil {
		return nil, fmt.Errorf("batch service required")
	}
	if params.BatchRepo == nil {
		return nil, fmt.Errorf("batch repository required")
	}
	if params.Runs == nil {
		return nil, fmt.Errorf("job repository required")
	}
	return &processBatchGroupJob{
		logg:      params.Logger,
		batches:   params.Batches,
		batchRepo: params.BatchRepo,
		runs:      params.Runs,
	}, nil
}

type processBatchGroupJob struct {
	logg      *logger.Logger
	batches   batch.Service
	batchRepo batch.Repository
	runs      Repository
}

func (j *processBatchGroupJob) Name() string { return JobProcessBatchGroup }

func (j *processBatchGroupJob) Execute(ctx context.Context, payload json.RawMessage) error {
	var input ProcessBatchGroupPayload
	if err := json.Unmarshal(payload, &input); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "decode batch group payload")
	}

	formed, err := j.batches.FormForQueue(ctx, input.QueueID)
	if err != nil {
		return err
	}
	if formed == nil {
		j.logg.Debug(j.logg.WithField(ctx, "queue_id", input.QueueID.String()), "no unbatched payouts; nothing to form")
		return nil
	}

	// Reload for the wallet summaries fixed at creation.
	created, err := j.batchRepo.FindByID(ctx, formed.ID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, summary := range created.Summaries {
		accounting := BatchWalletAccountingPayload{BatchID: created.ID, WalletID: summary.WalletID}
		if err := j.runs.Enqueue(ctx, JobBatchWalletAccounting, accounting, now); err != nil {
			return err
		}
	}
	if err := j.runs.Enqueue(ctx, JobBatchWalletSigning, BatchPayload{BatchID: created.ID}, now); err != nil {
		return err
	}

	batchCtx := j.logg.WithBatchID(ctx, created.ID.String())
	batchCtx = j.logg.WithFields(batchCtx, map[string]any{
		"queue_id":       input.QueueID.String(),
		"wallet_count":   len(created.Summaries),
		"total_out_sats": created.TotalOutSats,
		"total_fee_sats": created.TotalFeeSats,
	})
	j.logg.Info(batchCtx, "batch formed")
	return nil
}
