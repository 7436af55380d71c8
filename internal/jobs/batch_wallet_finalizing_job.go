package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/GaloyMoney/bria-sub001/internal/batch"
	"github.com/GaloyMoney/bria-sub001/internal/signing"
	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	apperrors "github.com/GaloyMoney/bria-sub001/pkg/errors"
	"github.com/GaloyMoney/bria-sub001/pkg/logger"
	"github.com/GaloyMoney/bria-sub001/pkg/psbtutil"
)

// BatchWalletFinalizingJobParams configure the PSBT finalization step.
type BatchWalletFinalizingJobParams struct {
	Logger    *logger.Logger
	BatchRepo batch.Repository
	Sessions  signing.Service
	Runs      Repository
}

// NewBatchWalletFinalizingJob constructs the step that combines the
// per-signer PSBTs into a broadcastable transaction.
func NewBatchWalletFinalizingJob(params BatchWalletFinalizingJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.BatchRepo == nil {
		return nil, fmt.Errorf("batch repository required")
	}
	if params.Sessions == nil {
		return nil, fmt.Errorf("signing service required")
	}
	if params.Runs == nil {
		return nil, fmt.Errorf("job repository required")
	}
	return &batchWalletFinalizingJob{
		logg:      params.Logger,
		batchRepo: params.BatchRepo,
		sessions:  params.Sessions,
		runs:      params.Runs,
	}, nil
}

type batchWalletFinalizingJob struct {
	logg      *logger.Logger
	batchRepo batch.Repository
	sessions  signing.Service
	runs      Repository
}

func (j *batchWalletFinalizingJob) Name() string { return JobBatchWalletFinalizing }

// Execute combines every signed session's PSBT, finalizes the inputs and
// attaches the extracted transaction to the batch. A session that has not
// produced a signature yet makes the step retryable; a failed session
// makes it fail for good.
func (j *batchWalletFinalizingJob) Execute(ctx context.Context, payload json.RawMessage) error {
	var input BatchPayload
	if err := json.Unmarshal(payload, &input); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "decode finalizing payload")
	}

	sessions, err := j.sessions.SessionsForBatch(ctx, input.BatchID)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return apperrors.New(apperrors.CodeInvariantViolation,
			fmt.Sprintf("no signing sessions for batch %s", input.BatchID))
	}

	packets := make([]*psbt.Packet, 0, len(sessions))
	for _, session := range sessions {
		switch session.State {
		case enums.SigningSessionStateFailed:
			return apperrors.New(apperrors.CodeInvariantViolation,
				fmt.Sprintf("signing session %s failed: %s", session.ID, session.FailureReason))
		case enums.SigningSessionStateSigned:
		default:
			return apperrors.New(apperrors.CodeDependency,
				fmt.Sprintf("signing session %s still %s", session.ID, session.State))
		}
		packet, err := psbtutil.Parse(session.SignedPsbt)
		if err != nil {
			return err
		}
		packets = append(packets, packet)
	}

	combined, err := psbtutil.Combine(packets)
	if err != nil {
		return err
	}
	tx, err := psbtutil.Finalize(combined)
	if err != nil {
		return err
	}
	signedTx, err := psbtutil.SerializeTx(tx)
	if err != nil {
		return err
	}

	if err := j.batchRepo.AttachSignedTx(ctx, input.BatchID, signedTx); err != nil {
		return err
	}
	if err := j.runs.Enqueue(ctx, JobBatchFinalizing, BatchPayload{BatchID: input.BatchID}, time.Now().UTC()); err != nil {
		return err
	}

	j.logg.Info(j.logg.WithBatchID(ctx, input.BatchID.String()), "batch transaction finalized")
	return nil
}
