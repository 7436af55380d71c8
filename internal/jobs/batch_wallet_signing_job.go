package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/GaloyMoney/bria-sub001/internal/batch"
	"github.com/GaloyMoney/bria-sub001/internal/signing"
	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	apperrors "github.com/GaloyMoney/bria-sub001/pkg/errors"
	"github.com/GaloyMoney/bria-sub001/pkg/logger"
	"github.com/GaloyMoney/bria-sub001/pkg/signer"
)

// BatchPayload identifies a batch for the whole-batch pipeline steps.
type BatchPayload struct {
	BatchID uuid.UUID `json:"batch_id"`
}

// BatchSigner pairs a signing backend with the fingerprint that keys its
// session.
type BatchSigner struct {
	Fingerprint string
	Client      signer.Client
}

// BatchWalletSigningJobParams configure the signing step.
type BatchWalletSigningJobParams struct {
	Logger    *logger.Logger
	BatchRepo batch.Repository
	Sessions  signing.Service
	Signers   []BatchSigner
	Runs      Repository
}

// NewBatchWalletSigningJob constructs the step that drives every signer's
// session to the signed state and chains the finalizing step.
func NewBatchWalletSigningJob(params BatchWalletSigningJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.BatchRepo == nil {
		return nil, fmt.Errorf("batch repository required")
	}
	if params.Sessions == nil {
		return nil, fmt.Errorf("signing service required")
	}
	if len(params.Signers) == 0 {
		return nil, fmt.Errorf("at least one signer required")
	}
	for _, s := range params.Signers {
		if s.Fingerprint == "" || s.Client == nil {
			return nil, fmt.Errorf("signer fingerprint and client required")
		}
	}
	if params.Runs == nil {
		return nil, fmt.Errorf("job repository required")
	}
	return &batchWalletSigningJob{
		logg:      params.Logger,
		batchRepo: params.BatchRepo,
		sessions:  params.Sessions,
		signers:   params.Signers,
		runs:      params.Runs,
	}, nil
}

type batchWalletSigningJob struct {
	logg      *logger.Logger
	batchRepo batch.Repository
	sessions  signing.Service
	signers   []BatchSigner
	runs      Repository
}

func (j *batchWalletSigningJob) Name() string { return JobBatchWalletSigning }

// Execute initializes a session per signer and advances each one until it
// is signed. Transport failures bubble up retryable so the scheduler
// reruns the step; sessions already signed are skipped on rerun. Terminal
// failures from every signer are aggregated before the step fails.
func (j *batchWalletSigningJob) Execute(ctx context.Context, payload json.RawMessage) error {
	var input BatchPayload
	if err := json.Unmarshal(payload, &input); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "decode signing payload")
	}

	b, err := j.batchRepo.FindByID(ctx, input.BatchID)
	if err != nil {
		return err
	}

	var terminal error
	for _, s := range j.signers {
		if err := j.driveSession(ctx, b.AccountID, b.ID, s, b.UnsignedPsbt); err != nil {
			if apperrors.IsRetryable(err) {
				return err
			}
			terminal = multierr.Append(terminal, err)
		}
	}
	if terminal != nil {
		return terminal
	}

	if err := j.runs.Enqueue(ctx, JobBatchWalletFinalizing, BatchPayload{BatchID: b.ID}, time.Now().UTC()); err != nil {
		return err
	}

	batchCtx := j.logg.WithBatchID(ctx, b.ID.String())
	j.logg.Info(j.logg.WithField(batchCtx, "signer_count", len(j.signers)), "all signing sessions signed")
	return nil
}

func (j *batchWalletSigningJob) driveSession(ctx context.Context, accountID, batchID uuid.UUID, s BatchSigner, unsignedPsbt []byte) error {
	session, err := j.sessions.InitializeForBatch(ctx, accountID, batchID, s.Fingerprint, unsignedPsbt)
	if err != nil {
		return err
	}

	// Two advances at most: unsigned to awaiting_signature, then the
	// signature round trip.
	for attempts := 0; !session.State.IsTerminal() && attempts < 2; attempts++ {
		session, err = j.sessions.Advance(ctx, session.ID, s.Client)
		if err != nil {
			return err
		}
	}
	if session.State == enums.SigningSessionStateFailed {
		return apperrors.New(apperrors.CodeInvariantViolation,
			fmt.Sprintf("signing session %s failed: %s", session.ID, session.FailureReason))
	}
	if session.State != enums.SigningSessionStateSigned {
		return apperrors.New(apperrors.CodeDependency,
			fmt.Sprintf("signing session %s still %s", session.ID, session.State))
	}
	return nil
}
