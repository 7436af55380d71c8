package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/GaloyMoney/bria-sub001/internal/batch"
	"github.com/GaloyMoney/bria-sub001/internal/ledger"
	"github.com/GaloyMoney/bria-sub001/internal/wallet"
	apperrors "github.com/GaloyMoney/bria-sub001/pkg/errors"
	"github.com/GaloyMoney/bria-sub001/pkg/logger"
)

// BatchWalletAccountingPayload identifies one wallet's slice of a batch.
type BatchWalletAccountingPayload struct {
	BatchID  uuid.UUID `json:"batch_id"`
	WalletID uuid.UUID `json:"wallet_id"`
}

// txRunner is the slice of db.Client the accounting and finalizing steps use.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// BatchWalletAccountingJobParams configure the ledger posting step.
type BatchWalletAccountingJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	BatchRepo  batch.Repository
	WalletRepo wallet.Repository
	Ledger     ledger.Service
}

// NewBatchWalletAccountingJob constructs the step that posts a wallet's
// pending outflow for a created batch.
func NewBatchWalletAccountingJob(params BatchWalletAccountingJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.BatchRepo == nil {
		return nil, fmt.Errorf("batch repository required")
	}
	if params.WalletRepo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	return &batchWalletAccountingJob{
		logg:       params.Logger,
		db:         params.DB,
		batchRepo:  params.BatchRepo,
		walletRepo: params.WalletRepo,
		ledger:     params.Ledger,
	}, nil
}

type batchWalletAccountingJob struct {
	logg       *logger.Logger
	db         txRunner
	batchRepo  batch.Repository
	walletRepo wallet.Repository
	ledger     ledger.Service
}

func (j *batchWalletAccountingJob) Name() string { return JobBatchWalletAccounting }

// Execute posts the batch_created ledger transaction for one wallet. The
// external id is derived from (batch, wallet), so a rerun after a crash
// lands on the unique index and is treated as success.
func (j *batchWalletAccountingJob) Execute(ctx context.Context, payload json.RawMessage) error {
	var input BatchWalletAccountingPayload
	if err := json.Unmarshal(payload, &input); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "decode accounting payload")
	}

	summary, err := j.batchRepo.SummaryFor(ctx, input.BatchID, input.WalletID)
	if err != nil {
		return err
	}
	w, err := j.walletRepo.FindByID(ctx, input.WalletID)
	if err != nil {
		return err
	}

	err = j.db.WithTx(ctx, func(tx *gorm.DB) error {
		return j.ledger.CreateBatch(ctx, tx, ledger.CreateBatchInput{
			JournalID: w.JournalID,
			Accounts: ledger.WalletAccounts{
				OnchainSettledID: w.OnchainSettledAccountID,
				OnchainPendingID: w.OnchainPendingAccountID,
				FeeID:            w.FeeAccountID,
				PayeeID:          w.PayeeAccountID,
			},
			Satoshis:      summary.TotalOutSats,
			FeeSats:       summary.FeeSats,
			CorrelationID: input.BatchID,
			ExternalID:    summary.PendingLedgerTxID.String(),
		})
	})
	if err != nil {
		if apperrors.IsBenignDuplicate(err) {
			j.logg.Debug(j.logg.WithBatchID(ctx, input.BatchID.String()), "batch accounting already posted")
			return nil
		}
		return err
	}

	walletCtx := j.logg.WithBatchID(ctx, input.BatchID.String())
	walletCtx = j.logg.WithWalletID(walletCtx, input.WalletID.String())
	j.logg.Info(walletCtx, "batch accounting posted")
	return nil
}
