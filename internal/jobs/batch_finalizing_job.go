package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/GaloyMoney/bria-sub001/internal/batch"
	"github.com/GaloyMoney/bria-sub001/internal/ledger"
	"github.com/GaloyMoney/bria-sub001/internal/payout"
	"github.com/GaloyMoney/bria-sub001/internal/wallet"
	"github.com/GaloyMoney/bria-sub001/pkg/bitcoind"
	"github.com/GaloyMoney/bria-sub001/pkg/db/models"
	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	apperrors "github.com/GaloyMoney/bria-sub001/pkg/errors"
	"github.com/GaloyMoney/bria-sub001/pkg/logger"
	"github.com/GaloyMoney/bria-sub001/pkg/outbox"
	"github.com/GaloyMoney/bria-sub001/pkg/outbox/payloads"
)

// BatchFinalizingJobParams configure the broadcast and settlement step.
type BatchFinalizingJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	BatchRepo   batch.Repository
	WalletRepo  wallet.Repository
	PayoutRepo  payout.Repository
	Ledger      ledger.Service
	Broadcaster bitcoind.Broadcaster
	Outbox      *outbox.Service
}

// NewBatchFinalizingJob constructs the last pipeline step: broadcast the
// signed transaction, settle the ledger and emit the terminal events.
func NewBatchFinalizingJob(params BatchFinalizingJobParams) (Job, error) {
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
	if params.PayoutRepo == nil {
		return nil, fmt.Errorf("payout repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Broadcaster == nil {
		return nil, fmt.Errorf("broadcaster required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	return &batchFinalizingJob{
		logg:        params.Logger,
		db:          params.DB,
		batchRepo:   params.BatchRepo,
		walletRepo:  params.WalletRepo,
		payoutRepo:  params.PayoutRepo,
		ledger:      params.Ledger,
		broadcaster: params.Broadcaster,
		outbox:      params.Outbox,
	}, nil
}

type batchFinalizingJob struct {
	logg        *logger.Logger
	db          txRunner
	batchRepo   batch.Repository
	walletRepo  wallet.Repository
	payoutRepo  payout.Repository
	ledger      ledger.Service
	broadcaster bitcoind.Broadcaster
	outbox      *outbox.Service
}

func (j *batchFinalizingJob) Name() string { return JobBatchFinalizing }

// Execute broadcasts the signed batch transaction, then in one transaction
// marks the batch broadcast, settles every wallet's pending outflow, marks
// the payouts settled and emits the broadcast and settled events. Each
// piece is idempotent so a crashed attempt can be rerun.
func (j *batchFinalizingJob) Execute(ctx context.Context, payload json.RawMessage) error {
	var input BatchPayload
	if err := json.Unmarshal(payload, &input); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "decode finalizing payload")
	}

	b, err := j.batchRepo.FindByID(ctx, input.BatchID)
	if err != nil {
		return err
	}
	if len(b.SignedTx) == 0 {
		return apperrors.New(apperrors.CodeInvariantViolation,
			fmt.Sprintf("batch %s has no signed transaction", b.ID))
	}

	firstBroadcast := b.BroadcastAt == nil
	if firstBroadcast {
		if err := j.broadcast(ctx, b); err != nil {
			return err
		}
	}

	batchCtx := j.logg.WithBatchID(ctx, b.ID.String())
	err = j.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := j.batchRepo.WithTx(tx).MarkBroadcast(ctx, b.ID, time.Now().UTC()); err != nil {
			return err
		}
		if err := j.settleWallets(ctx, tx, b); err != nil {
			return err
		}

		settled, err := j.payoutRepo.WithTx(tx).MarkSettled(ctx, b.ID)
		if err != nil {
			return err
		}
		if firstBroadcast {
			err := j.outbox.Emit(ctx, tx, outbox.DomainEvent{
				AccountID:     b.AccountID,
				EventType:     enums.EventBatchBroadcast,
				AggregateType: enums.AggregateBatch,
				AggregateID:   b.ID,
				Data: payloads.BatchBroadcastEvent{
					BatchID:     b.ID,
					BitcoinTxID: b.BitcoinTxID,
					BroadcastAt: time.Now().UTC(),
				},
			})
			if err != nil {
				return err
			}
		}
		for _, p := range settled {
			err := j.outbox.Emit(ctx, tx, outbox.DomainEvent{
				AccountID:     p.AccountID,
				EventType:     enums.EventPayoutSettled,
				AggregateType: enums.AggregatePayout,
				AggregateID:   p.ID,
				Data: payloads.PayoutSettledEvent{
					PayoutID:    p.ID,
					BatchID:     b.ID,
					BitcoinTxID: b.BitcoinTxID,
				},
			})
			if err != nil {
				return err
			}
		}

		j.logg.Info(j.logg.WithField(batchCtx, "settled_payouts", len(settled)), "batch settled")
		return nil
	})
	return err
}

func (j *batchFinalizingJob) broadcast(ctx context.Context, b *models.Batch) error {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(b.SignedTx)); err != nil {
		return apperrors.Wrap(apperrors.CodeInvariantViolation, err, "decode signed transaction")
	}
	if _, err := j.broadcaster.Broadcast(ctx, &tx); err != nil {
		// A rerun after a crash between broadcast and commit hits the
		// node's duplicate checks; the transaction is already out.
		if strings.Contains(err.Error(), "already in block chain") ||
			strings.Contains(err.Error(), "txn-already-in-mempool") ||
			strings.Contains(err.Error(), "txn-already-known") {
			return nil
		}
		return apperrors.Wrap(apperrors.CodeDependency, err, "broadcast batch transaction")
	}
	return nil
}

// settleWallets posts the batch_settled ledger transaction for every wallet
// summary. External ids derive from the summary's pending ledger tx id, so
// replays land on the unique index and are ignored. Wallets are settled
// independently and their terminal errors aggregated.
func (j *batchFinalizingJob) settleWallets(ctx context.Context, tx *gorm.DB, b *models.Batch) error {
	walletIDs := make([]uuid.UUID, 0, len(b.Summaries))
	for _, summary := range b.Summaries {
		walletIDs = append(walletIDs, summary.WalletID)
	}
	wallets, err := j.walletRepo.WithTx(tx).FindByIDs(ctx, walletIDs)
	if err != nil {
		return err
	}

	var combined error
	for _, summary := range b.Summaries {
		w, ok := wallets[summary.WalletID]
		if !ok {
			return apperrors.New(apperrors.CodeInvariantViolation,
				fmt.Sprintf("wallet %s missing for batch %s", summary.WalletID, b.ID))
		}
		err := j.ledger.SettleBatch(ctx, tx, ledger.SettleBatchInput{
			JournalID: w.JournalID,
			Accounts: ledger.WalletAccounts{
				OnchainSettledID: w.OnchainSettledAccountID,
				OnchainPendingID: w.OnchainPendingAccountID,
				FeeID:            w.FeeAccountID,
				PayeeID:          w.PayeeAccountID,
			},
			Satoshis:      summary.TotalOutSats,
			CorrelationID: b.ID,
			ExternalID:    "settled:" + summary.PendingLedgerTxID.String(),
		})
		if err != nil && !apperrors.IsBenignDuplicate(err) {
			combined = multierr.Append(combined, err)
		}
	}
	return combined
}
