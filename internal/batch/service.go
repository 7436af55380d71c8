// Package batch turns a queue's unbatched payouts into one on-chain
// transaction with per-wallet accounting summaries.
package batch

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/GaloyMoney/bria-sub001/internal/payout"
	"github.com/GaloyMoney/bria-sub001/pkg/db"
	"github.com/GaloyMoney/bria-sub001/pkg/db/models"
	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	apperrors "github.com/GaloyMoney/bria-sub001/pkg/errors"
	"github.com/GaloyMoney/bria-sub001/pkg/feerate"
	"github.com/GaloyMoney/bria-sub001/pkg/outbox"
	"github.com/GaloyMoney/bria-sub001/pkg/outbox/payloads"
	"github.com/GaloyMoney/bria-sub001/pkg/psbtutil"
)

// pendingLedgerTxNamespace seeds the deterministic per-(batch, wallet)
// ledger transaction ids, so a retried accounting step reuses the same
// idempotency key.
var pendingLedgerTxNamespace = uuid.MustParse("7d9bb1f6-3a84-49c3-9b4f-2e1d6a2f8c55")

// PendingLedgerTxID derives the idempotent ledger transaction id for one
// wallet's slice of one batch.
func PendingLedgerTxID(batchID, walletID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(pendingLedgerTxNamespace, []byte(batchID.String()+"|"+walletID.String()))
}

// Funder builds and funds the unsigned PSBT paying the batch's
// destinations. Coin selection lives behind this boundary.
type Funder interface {
	FundPsbt(ctx context.Context, outputs map[string]int64, satsPerVByte uint64) (*FundedPsbt, error)
}

// FundedPsbt mirrors pkg/bitcoind's result so tests can fake the funder
// without an rpc connection.
type FundedPsbt struct {
	Psbt    []byte
	FeeSats int64
}

// Service forms batches.
type Service interface {
	FormForQueue(ctx context.Context, queueID uuid.UUID) (*models.Batch, error)
}

type service struct {
	client     *db.Client
	repo       Repository
	payoutRepo payout.Repository
	funder     Funder
	fees       feerate.Estimator
	events     *outbox.Service
}

func NewService(
	client *db.Client,
	repo Repository,
	payoutRepo payout.Repository,
	funder Funder,
	fees feerate.Estimator,
	events *outbox.Service,
) (Service, error) {
	if client == nil || repo == nil || payoutRepo == nil || funder == nil || fees == nil || events == nil {
		return nil, fmt.Errorf("batch service missing dependency")
	}
	return &service{
		client:     client,
		repo:       repo,
		payoutRepo: payoutRepo,
		funder:     funder,
		fees:       fees,
		events:     events,
	}, nil
}

// FormForQueue claims every unbatched payout on the queue into a new batch.
// The read-then-claim runs as one serializable transaction: a concurrent
// formation attempt on the same queue aborts with a serialization conflict
// and the scheduler retries it, at which point it sees an empty queue.
// An empty queue forms no batch and is not an error.
func (s *service) FormForQueue(ctx context.Context, queueID uuid.UUID) (*models.Batch, error) {
	rate, err := s.fees.SatsPerVByte(ctx, feerate.PriorityHalfHour)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "estimating fee rate")
	}

	var formed *models.Batch
	err = s.client.WithSerializableTx(ctx, func(tx *gorm.DB) error {
		payouts, err := s.payoutRepo.WithTx(tx).ListUnbatched(ctx, queueID)
		if err != nil {
			return err
		}
		if len(payouts) == 0 {
			return nil
		}

		queue, err := s.payoutRepo.WithTx(tx).QueueByID(ctx, queueID)
		if err != nil {
			return err
		}

		outputs := make(map[string]int64, len(payouts))
		for _, p := range payouts {
			outputs[p.Destination] += p.SatoshiAmount
		}
		funded, err := s.funder.FundPsbt(ctx, outputs, rate)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeDependency, err, "funding batch psbt")
		}
		packet, err := psbtutil.Parse(funded.Psbt)
		if err != nil {
			return err
		}

		batch := &models.Batch{
			ID:           uuid.New(),
			AccountID:    queue.AccountID,
			BatchGroupID: queueID,
			BitcoinTxID:  psbtutil.TxID(packet),
			UnsignedPsbt: funded.Psbt,
			TotalFeeSats: funded.FeeSats,
		}

		summaries, payoutIDs := buildWalletSummaries(batch.ID, payouts, funded.FeeSats)
		for _, summary := range summaries {
			batch.TotalOutSats += summary.TotalOutSats
		}

		if err := s.repo.WithTx(tx).Create(ctx, batch, summaries); err != nil {
			return err
		}
		if err := s.payoutRepo.WithTx(tx).MarkCommitted(ctx, payoutIDs, batch.ID); err != nil {
			return err
		}

		if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
			AccountID:     queue.AccountID,
			EventType:     enums.EventBatchCreated,
			AggregateType: enums.AggregateBatch,
			AggregateID:   batch.ID,
			Data: payloads.BatchCreatedEvent{
				BatchID:      batch.ID,
				QueueID:      queueID,
				PayoutCount:  len(payouts),
				TotalOutSats: batch.TotalOutSats,
				FeeSats:      batch.TotalFeeSats,
			},
		}); err != nil {
			return err
		}
		for _, p := range payouts {
			if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
				AccountID:     queue.AccountID,
				EventType:     enums.EventPayoutCommitted,
				AggregateType: enums.AggregatePayout,
				AggregateID:   p.ID,
				Data: payloads.PayoutCommittedEvent{
					PayoutID: p.ID,
					BatchID:  batch.ID,
					WalletID: p.WalletID,
					Satoshis: p.SatoshiAmount,
				},
			}); err != nil {
				return err
			}
		}

		formed = batch
		return nil
	})
	if err != nil {
		if db.IsSerializationFailure(err) {
			return nil, apperrors.Wrap(apperrors.CodeSerializationConflict, err, "concurrent batch formation on queue")
		}
		return nil, err
	}
	return formed, nil
}

// buildWalletSummaries partitions payouts by wallet and allocates the total
// fee proportionally to each wallet's outgoing total, with the rounding
// remainder charged to the largest wallet.
func buildWalletSummaries(batchID uuid.UUID, payouts []models.Payout, totalFeeSats int64) ([]models.BatchWalletSummary, []uuid.UUID) {
	totals := map[uuid.UUID]int64{}
	counts := map[uuid.UUID]int{}
	payoutIDs := make([]uuid.UUID, 0, len(payouts))
	var totalOut int64
	for _, p := range payouts {
		totals[p.WalletID] += p.SatoshiAmount
		counts[p.WalletID]++
		payoutIDs = append(payoutIDs, p.ID)
		totalOut += p.SatoshiAmount
	}

	walletIDs := make([]uuid.UUID, 0, len(totals))
	for walletID := range totals {
		walletIDs = append(walletIDs, walletID)
	}
	sort.Slice(walletIDs, func(i, j int) bool {
		if totals[walletIDs[i]] != totals[walletIDs[j]] {
			return totals[walletIDs[i]] > totals[walletIDs[j]]
		}
		return walletIDs[i].String() < walletIDs[j].String()
	})

	summaries := make([]models.BatchWalletSummary, 0, len(walletIDs))
	var feeAllocated int64
	for _, walletID := range walletIDs {
		feeShare := int64(0)
		if totalOut > 0 {
			feeShare = totalFeeSats * totals[walletID] / totalOut
		}
		summaries = append(summaries, models.BatchWalletSummary{
			BatchID:           batchID,
			WalletID:          walletID,
			TotalOutSats:      totals[walletID],
			FeeSats:           feeShare,
			PayoutCount:       counts[walletID],
			PendingLedgerTxID: PendingLedgerTxID(batchID, walletID),
		})
		feeAllocated += feeShare
	}
	if len(summaries) > 0 {
		summaries[0].FeeSats += totalFeeSats - feeAllocated
	}
	return summaries, payoutIDs
}
