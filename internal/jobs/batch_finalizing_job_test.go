package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GaloyMoney/bria-sub001/internal/batch"
	"github.com/GaloyMoney/bria-sub001/internal/ledger"
	"github.com/GaloyMoney/bria-sub001/internal/payout"
	"github.com/GaloyMoney/bria-sub001/internal/wallet"
	"github.com/GaloyMoney/bria-sub001/pkg/db"
	"github.com/GaloyMoney/bria-sub001/pkg/db/models"
	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	"github.com/GaloyMoney/bria-sub001/pkg/outbox"
)

type recordingBroadcaster struct {
	calls int
}

func (b *recordingBroadcaster) Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	b.calls++
	hash := tx.TxHash()
	return &hash, nil
}

func signedTxBytes(t *testing.T) []byte {
	t.Helper()
	tx := wire.NewMsgTx(2)
	var prevHash chainhash.Hash
	prevHash[0] = 0x42
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(60_000, []byte{0x00, 0x14}))
	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	return buf.Bytes()
}

func TestBatchFinalizingJobBroadcastsAndSettles(t *testing.T) {
	conn := setupPipelineTestDB(t)
	accountID := uuid.New()
	w := seedWallet(t, conn, accountID)

	batchID := uuid.New()
	b := models.Batch{
		ID:           batchID,
		AccountID:    accountID,
		BatchGroupID: uuid.New(),
		BitcoinTxID:  "deadbeef",
		UnsignedPsbt: []byte("psbt"),
		TotalFeeSats: 1_500,
		TotalOutSats: 60_000,
		SignedTx:     signedTxBytes(t),
	}
	require.NoError(t, conn.Create(&b).Error)
	summary := models.BatchWalletSummary{
		ID:                uuid.New(),
		BatchID:           batchID,
		WalletID:          w.ID,
		TotalOutSats:      60_000,
		FeeSats:           1_500,
		PayoutCount:       2,
		PendingLedgerTxID: batch.PendingLedgerTxID(batchID, w.ID),
	}
	require.NoError(t, conn.Create(&summary).Error)

	for i := 0; i < 2; i++ {
		p := models.Payout{
			ID:            uuid.New(),
			AccountID:     accountID,
			WalletID:      w.ID,
			QueueID:       b.BatchGroupID,
			BatchID:       &batchID,
			Destination:   "bcrt1qdest",
			SatoshiAmount: 30_000,
			State:         enums.PayoutStateCommitted,
		}
		require.NoError(t, conn.Create(&p).Error)
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	accounts := ledger.WalletAccounts{
		OnchainSettledID: w.OnchainSettledAccountID,
		OnchainPendingID: w.OnchainPendingAccountID,
		FeeID:            w.FeeAccountID,
		PayeeID:          w.PayeeAccountID,
	}
	// The accounting step has already posted the batch encumbrance.
	require.NoError(t, ledgerSvc.CreateBatch(context.Background(), nil, ledger.CreateBatchInput{
		JournalID:     w.JournalID,
		Accounts:      accounts,
		Satoshis:      60_000,
		FeeSats:       1_500,
		CorrelationID: batchID,
		ExternalID:    summary.PendingLedgerTxID.String(),
	}))

	broadcaster := &recordingBroadcaster{}

	job, err := NewBatchFinalizingJob(BatchFinalizingJobParams{
		Logger:      testLogger(),
		DB:          db.FromConn(conn),
		BatchRepo:   batch.NewRepository(conn),
		WalletRepo:  wallet.NewRepository(conn),
		PayoutRepo:  payout.NewRepository(conn),
		Ledger:      ledgerSvc,
		Broadcaster: broadcaster,
		Outbox:      outbox.NewService(outbox.NewRepository(conn), nil),
	})
	require.NoError(t, err)

	payload, err := json.Marshal(BatchPayload{BatchID: batchID})
	require.NoError(t, err)
	require.NoError(t, job.Execute(context.Background(), payload))

	assert.Equal(t, 1, broadcaster.calls)

	var reloaded models.Batch
	require.NoError(t, conn.First(&reloaded, "id = ?", batchID).Error)
	assert.NotNil(t, reloaded.BroadcastAt)

	var settledCount int64
	require.NoError(t, conn.Table("payouts").
		Where("batch_id = ? AND state = ?", batchID, enums.PayoutStateSettled).
		Count(&settledCount).Error)
	assert.Equal(t, int64(2), settledCount)

	// Settlement releases the wallet's encumbrance: the pending account
	// nets to zero across the two categories.
	balance, err := ledgerSvc.Balance(context.Background(), w.JournalID, w.OnchainPendingAccountID)
	require.NoError(t, err)
	assert.Equal(t, int64(60_000), balance.PendingSats)
	assert.Equal(t, int64(-60_000), balance.SettledSats)

	var eventTypes []string
	require.NoError(t, conn.Table("outbox_events").
		Where("account_id = ?", accountID).
		Order("sequence ASC").
		Pluck("event_type", &eventTypes).Error)
	require.Len(t, eventTypes, 3)
	assert.Equal(t, string(enums.EventBatchBroadcast), eventTypes[0])
	assert.Equal(t, string(enums.EventPayoutSettled), eventTypes[1])
	assert.Equal(t, string(enums.EventPayoutSettled), eventTypes[2])
}

func TestBatchFinalizingJobRerunIsIdempotent(t *testing.T) {
	conn := setupPipelineTestDB(t)
	accountID := uuid.New()
	w := seedWallet(t, conn, accountID)

	batchID := uuid.New()
	b := models.Batch{
		ID:           batchID,
		AccountID:    accountID,
		BatchGroupID: uuid.New(),
		BitcoinTxID:  "deadbeef",
		UnsignedPsbt: []byte("psbt"),
		TotalFeeSats: 500,
		TotalOutSats: 10_000,
		SignedTx:     signedTxBytes(t),
	}
	require.NoError(t, conn.Create(&b).Error)
	summary := models.BatchWalletSummary{
		ID:                uuid.New(),
		BatchID:           batchID,
		WalletID:          w.ID,
		TotalOutSats:      10_000,
		FeeSats:           500,
		PayoutCount:       1,
		PendingLedgerTxID: batch.PendingLedgerTxID(batchID, w.ID),
	}
	require.NoError(t, conn.Create(&summary).Error)
	p := models.Payout{
		ID:            uuid.New(),
		AccountID:     accountID,
		WalletID:      w.ID,
		QueueID:       b.BatchGroupID,
		BatchID:       &batchID,
		Destination:   "bcrt1qdest",
		SatoshiAmount: 10_000,
		State:         enums.PayoutStateCommitted,
	}
	require.NoError(t, conn.Create(&p).Error)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	broadcaster := &recordingBroadcaster{}

	job, err := NewBatchFinalizingJob(BatchFinalizingJobParams{
		Logger:      testLogger(),
		DB:          db.FromConn(conn),
		BatchRepo:   batch.NewRepository(conn),
		WalletRepo:  wallet.NewRepository(conn),
		PayoutRepo:  payout.NewRepository(conn),
		Ledger:      ledgerSvc,
		Broadcaster: broadcaster,
		Outbox:      outbox.NewService(outbox.NewRepository(conn), nil),
	})
	require.NoError(t, err)

	payload, err := json.Marshal(BatchPayload{BatchID: batchID})
	require.NoError(t, err)
	require.NoError(t, job.Execute(context.Background(), payload))
	require.NoError(t, job.Execute(context.Background(), payload))

	// One broadcast, one settle posting, no duplicated events.
	assert.Equal(t, 1, broadcaster.calls)

	var txCount int64
	require.NoError(t, conn.Table("ledger_transactions").
		Where("journal_id = ?", w.JournalID).
		Count(&txCount).Error)
	assert.Equal(t, int64(1), txCount)

	var eventCount int64
	require.NoError(t, conn.Table("outbox_events").
		Where("account_id = ?", accountID).
		Count(&eventCount).Error)
	assert.Equal(t, int64(2), eventCount)
}
