package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/GaloyMoney/bria-sub001/internal/batch"
	"github.com/GaloyMoney/bria-sub001/internal/ledger"
	"github.com/GaloyMoney/bria-sub001/internal/wallet"
	"github.com/GaloyMoney/bria-sub001/pkg/db"
	"github.com/GaloyMoney/bria-sub001/pkg/db/models"
)

func setupPipelineTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{`
CREATE TABLE IF NOT EXISTS wallets (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  name TEXT NOT NULL,
  journal_id TEXT NOT NULL,
  onchain_settled_account_id TEXT NOT NULL,
  onchain_pending_account_id TEXT NOT NULL,
  fee_account_id TEXT NOT NULL,
  payee_account_id TEXT NOT NULL,
  created_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS batches (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  batch_group_id TEXT NOT NULL,
  bitcoin_tx_id TEXT NOT NULL,
  unsigned_psbt BLOB NOT NULL,
  total_fee_sats INTEGER NOT NULL,
  total_out_sats INTEGER NOT NULL,
  signed_tx BLOB,
  broadcast_at DATETIME,
  created_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS batch_wallet_summaries (
  id TEXT PRIMARY KEY,
  batch_id TEXT NOT NULL,
  wallet_id TEXT NOT NULL,
  total_out_sats INTEGER NOT NULL,
  fee_sats INTEGER NOT NULL,
  payout_count INTEGER NOT NULL,
  pending_ledger_tx_id TEXT NOT NULL,
  created_at DATETIME,
  UNIQUE (batch_id, wallet_id)
);`, `
CREATE TABLE IF NOT EXISTS payouts (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  wallet_id TEXT NOT NULL,
  queue_id TEXT NOT NULL,
  batch_id TEXT,
  destination TEXT NOT NULL,
  satoshi_amount INTEGER NOT NULL,
  external_id TEXT,
  state TEXT NOT NULL DEFAULT 'queued',
  created_at DATETIME,
  updated_at DATETIME,
  committed_at DATETIME,
  settled_at DATETIME,
  cancelled_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS ledger_transactions (
  id TEXT PRIMARY KEY,
  journal_id TEXT NOT NULL,
  type TEXT NOT NULL,
  correlation_id TEXT,
  external_id TEXT NOT NULL UNIQUE,
  metadata TEXT,
  created_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS ledger_entries (
  id TEXT PRIMARY KEY,
  transaction_id TEXT NOT NULL,
  journal_id TEXT NOT NULL,
  account_id TEXT NOT NULL,
  direction TEXT NOT NULL,
  amount_sats INTEGER NOT NULL,
  created_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  sequence INTEGER NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  ledger_event_id TEXT,
  ledger_tx_id TEXT,
  payload TEXT NOT NULL,
  recorded_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  UNIQUE (account_id, sequence)
);`, `
CREATE TABLE IF NOT EXISTS outbox_sequences (
  account_id TEXT PRIMARY KEY,
  last_sequence INTEGER NOT NULL DEFAULT 0
);`, `
CREATE TABLE IF NOT EXISTS job_runs (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  payload TEXT NOT NULL,
  state TEXT NOT NULL DEFAULT 'pending',
  attempts INTEGER NOT NULL DEFAULT 0,
  next_attempt_at DATETIME NOT NULL,
  completed_at DATETIME,
  last_error TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`}
	for _, stmt := range statements {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

func seedWallet(t *testing.T, conn *gorm.DB, accountID uuid.UUID) models.Wallet {
	t.Helper()
	w := models.Wallet{
		ID:                      uuid.New(),
		AccountID:               accountID,
		Name:                    "treasury",
		JournalID:               uuid.New(),
		OnchainSettledAccountID: uuid.New(),
		OnchainPendingAccountID: uuid.New(),
		FeeAccountID:            uuid.New(),
		PayeeAccountID:          uuid.New(),
	}
	require.NoError(t, conn.Create(&w).Error)
	return w
}

func TestBatchWalletAccountingJobPostsOnce(t *testing.T) {
	conn := setupPipelineTestDB(t)
	accountID := uuid.New()
	w := seedWallet(t, conn, accountID)

	batchID := uuid.New()
	summary := models.BatchWalletSummary{
		ID:                uuid.New(),
		BatchID:           batchID,
		WalletID:          w.ID,
		TotalOutSats:      60_000,
		FeeSats:           1_500,
		PayoutCount:       3,
		PendingLedgerTxID: batch.PendingLedgerTxID(batchID, w.ID),
	}
	require.NoError(t, conn.Create(&summary).Error)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)

	job, err := NewBatchWalletAccountingJob(BatchWalletAccountingJobParams{
		Logger:     testLogger(),
		DB:         db.FromConn(conn),
		BatchRepo:  batch.NewRepository(conn),
		WalletRepo: wallet.NewRepository(conn),
		Ledger:     ledgerSvc,
	})
	require.NoError(t, err)

	payload, err := json.Marshal(BatchWalletAccountingPayload{BatchID: batchID, WalletID: w.ID})
	require.NoError(t, err)

	require.NoError(t, job.Execute(context.Background(), payload))
	// A rerun after a crash lands on the ledger's unique external id and
	// succeeds without posting again.
	require.NoError(t, job.Execute(context.Background(), payload))

	var txCount int64
	require.NoError(t, conn.Table("ledger_transactions").
		Where("journal_id = ?", w.JournalID).
		Count(&txCount).Error)
	assert.Equal(t, int64(1), txCount)

	balance, err := ledgerSvc.Balance(context.Background(), w.JournalID, w.OnchainSettledAccountID)
	require.NoError(t, err)
	assert.Equal(t, int64(-61_500), balance.PendingSats)
}

func TestBatchWalletAccountingJobUnknownWallet(t *testing.T) {
	conn := setupPipelineTestDB(t)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)

	job, err := NewBatchWalletAccountingJob(BatchWalletAccountingJobParams{
		Logger:     testLogger(),
		DB:         db.FromConn(conn),
		BatchRepo:  batch.NewRepository(conn),
		WalletRepo: wallet.NewRepository(conn),
		Ledger:     ledgerSvc,
	})
	require.NoError(t, err)

	payload, err := json.Marshal(BatchWalletAccountingPayload{BatchID: uuid.New(), WalletID: uuid.New()})
	require.NoError(t, err)
	require.Error(t, job.Execute(context.Background(), payload))
}
