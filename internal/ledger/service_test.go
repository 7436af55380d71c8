package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/GaloyMoney/bria-sub001/pkg/db/models"
	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	apperrors "github.com/GaloyMoney/bria-sub001/pkg/errors"
)

type fakeRepository struct {
	createFn  func(ctx context.Context, txn *models.LedgerTransaction, entries []models.LedgerEntry) error
	entriesFn func(ctx context.Context, journalID, accountID uuid.UUID) ([]accountEntry, error)
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepository) CreateTransaction(ctx context.Context, txn *models.LedgerTransaction, entries []models.LedgerEntry) error {
	if f.createFn != nil {
		return f.createFn(ctx, txn, entries)
	}
	return nil
}

func (f *fakeRepository) EntriesForAccount(ctx context.Context, journalID, accountID uuid.UUID) ([]accountEntry, error) {
	if f.entriesFn != nil {
		return f.entriesFn(ctx, journalID, accountID)
	}
	return nil, nil
}

func testAccounts() WalletAccounts {
	return WalletAccounts{
		OnchainSettledID: uuid.New(),
		OnchainPendingID: uuid.New(),
		FeeID:            uuid.New(),
		PayeeID:          uuid.New(),
	}
}

func TestCreateBatchPostsBalancedEntries(t *testing.T) {
	repo := &fakeRepository{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	var gotTxn *models.LedgerTransaction
	var gotEntries []models.LedgerEntry
	repo.createFn = func(ctx context.Context, txn *models.LedgerTransaction, entries []models.LedgerEntry) error {
		gotTxn = txn
		gotEntries = entries
		return nil
	}

	accounts := testAccounts()
	err = svc.CreateBatch(context.Background(), nil, CreateBatchInput{
		JournalID:     uuid.New(),
		Accounts:      accounts,
		Satoshis:      60_000,
		FeeSats:       1_500,
		CorrelationID: uuid.New(),
		ExternalID:    "batch:abc",
	})
	if err != nil {
		t.Fatalf("CreateBatch error: %v", err)
	}
	if gotTxn.Type != enums.LedgerTxBatchCreated {
		t.Fatalf("wrong transaction type %q", gotTxn.Type)
	}
	if gotTxn.ExternalID != "batch:abc" {
		t.Fatalf("wrong external id %q", gotTxn.ExternalID)
	}

	var debits, credits int64
	for _, entry := range gotEntries {
		switch entry.Direction {
		case enums.EntryDebit:
			debits += entry.AmountSats
		case enums.EntryCredit:
			credits += entry.AmountSats
		}
	}
	if debits != credits {
		t.Fatalf("unbalanced posting: debits %d credits %d", debits, credits)
	}
	if credits != 61_500 {
		t.Fatalf("expected 61500 sats encumbered, got %d", credits)
	}
}

func TestCreateBatchRejectsMissingExternalID(t *testing.T) {
	svc, err := NewService(&fakeRepository{})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	err = svc.CreateBatch(context.Background(), nil, CreateBatchInput{
		JournalID: uuid.New(),
		Accounts:  testAccounts(),
		Satoshis:  1_000,
	})
	if appErr := apperrors.As(err); appErr == nil || appErr.Code() != apperrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPendingOnchainIncomeRejectsZeroAmount(t *testing.T) {
	svc, err := NewService(&fakeRepository{})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	err = svc.PendingOnchainIncome(context.Background(), nil, PendingOnchainIncomeInput{
		JournalID: uuid.New(),
		Accounts:  testAccounts(),
		PendingID: uuid.New(),
	})
	if appErr := apperrors.As(err); appErr == nil || appErr.Code() != apperrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBalanceDecomposesByTransactionType(t *testing.T) {
	repo := &fakeRepository{
		entriesFn: func(ctx context.Context, journalID, accountID uuid.UUID) ([]accountEntry, error) {
			return []accountEntry{
				{Direction: "debit", AmountSats: 100_000, TxType: "pending_onchain_income"},
				{Direction: "credit", AmountSats: 30_000, TxType: "pending_onchain_income"},
				{Direction: "debit", AmountSats: 50_000, TxType: "batch_settled"},
			}, nil
		},
	}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	balance, err := svc.Balance(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("Balance error: %v", err)
	}
	if balance.PendingSats != 70_000 {
		t.Fatalf("pending sats: got %d want 70000", balance.PendingSats)
	}
	if balance.SettledSats != 50_000 {
		t.Fatalf("settled sats: got %d want 50000", balance.SettledSats)
	}
	if got := balance.Settled.String(); got != "0.0005" {
		t.Fatalf("settled btc: got %s want 0.0005", got)
	}
}
