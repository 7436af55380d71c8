// Package ledger is the double-entry posting engine. Every economic effect
// in the system lands here exactly once; the ledger is the single source of
// truth for whether a given effect has already happened.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/GaloyMoney/bria-sub001/pkg/db"
	"github.com/GaloyMoney/bria-sub001/pkg/db/models"
	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	apperrors "github.com/GaloyMoney/bria-sub001/pkg/errors"
)

const satsPerBTC = 100_000_000

// WalletAccounts carries the ledger account ids a wallet's journal owns.
type WalletAccounts struct {
	OnchainSettledID uuid.UUID
	OnchainPendingID uuid.UUID
	FeeID            uuid.UUID
	PayeeID          uuid.UUID
}

// PendingOnchainIncomeInput records a provisional credit for a detected
// incoming UTXO. PendingID is the idempotency key.
type PendingOnchainIncomeInput struct {
	JournalID uuid.UUID
	Accounts  WalletAccounts
	PendingID uuid.UUID
	Satoshis  int64
	Meta      json.RawMessage
}

// CreateBatchInput posts a batch's outgoing total and fee for one wallet.
// ExternalID is the idempotency key.
type CreateBatchInput struct {
	JournalID     uuid.UUID
	Accounts      WalletAccounts
	Satoshis      int64
	FeeSats       int64
	CorrelationID uuid.UUID
	ExternalID    string
	Meta          json.RawMessage
}

// SettleBatchInput moves a broadcast batch's pending outflow to final form.
type SettleBatchInput struct {
	JournalID     uuid.UUID
	Accounts      WalletAccounts
	Satoshis      int64
	CorrelationID uuid.UUID
	ExternalID    string
	Meta          json.RawMessage
}

// Balance decomposes one ledger account's position. Pending reflects
// postings not yet superseded by a settling transaction, Settled only
// confirmed ones.
type Balance struct {
	SettledSats int64
	PendingSats int64
	Settled     decimal.Decimal
	Pending     decimal.Decimal
}

// Service defines the posting operations. Mutating calls are idempotent per
// their logical key because job execution is at-least-once.
type Service interface {
	PendingOnchainIncome(ctx context.Context, tx *gorm.DB, input PendingOnchainIncomeInput) error
	CreateBatch(ctx context.Context, tx *gorm.DB, input CreateBatchInput) error
	SettleBatch(ctx context.Context, tx *gorm.DB, input SettleBatchInput) error
	Balance(ctx context.Context, journalID, accountID uuid.UUID) (*Balance, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

// PendingOnchainIncome debits the wallet's pending account and credits the
// payee account. A replay with the same pending id returns the benign
// duplicate signal for the caller to swallow.
func (s *service) PendingOnchainIncome(ctx context.Context, tx *gorm.DB, input PendingOnchainIncomeInput) error {
	if input.Satoshis <= 0 {
		return apperrors.New(apperrors.CodeValidation, "satoshi amount must be positive")
	}
	externalID := fmt.Sprintf("pending_income:%s", input.PendingID)
	correlationID := input.PendingID
	txn := &models.LedgerTransaction{
		JournalID:     input.JournalID,
		Type:          enums.LedgerTxPendingOnchainIncome,
		CorrelationID: &correlationID,
		ExternalID:    externalID,
		Metadata:      input.Meta,
	}
	entries := []models.LedgerEntry{
		{AccountID: input.Accounts.OnchainPendingID, Direction: enums.EntryDebit, AmountSats: input.Satoshis},
		{AccountID: input.Accounts.PayeeID, Direction: enums.EntryCredit, AmountSats: input.Satoshis},
	}
	err := s.repo.WithTx(tx).CreateTransaction(ctx, txn, entries)
	if dbpkg.IsUniqueViolation(err, "ux_ledger_transactions_external_id") {
		return apperrors.New(apperrors.CodeDuplicateIgnored, "pending income already recorded")
	}
	return err
}

// CreateBatch encumbers the wallet's settled balance with the batch's
// outgoing total plus fee. A replay with the same external id returns the
// benign duplicate signal for the caller to swallow.
func (s *service) CreateBatch(ctx context.Context, tx *gorm.DB, input CreateBatchInput) error {
	if input.ExternalID == "" {
		return apperrors.New(apperrors.CodeValidation, "external id required")
	}
	if input.Satoshis <= 0 {
		return apperrors.New(apperrors.CodeValidation, "satoshi amount must be positive")
	}
	if input.FeeSats < 0 {
		return apperrors.New(apperrors.CodeValidation, "fee must not be negative")
	}
	correlationID := input.CorrelationID
	txn := &models.LedgerTransaction{
		JournalID:     input.JournalID,
		Type:          enums.LedgerTxBatchCreated,
		CorrelationID: &correlationID,
		ExternalID:    input.ExternalID,
		Metadata:      input.Meta,
	}
	entries := []models.LedgerEntry{
		{AccountID: input.Accounts.OnchainSettledID, Direction: enums.EntryCredit, AmountSats: input.Satoshis + input.FeeSats},
		{AccountID: input.Accounts.OnchainPendingID, Direction: enums.EntryDebit, AmountSats: input.Satoshis},
		{AccountID: input.Accounts.FeeID, Direction: enums.EntryDebit, AmountSats: input.FeeSats},
	}
	err := s.repo.WithTx(tx).CreateTransaction(ctx, txn, entries)
	if dbpkg.IsUniqueViolation(err, "ux_ledger_transactions_external_id") {
		return apperrors.New(apperrors.CodeDuplicateIgnored, "batch posting already applied")
	}
	return err
}

// SettleBatch releases the pending outflow once the transaction is on chain.
func (s *service) SettleBatch(ctx context.Context, tx *gorm.DB, input SettleBatchInput) error {
	if input.ExternalID == "" {
		return apperrors.New(apperrors.CodeValidation, "external id required")
	}
	correlationID := input.CorrelationID
	txn := &models.LedgerTransaction{
		JournalID:     input.JournalID,
		Type:          enums.LedgerTxBatchSettled,
		CorrelationID: &correlationID,
		ExternalID:    input.ExternalID,
		Metadata:      input.Meta,
	}
	entries := []models.LedgerEntry{
		{AccountID: input.Accounts.OnchainPendingID, Direction: enums.EntryCredit, AmountSats: input.Satoshis},
		{AccountID: input.Accounts.PayeeID, Direction: enums.EntryDebit, AmountSats: input.Satoshis},
	}
	err := s.repo.WithTx(tx).CreateTransaction(ctx, txn, entries)
	if dbpkg.IsUniqueViolation(err, "ux_ledger_transactions_external_id") {
		return apperrors.New(apperrors.CodeDuplicateIgnored, "settlement already applied")
	}
	return err
}

// Balance sums the account's entries, debit positive, split by whether the
// originating transaction type is pending or settling.
func (s *service) Balance(ctx context.Context, journalID, accountID uuid.UUID) (*Balance, error) {
	rows, err := s.repo.EntriesForAccount(ctx, journalID, accountID)
	if err != nil {
		return nil, err
	}
	var balance Balance
	for _, row := range rows {
		amount := row.AmountSats
		if enums.EntryDirection(row.Direction) == enums.EntryCredit {
			amount = -amount
		}
		if enums.LedgerTransactionType(row.TxType).IsPending() {
			balance.PendingSats += amount
		} else {
			balance.SettledSats += amount
		}
	}
	balance.Settled = decimal.NewFromInt(balance.SettledSats).Div(decimal.NewFromInt(satsPerBTC))
	balance.Pending = decimal.NewFromInt(balance.PendingSats).Div(decimal.NewFromInt(satsPerBTC))
	return &balance, nil
}
