package enums

import "fmt"

// LedgerTransactionType maps to the ledger_tx_type_enum enum in Postgres.
type LedgerTransactionType string

const (
	LedgerTxPendingOnchainIncome LedgerTransactionType = "pending_onchain_income"
	LedgerTxBatchCreated         LedgerTransactionType = "batch_created"
	LedgerTxBatchSettled         LedgerTransactionType = "batch_settled"
)

var validLedgerTransactionTypes = []LedgerTransactionType{
	LedgerTxPendingOnchainIncome,
	LedgerTxBatchCreated,
	LedgerTxBatchSettled,
}

// IsValid reports whether the value matches the canonical ledger tx enum.
func (t LedgerTransactionType) IsValid() bool {
	for _, candidate := range validLedgerTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLedgerTransactionType converts raw input into LedgerTransactionType.
func ParseLedgerTransactionType(value string) (LedgerTransactionType, error) {
	for _, candidate := range validLedgerTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger transaction type %q", value)
}

// EntryDirection is the double-entry side of a ledger entry.
type EntryDirection string

const (
	EntryDebit  EntryDirection = "debit"
	EntryCredit EntryDirection = "credit"
)

// IsValid reports whether the direction is debit or credit.
func (d EntryDirection) IsValid() bool {
	return d == EntryDebit || d == EntryCredit
}

// LedgerAccountKind distinguishes the accounts a wallet journal owns.
type LedgerAccountKind string

const (
	AccountKindOnchainSettled LedgerAccountKind = "onchain_settled"
	AccountKindOnchainPending LedgerAccountKind = "onchain_pending"
	AccountKindFee            LedgerAccountKind = "fee"
	AccountKindPayee          LedgerAccountKind = "payee"
)

var validLedgerAccountKinds = []LedgerAccountKind{
	AccountKindOnchainSettled,
	AccountKindOnchainPending,
	AccountKindFee,
	AccountKindPayee,
}

// IsValid reports whether the value matches the canonical account kind enum.
func (k LedgerAccountKind) IsValid() bool {
	for _, candidate := range validLedgerAccountKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// IsPending reports whether balances produced by this transaction type count
// toward the pending component until a settling transaction supersedes them.
func (t LedgerTransactionType) IsPending() bool {
	return t == LedgerTxPendingOnchainIncome || t == LedgerTxBatchCreated
}
