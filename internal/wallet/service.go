package wallet

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/GaloyMoney/bria-sub001/internal/ledger"
	"github.com/GaloyMoney/bria-sub001/pkg/db"
	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	apperrors "github.com/GaloyMoney/bria-sub001/pkg/errors"
	"github.com/GaloyMoney/bria-sub001/pkg/outbox"
	"github.com/GaloyMoney/bria-sub001/pkg/outbox/payloads"
)

var validate = validator.New()

// pendingIncomeNamespace seeds the deterministic per-(wallet, outpoint)
// ledger transaction id for detected income.
var pendingIncomeNamespace = uuid.MustParse("b4c7a6d1-52e9-4f0b-8a3d-91c5e7f20d18")

// PendingIncomeID derives the idempotent ledger transaction id for one
// detected outpoint on one wallet.
func PendingIncomeID(walletID uuid.UUID, outpoint string) uuid.UUID {
	return uuid.NewSHA1(pendingIncomeNamespace, []byte(walletID.String()+"|"+outpoint))
}

// IncomingUtxoInput reports an observed funding output for a wallet.
type IncomingUtxoInput struct {
	WalletID uuid.UUID `validate:"required"`
	Outpoint string    `validate:"required"`
	Satoshis int64     `validate:"required,gt=0"`
}

// Service exposes the wallet-level operations built on top of the lookups.
type Service interface {
	RegisterIncomingUtxo(ctx context.Context, input IncomingUtxoInput) error
}

type service struct {
	client *db.Client
	repo   Repository
	ledger ledger.Service
	events *outbox.Service
}

func NewService(client *db.Client, repo Repository, ledgerSvc ledger.Service, events *outbox.Service) (Service, error) {
	if client == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "db client required")
	}
	if repo == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "wallet repository required")
	}
	if ledgerSvc == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "ledger service required")
	}
	if events == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "outbox service required")
	}
	return &service{client: client, repo: repo, ledger: ledgerSvc, events: events}, nil
}

// RegisterIncomingUtxo posts the provisional ledger credit for a detected
// outpoint and emits the utxo_detected event in the same transaction. The
// ledger transaction id derives from the (wallet, outpoint) pair, so a
// re-detected outpoint posts nothing and emits nothing.
func (s *service) RegisterIncomingUtxo(ctx context.Context, input IncomingUtxoInput) error {
	if err := validate.Struct(input); err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, err, "invalid incoming utxo")
	}

	w, err := s.repo.FindByID(ctx, input.WalletID)
	if err != nil {
		return err
	}

	return s.client.WithTx(ctx, func(tx *gorm.DB) error {
		err := s.ledger.PendingOnchainIncome(ctx, tx, ledger.PendingOnchainIncomeInput{
			JournalID: w.JournalID,
			Accounts: ledger.WalletAccounts{
				OnchainSettledID: w.OnchainSettledAccountID,
				OnchainPendingID: w.OnchainPendingAccountID,
				FeeID:            w.FeeAccountID,
				PayeeID:          w.PayeeAccountID,
			},
			PendingID: PendingIncomeID(w.ID, input.Outpoint),
			Satoshis:  input.Satoshis,
		})
		if apperrors.IsBenignDuplicate(err) {
			return nil
		}
		if err != nil {
			return err
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			AccountID:     w.AccountID,
			EventType:     enums.EventUtxoDetected,
			AggregateType: enums.AggregateWallet,
			AggregateID:   w.ID,
			Data: payloads.UtxoDetectedEvent{
				WalletID: w.ID,
				Outpoint: input.Outpoint,
				Satoshis: input.Satoshis,
			},
		})
	})
}
