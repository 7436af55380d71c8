package signing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/GaloyMoney/bria-sub001/pkg/db/models"
	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	apperrors "github.com/GaloyMoney/bria-sub001/pkg/errors"
	"github.com/GaloyMoney/bria-sub001/pkg/logger"
	"github.com/GaloyMoney/bria-sub001/pkg/psbtutil"
	"github.com/GaloyMoney/bria-sub001/pkg/signer"
)

var (
	// ErrUnsignedTxnMismatch rejects a returned PSBT whose unsigned
	// transaction differs from the one sent out. The event is refused and
	// the session is left unchanged.
	ErrUnsignedTxnMismatch = errors.New("returned psbt does not match session transaction")

	// ErrPsbtDoesNotHaveValidSignatures rejects a returned PSBT that
	// carries no verifiable signature for the session's signer.
	ErrPsbtDoesNotHaveValidSignatures = errors.New("psbt does not have valid signatures")
)

// Service drives signing sessions through their lifecycle.
type Service interface {
	InitializeForBatch(ctx context.Context, accountID, batchID uuid.UUID, signerFingerprint string, unsignedPsbt []byte) (*Session, error)
	Load(ctx context.Context, sessionID uuid.UUID) (*Session, error)
	SessionsForBatch(ctx context.Context, batchID uuid.UUID) ([]*Session, error)
	Advance(ctx context.Context, sessionID uuid.UUID, client signer.Client) (*Session, error)
}

type service struct {
	repo Repository
	logg *logger.Logger
}

func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("signing repository required")
	}
	return &service{repo: repo, logg: logg}, nil
}

// InitializeForBatch creates the session and its initialized event, or
// resumes the existing session when one already exists for the pair.
func (s *service) InitializeForBatch(ctx context.Context, accountID, batchID uuid.UUID, signerFingerprint string, unsignedPsbt []byte) (*Session, error) {
	packet, err := psbtutil.Parse(unsignedPsbt)
	if err != nil {
		return nil, err
	}
	fingerprint, err := psbtutil.UnsignedTxFingerprint(packet)
	if err != nil {
		return nil, err
	}

	row, err := s.repo.FindOrCreate(ctx, &models.SigningSession{
		AccountID:         accountID,
		BatchID:           batchID,
		SignerFingerprint: signerFingerprint,
	})
	if err != nil {
		return nil, err
	}

	session, err := s.Load(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	if session.lastSequence > 0 {
		return session, nil
	}

	err = s.repo.AppendEvent(ctx, row.ID, session.NextSequence(), enums.SigningEventInitialized, initializedPayload{
		Psbt:                  unsignedPsbt,
		UnsignedTxFingerprint: fingerprint,
	})
	if err != nil {
		// A concurrent initializer winning the append race is fine; the
		// session is initialized either way.
		if appErr := apperrors.As(err); appErr == nil || appErr.Code() != apperrors.CodeConflict {
			return nil, err
		}
	}
	return s.Load(ctx, row.ID)
}

func (s *service) Load(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	row, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.Events(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return Replay(*row, events)
}

func (s *service) SessionsForBatch(ctx context.Context, batchID uuid.UUID) ([]*Session, error) {
	rows, err := s.repo.SessionsForBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	sessions := make([]*Session, 0, len(rows))
	for _, row := range rows {
		events, err := s.repo.Events(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		session, err := Replay(row, events)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// Advance performs the session's next step. It is safe to call repeatedly:
// terminal sessions are returned as-is, transport failures leave the
// session awaiting_signature for a later attempt, and every state change is
// re-derived from the event log rather than in-memory context.
func (s *service) Advance(ctx context.Context, sessionID uuid.UUID, client signer.Client) (*Session, error) {
	session, err := s.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.State {
	case enums.SigningSessionStateSigned, enums.SigningSessionStateFailed:
		return session, nil

	case enums.SigningSessionStateUnsigned:
		if err := s.repo.AppendEvent(ctx, sessionID, session.NextSequence(), enums.SigningEventSignatureRequested, nil); err != nil {
			return nil, err
		}
		return s.Load(ctx, sessionID)

	case enums.SigningSessionStateAwaiting:
		return s.requestSignature(ctx, session, client)

	default:
		return nil, apperrors.New(apperrors.CodeInvariantViolation, fmt.Sprintf("signing session in unknown state %q", session.State))
	}
}

func (s *service) requestSignature(ctx context.Context, session *Session, client signer.Client) (*Session, error) {
	signedBytes, err := client.Sign(ctx, session.UnsignedPsbt)
	if err != nil {
		// Unreachable or failing signers are transient: no event, the
		// session stays awaiting_signature and the job retries.
		if errors.Is(err, signer.ErrCouldNotConnect) || errors.Is(err, signer.ErrRemoteCallFailure) {
			if s.logg != nil {
				s.logg.Warn(ctx, fmt.Sprintf("signer unavailable for session %s: %v", session.ID, err))
			}
			return nil, apperrors.Wrap(apperrors.CodeDependency, err, "signer unavailable")
		}
		return nil, err
	}

	signedPacket, err := psbtutil.Parse(signedBytes)
	if err != nil {
		return nil, err
	}
	returnedFingerprint, err := psbtutil.UnsignedTxFingerprint(signedPacket)
	if err != nil {
		return nil, err
	}
	if returnedFingerprint != session.UnsignedTxFingerprint {
		return nil, apperrors.Wrap(apperrors.CodeValidation, ErrUnsignedTxnMismatch, "rejecting signed psbt")
	}
	if !psbtutil.HasSignatureForFingerprint(signedPacket, session.SignerFingerprint) {
		if err := s.repo.AppendEvent(ctx, session.ID, session.NextSequence(), enums.SigningEventValidationFailed, validationFailedPayload{
			Reason: ErrPsbtDoesNotHaveValidSignatures.Error(),
		}); err != nil {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.CodeValidation, ErrPsbtDoesNotHaveValidSignatures, "rejecting signed psbt")
	}

	sequence := session.NextSequence()
	if err := s.repo.AppendEvent(ctx, session.ID, sequence, enums.SigningEventSignatureReceived, signatureReceivedPayload{
		SignedPsbt: signedBytes,
	}); err != nil {
		return nil, err
	}
	if err := s.repo.AppendEvent(ctx, session.ID, sequence+1, enums.SigningEventCompleted, nil); err != nil {
		return nil, err
	}
	return s.Load(ctx, session.ID)
}
