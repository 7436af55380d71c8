// Package signing coordinates per-(batch, signer) signing sessions as
// event-sourced state machines. State is never stored directly; it is
// reconstructed by folding the session's event log in sequence order, which
// is what makes crashed signing jobs resumable by any worker.
package signing

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/GaloyMoney/bria-sub001/pkg/db/models"
	"github.com/GaloyMoney/bria-sub001/pkg/enums"
)

// Session is the folded view of one signing session's event log.
type Session struct {
	ID                uuid.UUID
	AccountID         uuid.UUID
	BatchID           uuid.UUID
	SignerFingerprint string

	State                 enums.SigningSessionState
	UnsignedPsbt          []byte
	UnsignedTxFingerprint string
	SignedPsbt            []byte
	FailureReason         string

	lastSequence int
}

// NextSequence is the sequence the next appended event must carry.
func (s *Session) NextSequence() int {
	return s.lastSequence + 1
}

// Replay folds the event log in ascending sequence order. A gap or an
// out-of-order row means the log is corrupt.
func Replay(row models.SigningSession, events []models.SigningSessionEvent) (*Session, error) {
	session := &Session{
		ID:                row.ID,
		AccountID:         row.AccountID,
		BatchID:           row.BatchID,
		SignerFingerprint: row.SignerFingerprint,
		State:             enums.SigningSessionStateUnsigned,
	}
	for _, event := range events {
		if event.Sequence != session.lastSequence+1 {
			return nil, fmt.Errorf("event log for session %s has gap at sequence %d", row.ID, event.Sequence)
		}
		if err := session.apply(event); err != nil {
			return nil, err
		}
		session.lastSequence = event.Sequence
	}
	return session, nil
}

func (s *Session) apply(event models.SigningSessionEvent) error {
	switch event.EventType {
	case enums.SigningEventInitialized:
		var payload initializedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("decoding initialized payload: %w", err)
		}
		s.UnsignedPsbt = payload.Psbt
		s.UnsignedTxFingerprint = payload.UnsignedTxFingerprint
		s.State = enums.SigningSessionStateUnsigned
	case enums.SigningEventSignatureRequested:
		s.State = enums.SigningSessionStateAwaiting
	case enums.SigningEventSignatureReceived:
		var payload signatureReceivedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("decoding signature_received payload: %w", err)
		}
		s.SignedPsbt = payload.SignedPsbt
	case enums.SigningEventValidationFailed:
		var payload validationFailedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("decoding validation_failed payload: %w", err)
		}
		s.FailureReason = payload.Reason
		s.State = enums.SigningSessionStateFailed
	case enums.SigningEventCompleted:
		s.State = enums.SigningSessionStateSigned
	default:
		return fmt.Errorf("unknown signing event type %q", event.EventType)
	}
	return nil
}
