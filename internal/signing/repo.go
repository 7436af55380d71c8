package signing

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/GaloyMoney/bria-sub001/pkg/db"
	"github.com/GaloyMoney/bria-sub001/pkg/db/models"
	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	apperrors "github.com/GaloyMoney/bria-sub001/pkg/errors"
)

// Repository manages session rows and their append-only event logs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrCreate(ctx context.Context, session *models.SigningSession) (*models.SigningSession, error)
	FindByID(ctx context.Context, sessionID uuid.UUID) (*models.SigningSession, error)
	SessionsForBatch(ctx context.Context, batchID uuid.UUID) ([]models.SigningSession, error)
	Events(ctx context.Context, sessionID uuid.UUID) ([]models.SigningSessionEvent, error)
	AppendEvent(ctx context.Context, sessionID uuid.UUID, sequence int, eventType enums.SigningEventType, payload any) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindOrCreate inserts the session row, falling back to the existing row
// when another worker created it first. One session per (batch, signer).
func (r *repository) FindOrCreate(ctx context.Context, session *models.SigningSession) (*models.SigningSession, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	err := r.db.WithContext(ctx).Create(session).Error
	if err == nil {
		return session, nil
	}
	if !dbpkg.IsUniqueViolation(err, "ux_signing_sessions_batch_signer") {
		return nil, err
	}
	var existing models.SigningSession
	if err := r.db.WithContext(ctx).
		First(&existing, "batch_id = ? AND signer_fingerprint = ?", session.BatchID, session.SignerFingerprint).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

func (r *repository) FindByID(ctx context.Context, sessionID uuid.UUID) (*models.SigningSession, error) {
	var session models.SigningSession
	err := r.db.WithContext(ctx).First(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "signing session not found")
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repository) SessionsForBatch(ctx context.Context, batchID uuid.UUID) ([]models.SigningSession, error) {
	var sessions []models.SigningSession
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("signer_fingerprint ASC").
		Find(&sessions).Error
	return sessions, err
}

func (r *repository) Events(ctx context.Context, sessionID uuid.UUID) ([]models.SigningSessionEvent, error) {
	var events []models.SigningSessionEvent
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence ASC").
		Find(&events).Error
	return events, err
}

// AppendEvent writes the next log row. The (session, sequence) unique index
// turns two workers racing to append into one winner and one conflict.
func (r *repository) AppendEvent(ctx context.Context, sessionID uuid.UUID, sequence int, eventType enums.SigningEventType, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = encoded
	}
	event := models.SigningSessionEvent{
		ID:        uuid.New(),
		SessionID: sessionID,
		Sequence:  sequence,
		EventType: eventType,
		Payload:   raw,
	}
	err := r.db.WithContext(ctx).Create(&event).Error
	if dbpkg.IsUniqueViolation(err, "ux_signing_session_events_seq") {
		return apperrors.New(apperrors.CodeConflict, "concurrent append to signing session log")
	}
	return err
}
