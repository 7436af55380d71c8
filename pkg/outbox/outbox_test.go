package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/GaloyMoney/bria-sub001/pkg/db/models"
	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	"github.com/GaloyMoney/bria-sub001/pkg/outbox/payloads"
)

func setupOutboxTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// A unique name per test keeps the shared-cache in-memory DBs isolated.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	events := `
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
);`
	sequences := `
CREATE TABLE IF NOT EXISTS outbox_sequences (
  account_id TEXT PRIMARY KEY,
  last_sequence INTEGER NOT NULL DEFAULT 0
);`
	require.NoError(t, db.Exec(events).Error)
	require.NoError(t, db.Exec(sequences).Error)
	return db
}

func emitTestEvent(t *testing.T, svc *Service, db *gorm.DB, accountID uuid.UUID) {
	t.Helper()
	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			AccountID:     accountID,
			EventType:     enums.EventPayoutSubmitted,
			AggregateType: enums.AggregatePayout,
			AggregateID:   uuid.New(),
			Data: payloads.PayoutSubmittedEvent{
				PayoutID: uuid.New(),
				Satoshis: 10_000,
			},
		})
	})
	require.NoError(t, err)
}

func TestEmitAssignsMonotonicSequencePerAccount(t *testing.T) {
	db := setupOutboxTestDB(t)
	svc := NewService(NewRepository(db), nil)

	accountA := uuid.New()
	accountB := uuid.New()
	for i := 0; i < 3; i++ {
		emitTestEvent(t, svc, db, accountA)
	}
	emitTestEvent(t, svc, db, accountB)

	rowsA, err := NewRepository(db).ListSince(accountA, 0, 10)
	require.NoError(t, err)
	require.Len(t, rowsA, 3)
	for i, row := range rowsA {
		assert.Equal(t, int64(i+1), row.Sequence)
	}

	rowsB, err := NewRepository(db).ListSince(accountB, 0, 10)
	require.NoError(t, err)
	require.Len(t, rowsB, 1)
	assert.Equal(t, int64(1), rowsB[0].Sequence)
}

func TestNextSequenceCreatesCounterOnFirstUse(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)
	accountID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		seq, err := repo.NextSequence(tx, accountID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), seq)

		seq, err = repo.NextSequence(tx, accountID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), seq)
		return nil
	})
	require.NoError(t, err)

	// The counter survives the transaction and carries the watermark.
	var lastSequence int64
	require.NoError(t, db.Table("outbox_sequences").
		Where("account_id = ?", accountID).
		Pluck("last_sequence", &lastSequence).Error)
	assert.Equal(t, int64(2), lastSequence)
}

func TestNextSequenceContinuesFromExistingCounter(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)
	accountID := uuid.New()

	require.NoError(t, db.Exec(
		"INSERT INTO outbox_sequences (account_id, last_sequence) VALUES (?, ?)",
		accountID, int64(5),
	).Error)

	err := db.Transaction(func(tx *gorm.DB) error {
		seq, err := repo.NextSequence(tx, accountID)
		require.NoError(t, err)
		assert.Equal(t, int64(6), seq)
		return nil
	})
	require.NoError(t, err)
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)
	accountID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			AccountID:     accountID,
			EventType:     enums.EventBatchCreated,
			AggregateType: enums.AggregateBatch,
			AggregateID:   uuid.New(),
			Data:          payloads.BatchCreatedEvent{},
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	rows, err := repo.ListSince(accountID, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// The next emit after a rollback starts the feed at 1, no gap.
	emitTestEvent(t, svc, db, accountID)
	rows, err = repo.ListSince(accountID, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Sequence)
}

func TestEmitWrapsPayloadInEnvelope(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)
	accountID := uuid.New()

	emitTestEvent(t, svc, db, accountID)

	rows, err := repo.ListSince(accountID, 0, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	assert.False(t, envelope.OccurredAt.IsZero())

	var body payloads.PayoutSubmittedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &body))
	assert.Equal(t, int64(10_000), body.Satoshis)
}

func TestListSinceResumesFromSequence(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)
	accountID := uuid.New()

	for i := 0; i < 5; i++ {
		emitTestEvent(t, svc, db, accountID)
	}

	rows, err := repo.ListSince(accountID, 3, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(4), rows[0].Sequence)
	assert.Equal(t, int64(5), rows[1].Sequence)
}

func TestMarkPublishedAndFailed(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)
	accountID := uuid.New()

	emitTestEvent(t, svc, db, accountID)
	emitTestEvent(t, svc, db, accountID)

	unpublished, err := repo.FetchUnpublished(10, 10)
	require.NoError(t, err)
	require.Len(t, unpublished, 2)

	require.NoError(t, repo.MarkPublished(unpublished[0].ID))
	require.NoError(t, repo.MarkFailed(unpublished[1].ID, assert.AnError))

	remaining, err := repo.FetchUnpublished(10, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, unpublished[1].ID, remaining[0].ID)
	assert.Equal(t, 1, remaining[0].AttemptCount)
	require.NotNil(t, remaining[0].LastError)

	var stored models.OutboxEvent
	require.NoError(t, db.First(&stored, "id = ?", unpublished[0].ID).Error)
	require.NotNil(t, stored.PublishedAt)
}
