package signing

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	apperrors "github.com/GaloyMoney/bria-sub001/pkg/errors"
	"github.com/GaloyMoney/bria-sub001/pkg/psbtutil"
	"github.com/GaloyMoney/bria-sub001/pkg/signer"
)

func setupSigningTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	sessions := `
CREATE TABLE IF NOT EXISTS signing_sessions (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  batch_id TEXT NOT NULL,
  signer_fingerprint TEXT NOT NULL,
  created_at DATETIME,
  UNIQUE (batch_id, signer_fingerprint)
);`
	events := `
CREATE TABLE IF NOT EXISTS signing_session_events (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  sequence INTEGER NOT NULL,
  event_type TEXT NOT NULL,
  payload TEXT,
  recorded_at DATETIME,
  UNIQUE (session_id, sequence)
);`
	require.NoError(t, conn.Exec(sessions).Error)
	require.NoError(t, conn.Exec(events).Error)
	return conn
}

func unsignedTestPsbt(t *testing.T, seed byte) []byte {
	t.Helper()
	tx := wire.NewMsgTx(2)
	var prevHash chainhash.Hash
	prevHash[0] = seed
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(50_000, []byte{0x00, 0x14}))
	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)
	raw, err := psbtutil.Serialize(packet)
	require.NoError(t, err)
	return raw
}

// signedVariant returns the same packet with a partial signature attached,
// its key derivation recorded under the given master key fingerprint.
func signedVariant(t *testing.T, unsigned []byte, fingerprint string) []byte {
	t.Helper()
	packet, err := psbtutil.Parse(unsigned)
	require.NoError(t, err)

	fpRaw, err := hex.DecodeString(fingerprint)
	require.NoError(t, err)

	priv, _ := btcec.NewPrivateKey()
	pubKey := priv.PubKey().SerializeCompressed()
	packet.Inputs[0].PartialSigs = append(packet.Inputs[0].PartialSigs, &psbt.PartialSig{
		PubKey:    pubKey,
		Signature: []byte{0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01, 0x01},
	})
	packet.Inputs[0].Bip32Derivation = append(packet.Inputs[0].Bip32Derivation, &psbt.Bip32Derivation{
		PubKey:               pubKey,
		MasterKeyFingerprint: binary.LittleEndian.Uint32(fpRaw),
		Bip32Path:            []uint32{0, 0},
	})
	raw, err := psbtutil.Serialize(packet)
	require.NoError(t, err)
	return raw
}

type scriptedSigner struct {
	result []byte
	err    error
	calls  int
}

func (s *scriptedSigner) Sign(ctx context.Context, psbtBytes []byte) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *scriptedSigner) Fingerprint() string { return "deadbeef" }

func newSigningService(t *testing.T, conn *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(NewRepository(conn), nil)
	require.NoError(t, err)
	return svc
}

func initSession(t *testing.T, svc Service) (*Session, []byte) {
	t.Helper()
	unsigned := unsignedTestPsbt(t, 0x07)
	session, err := svc.InitializeForBatch(context.Background(), uuid.New(), uuid.New(), "deadbeef", unsigned)
	require.NoError(t, err)
	return session, unsigned
}

func TestInitializeForBatchIsIdempotent(t *testing.T) {
	conn := setupSigningTestDB(t)
	svc := newSigningService(t, conn)

	accountID := uuid.New()
	batchID := uuid.New()
	unsigned := unsignedTestPsbt(t, 0x07)

	first, err := svc.InitializeForBatch(context.Background(), accountID, batchID, "deadbeef", unsigned)
	require.NoError(t, err)
	assert.Equal(t, enums.SigningSessionStateUnsigned, first.State)
	assert.NotEmpty(t, first.UnsignedTxFingerprint)

	second, err := svc.InitializeForBatch(context.Background(), accountID, batchID, "deadbeef", unsigned)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.NextSequence(), second.NextSequence())
}

func TestAdvanceHappyPathToSigned(t *testing.T) {
	conn := setupSigningTestDB(t)
	svc := newSigningService(t, conn)
	session, unsigned := initSession(t, svc)

	// unsigned → awaiting_signature
	session, err := svc.Advance(context.Background(), session.ID, &scriptedSigner{})
	require.NoError(t, err)
	assert.Equal(t, enums.SigningSessionStateAwaiting, session.State)

	// awaiting_signature → signed
	client := &scriptedSigner{result: signedVariant(t, unsigned, "deadbeef")}
	session, err = svc.Advance(context.Background(), session.ID, client)
	require.NoError(t, err)
	assert.Equal(t, enums.SigningSessionStateSigned, session.State)
	assert.NotEmpty(t, session.SignedPsbt)
	assert.Equal(t, 1, client.calls)

	// Terminal sessions are returned as-is on further attempts.
	session, err = svc.Advance(context.Background(), session.ID, client)
	require.NoError(t, err)
	assert.Equal(t, enums.SigningSessionStateSigned, session.State)
	assert.Equal(t, 1, client.calls)
}

func TestAdvanceTransportFailureStaysAwaiting(t *testing.T) {
	conn := setupSigningTestDB(t)
	svc := newSigningService(t, conn)
	session, _ := initSession(t, svc)

	session, err := svc.Advance(context.Background(), session.ID, &scriptedSigner{})
	require.NoError(t, err)

	client := &scriptedSigner{err: fmt.Errorf("%w: dial tcp refused", signer.ErrCouldNotConnect)}
	_, err = svc.Advance(context.Background(), session.ID, client)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))

	reloaded, err := svc.Load(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SigningSessionStateAwaiting, reloaded.State)
}

func TestAdvanceRejectsMismatchedTransaction(t *testing.T) {
	conn := setupSigningTestDB(t)
	svc := newSigningService(t, conn)
	session, _ := initSession(t, svc)

	session, err := svc.Advance(context.Background(), session.ID, &scriptedSigner{})
	require.NoError(t, err)

	other := unsignedTestPsbt(t, 0x99)
	client := &scriptedSigner{result: signedVariant(t, other, "deadbeef")}
	_, err = svc.Advance(context.Background(), session.ID, client)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsignedTxnMismatch))

	// The rejected event leaves the session exactly where it was.
	reloaded, err := svc.Load(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SigningSessionStateAwaiting, reloaded.State)
	assert.Equal(t, session.NextSequence(), reloaded.NextSequence())
}

func TestAdvanceRejectsMissingSignatures(t *testing.T) {
	conn := setupSigningTestDB(t)
	svc := newSigningService(t, conn)
	session, unsigned := initSession(t, svc)

	session, err := svc.Advance(context.Background(), session.ID, &scriptedSigner{})
	require.NoError(t, err)

	// Returned packet matches but carries no signature at all.
	client := &scriptedSigner{result: unsigned}
	_, err = svc.Advance(context.Background(), session.ID, client)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPsbtDoesNotHaveValidSignatures))

	reloaded, err := svc.Load(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SigningSessionStateFailed, reloaded.State)
	assert.NotEmpty(t, reloaded.FailureReason)
}

func TestAdvanceRejectsSignatureFromForeignKey(t *testing.T) {
	conn := setupSigningTestDB(t)
	svc := newSigningService(t, conn)
	session, unsigned := initSession(t, svc)

	session, err := svc.Advance(context.Background(), session.ID, &scriptedSigner{})
	require.NoError(t, err)

	// Returned packet matches the transaction but the signature's key
	// derives from a different master key than the session's signer.
	client := &scriptedSigner{result: signedVariant(t, unsigned, "0badf00d")}
	_, err = svc.Advance(context.Background(), session.ID, client)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPsbtDoesNotHaveValidSignatures))

	reloaded, err := svc.Load(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SigningSessionStateFailed, reloaded.State)
	assert.NotEmpty(t, reloaded.FailureReason)
}

func TestReplayReproducesStateAndFingerprint(t *testing.T) {
	conn := setupSigningTestDB(t)
	repo := NewRepository(conn)
	svc := newSigningService(t, conn)
	session, unsigned := initSession(t, svc)

	var err error
	session, err = svc.Advance(context.Background(), session.ID, &scriptedSigner{})
	require.NoError(t, err)
	session, err = svc.Advance(context.Background(), session.ID, &scriptedSigner{result: signedVariant(t, unsigned, "deadbeef")})
	require.NoError(t, err)

	row, err := repo.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	events, err := repo.Events(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)

	replayed, err := Replay(*row, events)
	require.NoError(t, err)
	assert.Equal(t, session.State, replayed.State)
	assert.Equal(t, session.UnsignedTxFingerprint, replayed.UnsignedTxFingerprint)
	assert.Equal(t, session.SignedPsbt, replayed.SignedPsbt)
}
