package psbtutil

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

func makePacket(t *testing.T, outValue int64) *psbt.Packet {
	t.Helper()

	tx := wire.NewMsgTx(2)
	prevHash, err := chainhash.NewHashFromStr(
		"aabbccddeeff00112233445566778899aabbccddeeff001122334455667788aa",
	)
	if err != nil {
		t.Fatalf("prev hash: %v", err)
	}
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(prevHash, 0), nil, nil))
	script := []byte{0x00, 0x14}
	script = append(script, make([]byte, 20)...)
	tx.AddTxOut(wire.NewTxOut(outValue, script))

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		t.Fatalf("new packet: %v", err)
	}
	return packet
}

func TestSerializeParseRoundTrip(t *testing.T) {
	packet := makePacket(t, 60_000)

	raw, err := Serialize(packet)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	same, err := UnsignedTxMatches(packet, parsed)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if !same {
		t.Fatal("round-tripped packet should embed the identical unsigned tx")
	}
}

func TestUnsignedTxFingerprintIsStable(t *testing.T) {
	packet := makePacket(t, 60_000)

	first, err := UnsignedTxFingerprint(packet)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	second, err := UnsignedTxFingerprint(packet)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if first != second {
		t.Fatalf("fingerprint not stable: %s vs %s", first, second)
	}

	other := makePacket(t, 70_000)
	otherFp, err := UnsignedTxFingerprint(other)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if first == otherFp {
		t.Fatal("different transactions must not share a fingerprint")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("definitely not a psbt")); !errors.Is(err, ErrBitcoinConsensusEncode) {
		t.Fatalf("expected consensus encode error, got %v", err)
	}
}

func TestCombineRejectsDifferentTransactions(t *testing.T) {
	a := makePacket(t, 60_000)
	b := makePacket(t, 70_000)

	if _, err := Combine([]*psbt.Packet{a, b}); !errors.Is(err, ErrDifferentTransactions) {
		t.Fatalf("expected different-transactions error, got %v", err)
	}
}

func TestCombineMergesPartialSigs(t *testing.T) {
	a := makePacket(t, 60_000)
	b := makePacket(t, 60_000)

	sigA := &psbt.PartialSig{PubKey: []byte{0x02, 0x01}, Signature: []byte{0x30, 0x01}}
	sigB := &psbt.PartialSig{PubKey: []byte{0x03, 0x02}, Signature: []byte{0x30, 0x02}}
	a.Inputs[0].PartialSigs = []*psbt.PartialSig{sigA}
	b.Inputs[0].PartialSigs = []*psbt.PartialSig{sigB}

	combined, err := Combine([]*psbt.Packet{a, b})
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if len(combined.Inputs[0].PartialSigs) != 2 {
		t.Fatalf("expected two partial sigs, got %d", len(combined.Inputs[0].PartialSigs))
	}

	// Combining the same signer twice must not duplicate the signature.
	again, err := Combine([]*psbt.Packet{combined, b})
	if err != nil {
		t.Fatalf("combine again: %v", err)
	}
	if len(again.Inputs[0].PartialSigs) != 2 {
		t.Fatalf("duplicate signer merged twice: %d sigs", len(again.Inputs[0].PartialSigs))
	}
}

func TestCombineRequiresInput(t *testing.T) {
	if _, err := Combine(nil); !errors.Is(err, ErrNoPsbtsToCombine) {
		t.Fatalf("expected no-psbts error, got %v", err)
	}
}

func TestHasPartialSigs(t *testing.T) {
	packet := makePacket(t, 60_000)
	if HasPartialSigs(packet) {
		t.Fatal("fresh packet has no signatures")
	}
	packet.Inputs[0].PartialSigs = []*psbt.PartialSig{
		{PubKey: []byte{0x02}, Signature: []byte{0x30}},
	}
	if !HasPartialSigs(packet) {
		t.Fatal("expected signatures to be detected")
	}
}

func TestHasSignatureForFingerprint(t *testing.T) {
	pubKey := []byte{0x02, 0x01}
	signed := func() *psbt.Packet {
		packet := makePacket(t, 60_000)
		packet.Inputs[0].PartialSigs = []*psbt.PartialSig{
			{PubKey: pubKey, Signature: []byte{0x30, 0x01}},
		}
		return packet
	}

	unsigned := makePacket(t, 60_000)
	if HasSignatureForFingerprint(unsigned, "deadbeef") {
		t.Fatal("unsigned packet must not pass")
	}

	// No derivation info on the input: a present signature is accepted.
	if !HasSignatureForFingerprint(signed(), "deadbeef") {
		t.Fatal("signed input without derivation info should be accepted")
	}

	withDerivation := func(fingerprint uint32) *psbt.Packet {
		packet := signed()
		packet.Inputs[0].Bip32Derivation = []*psbt.Bip32Derivation{
			{PubKey: pubKey, MasterKeyFingerprint: fingerprint, Bip32Path: []uint32{0}},
		}
		return packet
	}
	// "deadbeef" little-endian.
	if !HasSignatureForFingerprint(withDerivation(0xefbeadde), "deadbeef") {
		t.Fatal("matching derivation fingerprint should be accepted")
	}
	if HasSignatureForFingerprint(withDerivation(0x0d0f0ad0), "deadbeef") {
		t.Fatal("foreign derivation fingerprint must be rejected")
	}

	if HasSignatureForFingerprint(signed(), "not-hex") {
		t.Fatal("malformed fingerprint must be rejected")
	}
}
