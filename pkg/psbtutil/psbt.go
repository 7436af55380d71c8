package psbtutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrBitcoinConsensusEncode is returned when PSBT or transaction bytes
	// fail consensus (de)serialization.
	ErrBitcoinConsensusEncode = errors.New("bitcoin consensus encode error")

	// ErrNoPsbtsToCombine is returned when no PSBTs are provided to combine.
	ErrNoPsbtsToCombine = errors.New("no psbts to combine")

	// ErrDifferentTransactions is returned when PSBTs do not refer to the
	// same unsigned transaction.
	ErrDifferentTransactions = errors.New("psbts do not refer to the same transaction")

	// ErrNotFinalizable is returned when a combined PSBT still misses
	// signatures required to finalize.
	ErrNotFinalizable = errors.New("psbt is not finalizable")
)

// Parse decodes PSBT bytes. Raw binary takes precedence; base64 input is
// accepted as a fallback since remote signers commonly return it.
func Parse(raw []byte) (*psbt.Packet, error) {
	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err == nil {
		return packet, nil
	}
	packet, b64Err := psbt.NewFromRawBytes(bytes.NewReader(raw), true)
	if b64Err == nil {
		return packet, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrBitcoinConsensusEncode, err)
}

// Serialize encodes the packet into raw binary PSBT bytes.
func Serialize(packet *psbt.Packet) ([]byte, error) {
	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBitcoinConsensusEncode, err)
	}
	return buf.Bytes(), nil
}

// UnsignedTxBytes serializes the embedded unsigned transaction.
func UnsignedTxBytes(packet *psbt.Packet) ([]byte, error) {
	var buf bytes.Buffer
	if err := packet.UnsignedTx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBitcoinConsensusEncode, err)
	}
	return buf.Bytes(), nil
}

// UnsignedTxFingerprint returns a stable hex digest of the unsigned
// transaction. Signing sessions record it so a returned PSBT can be checked
// for byte-identity with the one sent out.
func UnsignedTxFingerprint(packet *psbt.Packet) (string, error) {
	raw, err := UnsignedTxBytes(packet)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(raw)
	return hex.EncodeToString(digest[:]), nil
}

// UnsignedTxMatches reports whether two packets embed byte-identical
// unsigned transactions.
func UnsignedTxMatches(a, b *psbt.Packet) (bool, error) {
	rawA, err := UnsignedTxBytes(a)
	if err != nil {
		return false, err
	}
	rawB, err := UnsignedTxBytes(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(rawA, rawB), nil
}

// TxID returns the txid of the packet's unsigned transaction.
func TxID(packet *psbt.Packet) string {
	return packet.UnsignedTx.TxHash().String()
}

// Combine merges the partial signatures of several PSBTs for the same
// unsigned transaction into the first packet. Input order is preserved.
func Combine(packets []*psbt.Packet) (*psbt.Packet, error) {
	if len(packets) == 0 {
		return nil, ErrNoPsbtsToCombine
	}
	base := packets[0]
	baseRaw, err := UnsignedTxBytes(base)
	if err != nil {
		return nil, err
	}
	for _, other := range packets[1:] {
		otherRaw, err := UnsignedTxBytes(other)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(baseRaw, otherRaw) {
			return nil, ErrDifferentTransactions
		}
		if len(other.Inputs) != len(base.Inputs) || len(other.Outputs) != len(base.Outputs) {
			return nil, ErrDifferentTransactions
		}
		for i := range other.Inputs {
			mergeInput(&base.Inputs[i], &other.Inputs[i])
		}
	}
	return base, nil
}

func mergeInput(dst, src *psbt.PInput) {
	for _, sig := range src.PartialSigs {
		if !hasPartialSig(dst.PartialSigs, sig.PubKey) {
			dst.PartialSigs = append(dst.PartialSigs, sig)
		}
	}
	if dst.WitnessUtxo == nil {
		dst.WitnessUtxo = src.WitnessUtxo
	}
	if dst.NonWitnessUtxo == nil {
		dst.NonWitnessUtxo = src.NonWitnessUtxo
	}
	if dst.WitnessScript == nil {
		dst.WitnessScript = src.WitnessScript
	}
	if dst.RedeemScript == nil {
		dst.RedeemScript = src.RedeemScript
	}
	if len(dst.Bip32Derivation) == 0 {
		dst.Bip32Derivation = src.Bip32Derivation
	}
}

func hasPartialSig(sigs []*psbt.PartialSig, pubKey []byte) bool {
	for _, sig := range sigs {
		if bytes.Equal(sig.PubKey, pubKey) {
			return true
		}
	}
	return false
}

// HasPartialSigs reports whether every input of the packet carries at least
// one partial signature.
func HasPartialSigs(packet *psbt.Packet) bool {
	if len(packet.Inputs) == 0 {
		return false
	}
	for _, input := range packet.Inputs {
		if len(input.PartialSigs) == 0 && input.FinalScriptSig == nil &&
			input.FinalScriptWitness == nil {
			return false
		}
	}
	return true
}

// HasSignatureForFingerprint reports whether every input carries a partial
// signature whose BIP32 derivation references the given master key
// fingerprint. Inputs without derivation info are accepted when signed,
// since not every signer attaches derivations.
func HasSignatureForFingerprint(packet *psbt.Packet, fingerprint string) bool {
	want, err := parseFingerprint(fingerprint)
	if err != nil {
		return false
	}
	if !HasPartialSigs(packet) {
		return false
	}
	for _, input := range packet.Inputs {
		if len(input.Bip32Derivation) == 0 {
			continue
		}
		if !inputSignedByFingerprint(input, want) {
			return false
		}
	}
	return true
}

func inputSignedByFingerprint(input psbt.PInput, want uint32) bool {
	for _, derivation := range input.Bip32Derivation {
		if derivation.MasterKeyFingerprint != want {
			continue
		}
		if hasPartialSig(input.PartialSigs, derivation.PubKey) {
			return true
		}
	}
	return false
}

func parseFingerprint(fingerprint string) (uint32, error) {
	raw, err := hex.DecodeString(fingerprint)
	if err != nil || len(raw) != 4 {
		return 0, fmt.Errorf("invalid key fingerprint %q", fingerprint)
	}
	return binary.LittleEndian.Uint32(raw), nil
}

// Finalize completes all inputs and extracts the fully-signed transaction.
func Finalize(packet *psbt.Packet) (*wire.MsgTx, error) {
	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFinalizable, err)
	}
	finalTx, err := psbt.Extract(packet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBitcoinConsensusEncode, err)
	}
	return finalTx, nil
}

// SerializeTx consensus-encodes a finalized transaction.
func SerializeTx(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBitcoinConsensusEncode, err)
	}
	return buf.Bytes(), nil
}

// PrevOutputFetcher builds a txscript prevout fetcher from the UTXO
// information carried in the packet. Inputs without UTXO data are skipped.
func PrevOutputFetcher(packet *psbt.Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for idx, txIn := range packet.UnsignedTx.TxIn {
		in := packet.Inputs[idx]

		if in.NonWitnessUtxo != nil {
			prevIndex := txIn.PreviousOutPoint.Index
			fetcher.AddPrevOut(
				txIn.PreviousOutPoint,
				in.NonWitnessUtxo.TxOut[prevIndex],
			)
			continue
		}
		if in.WitnessUtxo != nil {
			fetcher.AddPrevOut(txIn.PreviousOutPoint, in.WitnessUtxo)
		}
	}
	return fetcher
}
