package signer

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"

	"github.com/GaloyMoney/bria-sub001/pkg/psbtutil"
)

// LocalSigner signs with a private key held in process memory. It covers
// p2wpkh inputs, which is the only output kind the wallets here produce.
type LocalSigner struct {
	privKey     *btcec.PrivateKey
	pubKey      []byte
	fingerprint string
}

// NewLocalSigner parses a hex-encoded 32 byte private key.
func NewLocalSigner(keyHex string) (*LocalSigner, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode signer key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("signer key must be 32 bytes, got %d", len(raw))
	}
	priv, pub := btcec.PrivKeyFromBytes(raw)
	compressed := pub.SerializeCompressed()

	// BIP32 fingerprint of the key itself: first four bytes of hash160.
	fp := binary.BigEndian.Uint32(btcutil.Hash160(compressed)[:4])

	return &LocalSigner{
		privKey:     priv,
		pubKey:      compressed,
		fingerprint: fmt.Sprintf("%08x", fp),
	}, nil
}

func (s *LocalSigner) Fingerprint() string { return s.fingerprint }

// Sign adds a partial signature for every input this key can spend and
// returns the updated PSBT. Inputs belonging to other signers are left
// untouched.
func (s *LocalSigner) Sign(ctx context.Context, psbtBytes []byte) ([]byte, error) {
	packet, err := psbtutil.Parse(psbtBytes)
	if err != nil {
		return nil, err
	}

	sigHashes := txscript.NewTxSigHashes(
		packet.UnsignedTx, psbtutil.PrevOutputFetcher(packet),
	)
	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, err
	}

	for i := range packet.Inputs {
		in := &packet.Inputs[i]
		if in.WitnessUtxo == nil {
			continue
		}
		if !s.controlsInput(in) {
			continue
		}
		if hasSigFor(in, s.pubKey) {
			continue
		}

		script, err := payToWitnessKeyHashScript(s.pubKey)
		if err != nil {
			return nil, err
		}
		if in.SighashType == 0 {
			in.SighashType = txscript.SigHashAll
		}
		sig, err := txscript.RawTxInWitnessSignature(
			packet.UnsignedTx, sigHashes, i,
			in.WitnessUtxo.Value, script, in.SighashType, s.privKey,
		)
		if err != nil {
			return nil, fmt.Errorf("sign input %d: %w", i, err)
		}
		if _, err := updater.Sign(i, sig, s.pubKey, nil, nil); err != nil {
			return nil, fmt.Errorf("attach signature for input %d: %w", i, err)
		}
	}

	return psbtutil.Serialize(packet)
}

// controlsInput reports whether the input's derivation entries or witness
// script mention this key. Inputs with no derivation metadata are assumed
// single-signer and signed unconditionally.
func (s *LocalSigner) controlsInput(in *psbt.PInput) bool {
	if len(in.Bip32Derivation) == 0 {
		return true
	}
	for _, deriv := range in.Bip32Derivation {
		if bytes.Equal(deriv.PubKey, s.pubKey) {
			return true
		}
	}
	return false
}

func hasSigFor(in *psbt.PInput, pubKey []byte) bool {
	for _, sig := range in.PartialSigs {
		if bytes.Equal(sig.PubKey, pubKey) {
			return true
		}
	}
	return false
}

func payToWitnessKeyHashScript(pubKey []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(pubKey)).
		Script()
}
