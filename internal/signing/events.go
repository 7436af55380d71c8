package signing

// Event payloads stored in the session log. PSBT bytes marshal as base64
// through encoding/json's []byte handling.

type initializedPayload struct {
	Psbt                  []byte `json:"psbt"`
	UnsignedTxFingerprint string `json:"unsigned_tx_fingerprint"`
}

type signatureReceivedPayload struct {
	SignedPsbt []byte `json:"signed_psbt"`
}

type validationFailedPayload struct {
	Reason string `json:"reason"`
}
