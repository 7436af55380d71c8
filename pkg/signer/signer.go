// Package signer provides the signing capability used by signing sessions.
// A backend is selected once at configuration time; sessions only ever see
// the Client interface.
package signer

import (
	"context"
	"errors"
	"fmt"

	"github.com/GaloyMoney/bria-sub001/pkg/config"
)

var (
	// ErrCouldNotConnect is returned when the signing party is unreachable.
	// The session stays awaiting_signature and a later attempt retries.
	ErrCouldNotConnect = errors.New("could not connect to signer")

	// ErrRemoteCallFailure is returned when the signing party answered but
	// the call failed.
	ErrRemoteCallFailure = errors.New("remote signer call failed")
)

// Client signs a PSBT and returns the signed PSBT bytes.
type Client interface {
	Sign(ctx context.Context, psbtBytes []byte) ([]byte, error)
	Fingerprint() string
}

// New builds the configured signing backend.
func New(cfg config.SignerConfig) (Client, error) {
	switch cfg.Backend {
	case config.SignerBackendLocal:
		return NewLocalSigner(cfg.KeyHex)
	case config.SignerBackendRemote:
		return NewRemoteSigner(cfg.Endpoint, cfg.SharedSecret, cfg.CallTimeout)
	default:
		return nil, fmt.Errorf("unknown signer backend %q", cfg.Backend)
	}
}
