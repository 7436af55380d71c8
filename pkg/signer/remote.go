package signer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RemoteSigner calls an external signing daemon over HTTP. The whole call is
// bounded by a timeout so a stalled signer cannot wedge the signing job.
type RemoteSigner struct {
	endpoint     string
	sharedSecret string
	httpClient   *http.Client
}

type signRequest struct {
	Psbt string `json:"psbt"`
}

type signResponse struct {
	SignedPsbt  string `json:"signed_psbt"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

func NewRemoteSigner(endpoint, sharedSecret string, callTimeout time.Duration) (*RemoteSigner, error) {
	if endpoint == "" {
		return nil, errors.New("remote signer endpoint is required")
	}
	if sharedSecret == "" {
		return nil, errors.New("remote signer shared secret is required")
	}
	if callTimeout <= 0 {
		callTimeout = 45 * time.Second
	}
	return &RemoteSigner{
		endpoint:     strings.TrimRight(endpoint, "/"),
		sharedSecret: sharedSecret,
		httpClient:   &http.Client{Timeout: callTimeout},
	}, nil
}

// Fingerprint is not known locally for a remote backend; sessions track the
// signer by the fingerprint stored on the session row.
func (s *RemoteSigner) Fingerprint() string { return "" }

func (s *RemoteSigner) Sign(ctx context.Context, psbtBytes []byte) ([]byte, error) {
	body, err := json.Marshal(signRequest{
		Psbt: base64.StdEncoding.EncodeToString(psbtBytes),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, s.endpoint+"/sign", bytes.NewReader(body),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.sharedSecret)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCouldNotConnect, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrRemoteCallFailure, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf(
			"%w: status %d: %s", ErrRemoteCallFailure,
			resp.StatusCode, strings.TrimSpace(string(raw)),
		)
	}

	var parsed signResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrRemoteCallFailure, err)
	}
	signed, err := base64.StdEncoding.DecodeString(parsed.SignedPsbt)
	if err != nil {
		return nil, fmt.Errorf("%w: decode signed psbt: %v", ErrRemoteCallFailure, err)
	}
	return signed, nil
}
