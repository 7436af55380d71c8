// Package feerate provides the fee-estimation collaborator used during batch
// formation.
package feerate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Priority selects which mempool projection backs the estimate.
type Priority string

const (
	PriorityNextBlock Priority = "next_block"
	PriorityHalfHour  Priority = "half_hour"
	PriorityOneHour   Priority = "one_hour"
)

// Estimator returns a fee rate in sats per vbyte for the given priority.
type Estimator interface {
	SatsPerVByte(ctx context.Context, priority Priority) (uint64, error)
}

// MempoolClient fetches recommended fee rates from a mempool.space style
// endpoint. A fallback rate keeps batch formation alive when the endpoint is
// unreachable.
type MempoolClient struct {
	url        string
	fallback   uint64
	httpClient *http.Client
}

type recommendedFees struct {
	FastestFee  uint64 `json:"fastestFee"`
	HalfHourFee uint64 `json:"halfHourFee"`
	HourFee     uint64 `json:"hourFee"`
}

func NewMempoolClient(url string, timeout time.Duration, fallbackSatsPerVByte uint64) *MempoolClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if fallbackSatsPerVByte == 0 {
		fallbackSatsPerVByte = 1
	}
	return &MempoolClient{
		url:        url,
		fallback:   fallbackSatsPerVByte,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *MempoolClient) SatsPerVByte(ctx context.Context, priority Priority) (uint64, error) {
	fees, err := c.fetch(ctx)
	if err != nil {
		return c.fallback, nil
	}

	var rate uint64
	switch priority {
	case PriorityNextBlock:
		rate = fees.FastestFee
	case PriorityHalfHour:
		rate = fees.HalfHourFee
	case PriorityOneHour:
		rate = fees.HourFee
	default:
		return 0, fmt.Errorf("unknown fee priority %q", priority)
	}
	if rate == 0 {
		rate = c.fallback
	}
	return rate, nil
}

func (c *MempoolClient) fetch(ctx context.Context) (*recommendedFees, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mempool endpoint returned status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var fees recommendedFees
	if err := json.Unmarshal(raw, &fees); err != nil {
		return nil, err
	}
	return &fees, nil
}

// Fixed is an estimator pinned to one rate, used in tests and as the offline
// fallback wiring.
type Fixed uint64

func (f Fixed) SatsPerVByte(context.Context, Priority) (uint64, error) {
	return uint64(f), nil
}
