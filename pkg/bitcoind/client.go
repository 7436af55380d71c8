// Package bitcoind wraps the json-rpc connection to the broadcasting node.
package bitcoind

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/GaloyMoney/bria-sub001/pkg/config"
)

// Broadcaster submits a finalized transaction to the network.
type Broadcaster interface {
	Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)
}

type Client struct {
	rpc *rpcclient.Client
}

func New(cfg config.BitcoinConfig) (*Client, error) {
	rpc, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:                 cfg.RPCHost,
		User:                 cfg.RPCUser,
		Pass:                 cfg.RPCPassword,
		HTTPPostMode:         true,
		DisableTLS:           true,
		DisableAutoReconnect: true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to bitcoind: %w", err)
	}
	return &Client{rpc: rpc}, nil
}

// Broadcast submits the transaction. Re-broadcasting a transaction already in
// the mempool or a block is surfaced as an error by the node; callers treat
// the "already known" variants as success when retrying.
func (c *Client) Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash, err := c.rpc.SendRawTransaction(tx, false)
	if err != nil {
		return nil, fmt.Errorf("broadcasting transaction: %w", err)
	}
	return hash, nil
}

func (c *Client) Close() {
	c.rpc.Shutdown()
}

// FundedPsbt is the node wallet's answer to a funding request.
type FundedPsbt struct {
	Psbt    []byte
	FeeSats int64
}

// FundPsbt asks the node wallet to build and fund an unsigned PSBT paying
// the given destinations, via walletcreatefundedpsbt. Coin selection and
// change handling stay inside the node; only the resulting packet and its
// fee cross this boundary.
func (c *Client) FundPsbt(ctx context.Context, outputs map[string]int64, satsPerVByte uint64) (*FundedPsbt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("no outputs to fund")
	}

	amounts := make(map[string]float64, len(outputs))
	for destination, sats := range outputs {
		amounts[destination] = float64(sats) / 1e8
	}
	outputsJSON, err := json.Marshal([]map[string]float64{amounts})
	if err != nil {
		return nil, err
	}
	optionsJSON, err := json.Marshal(map[string]any{
		// walletcreatefundedpsbt takes sat/vB directly.
		"fee_rate": satsPerVByte,
	})
	if err != nil {
		return nil, err
	}

	raw, err := c.rpc.RawRequest("walletcreatefundedpsbt", []json.RawMessage{
		json.RawMessage("[]"),
		outputsJSON,
		json.RawMessage("0"),
		optionsJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("funding psbt: %w", err)
	}

	var result struct {
		Psbt string  `json:"psbt"`
		Fee  float64 `json:"fee"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding funded psbt: %w", err)
	}
	psbtBytes, err := base64.StdEncoding.DecodeString(result.Psbt)
	if err != nil {
		return nil, fmt.Errorf("decoding funded psbt: %w", err)
	}
	return &FundedPsbt{
		Psbt:    psbtBytes,
		FeeSats: int64(result.Fee*1e8 + 0.5),
	}, nil
}
