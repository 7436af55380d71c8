// Package payloads holds the typed event bodies carried in outbox envelopes.
package payloads

import (
	"time"

	"github.com/google/uuid"
)

// PayoutSubmittedEvent is emitted when a payout enters its queue.
type PayoutSubmittedEvent struct {
	PayoutID    uuid.UUID `json:"payout_id"`
	QueueID     uuid.UUID `json:"queue_id"`
	WalletID    uuid.UUID `json:"wallet_id"`
	Destination string    `json:"destination"`
	Satoshis    int64     `json:"satoshis"`
	ExternalID  *string   `json:"external_id,omitempty"`
}

// PayoutCommittedEvent is emitted when batch formation claims a payout.
type PayoutCommittedEvent struct {
	PayoutID uuid.UUID `json:"payout_id"`
	BatchID  uuid.UUID `json:"batch_id"`
	WalletID uuid.UUID `json:"wallet_id"`
	Satoshis int64     `json:"satoshis"`
}

// PayoutSettledEvent is emitted after the containing batch settles on chain.
type PayoutSettledEvent struct {
	PayoutID    uuid.UUID `json:"payout_id"`
	BatchID     uuid.UUID `json:"batch_id"`
	BitcoinTxID string    `json:"bitcoin_tx_id"`
}

// PayoutCancelledEvent is emitted when a still-queued payout is cancelled.
type PayoutCancelledEvent struct {
	PayoutID    uuid.UUID `json:"payout_id"`
	QueueID     uuid.UUID `json:"queue_id"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// BatchCreatedEvent is emitted once per batch at formation time.
type BatchCreatedEvent struct {
	BatchID      uuid.UUID `json:"batch_id"`
	QueueID      uuid.UUID `json:"queue_id"`
	PayoutCount  int       `json:"payout_count"`
	TotalOutSats int64     `json:"total_out_sats"`
	FeeSats      int64     `json:"fee_sats"`
}

// BatchBroadcastEvent is emitted when the signed transaction hits the network.
type BatchBroadcastEvent struct {
	BatchID     uuid.UUID `json:"batch_id"`
	BitcoinTxID string    `json:"bitcoin_tx_id"`
	BroadcastAt time.Time `json:"broadcast_at"`
}

// UtxoDetectedEvent is emitted when incoming funds are observed for a wallet.
type UtxoDetectedEvent struct {
	WalletID uuid.UUID `json:"wallet_id"`
	Outpoint string    `json:"outpoint"`
	Satoshis int64     `json:"satoshis"`
}
