package enums

import "fmt"

// OutboxEventType maps to the outbox_event_type_enum enum in Postgres.
type OutboxEventType string

const (
	EventPayoutSubmitted OutboxEventType = "payout_submitted"
	EventPayoutCommitted OutboxEventType = "payout_committed"
	EventPayoutSettled   OutboxEventType = "payout_settled"
	EventPayoutCancelled OutboxEventType = "payout_cancelled"
	EventBatchCreated    OutboxEventType = "batch_created"
	EventBatchBroadcast  OutboxEventType = "batch_broadcast"
	EventUtxoDetected    OutboxEventType = "utxo_detected"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPayoutSubmitted,
	EventPayoutCommitted,
	EventPayoutSettled,
	EventPayoutCancelled,
	EventBatchCreated,
	EventBatchBroadcast,
	EventUtxoDetected,
}

// IsValid reports whether the value matches the canonical outbox event enum.
func (t OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}

// OutboxAggregateType names the entity an outbox event is about.
type OutboxAggregateType string

const (
	AggregatePayout OutboxAggregateType = "payout"
	AggregateBatch  OutboxAggregateType = "batch"
	AggregateWallet OutboxAggregateType = "wallet"
)

var validOutboxAggregateTypes = []OutboxAggregateType{
	AggregatePayout,
	AggregateBatch,
	AggregateWallet,
}

// IsValid reports whether the value matches the canonical aggregate enum.
func (t OutboxAggregateType) IsValid() bool {
	for _, candidate := range validOutboxAggregateTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// QueueTrigger distinguishes interval-scheduled payout queues from
// manually-triggered ones.
type QueueTrigger string

const (
	QueueTriggerInterval QueueTrigger = "interval"
	QueueTriggerManual   QueueTrigger = "manual"
)

// IsValid reports whether the trigger is a known policy.
func (t QueueTrigger) IsValid() bool {
	return t == QueueTriggerInterval || t == QueueTriggerManual
}
