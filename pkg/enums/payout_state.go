package enums

import "fmt"

// PayoutState maps to the payout_state_enum enum in Postgres.
type PayoutState string

const (
	PayoutStateQueued    PayoutState = "queued"
	PayoutStateCommitted PayoutState = "committed"
	PayoutStateSettled   PayoutState = "settled"
	PayoutStateCancelled PayoutState = "cancelled"
)

var validPayoutStates = []PayoutState{
	PayoutStateQueued,
	PayoutStateCommitted,
	PayoutStateSettled,
	PayoutStateCancelled,
}

// IsValid reports whether the value matches the canonical payout state enum.
func (s PayoutState) IsValid() bool {
	for _, candidate := range validPayoutStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s PayoutState) IsTerminal() bool {
	return s == PayoutStateSettled || s == PayoutStateCancelled
}

// CanTransitionTo enforces the monotonic payout lifecycle: a payout is never
// un-committed and never un-cancelled.
func (s PayoutState) CanTransitionTo(next PayoutState) bool {
	switch s {
	case PayoutStateQueued:
		return next == PayoutStateCommitted || next == PayoutStateCancelled
	case PayoutStateCommitted:
		return next == PayoutStateSettled
	default:
		return false
	}
}

// ParsePayoutState converts raw input into PayoutState.
func ParsePayoutState(value string) (PayoutState, error) {
	for _, candidate := range validPayoutStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout state %q", value)
}
