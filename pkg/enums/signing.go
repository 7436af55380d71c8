package enums

import "fmt"

// SigningSessionState is derived by folding a session's event log; it is
// never stored directly.
type SigningSessionState string

const (
	SigningSessionStateUnsigned  SigningSessionState = "unsigned"
	SigningSessionStateAwaiting  SigningSessionState = "awaiting_signature"
	SigningSessionStateSigned    SigningSessionState = "signed"
	SigningSessionStateFailed    SigningSessionState = "failed"
)

// IsTerminal reports whether the session can make no further progress.
func (s SigningSessionState) IsTerminal() bool {
	return s == SigningSessionStateSigned || s == SigningSessionStateFailed
}

// SigningEventType maps to the signing_event_type_enum enum in Postgres.
type SigningEventType string

const (
	SigningEventInitialized       SigningEventType = "initialized"
	SigningEventSignatureRequested SigningEventType = "signature_requested"
	SigningEventSignatureReceived  SigningEventType = "signature_received"
	SigningEventValidationFailed   SigningEventType = "validation_failed"
	SigningEventCompleted          SigningEventType = "completed"
)

var validSigningEventTypes = []SigningEventType{
	SigningEventInitialized,
	SigningEventSignatureRequested,
	SigningEventSignatureReceived,
	SigningEventValidationFailed,
	SigningEventCompleted,
}

// IsValid reports whether the value matches the canonical signing event enum.
func (t SigningEventType) IsValid() bool {
	for _, candidate := range validSigningEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseSigningEventType converts raw input into SigningEventType.
func ParseSigningEventType(value string) (SigningEventType, error) {
	for _, candidate := range validSigningEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid signing event type %q", value)
}
