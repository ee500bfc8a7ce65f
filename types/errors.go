package types

import "fmt"

// FailureKind classifies why a capability call failed.
type FailureKind string

const (
	KindInvalidIntent         FailureKind = "invalid_intent"
	KindAuthorizationDeclined FailureKind = "authorization_declined"
	KindTransport             FailureKind = "transport_error"
	KindBroadcastFailed       FailureKind = "broadcast_failed"
	KindConfirmationTimeout   FailureKind = "confirmation_timeout"
	KindUnknown               FailureKind = "unknown"
)

// CapabilityError is returned by signers and ledgers that know why they
// failed. Op names the capability operation ("sign", "broadcast", ...).
type CapabilityError struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *CapabilityError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// NewCapabilityError wraps err with a failure kind.
func NewCapabilityError(kind FailureKind, op string, err error) *CapabilityError {
	return &CapabilityError{Kind: kind, Op: op, Err: err}
}

// Error types
type CapsuleError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e CapsuleError) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrInvalidConfig      = "INVALID_CONFIG"
	ErrUnsupportedNetwork = "UNSUPPORTED_NETWORK"
	ErrNetworkError       = "NETWORK_ERROR"
	ErrInvalidKey         = "INVALID_KEY"
)
