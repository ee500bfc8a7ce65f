package clients

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/vitwit/capsulepay/types"
)

const (
	// -----------------------------
	// INTENT
	// -----------------------------
	ReasonInvalidAmount      = "invalid_amount"
	ReasonInvalidAddress     = "invalid_address"
	ReasonSenderMismatch     = "sender_mismatch"
	ReasonUnsupportedNetwork = "unsupported_network"

	// -----------------------------
	// CHECKPOINT / SIGNING
	// -----------------------------
	ReasonLedgerTransport     = "ledger_transport_error"
	ReasonTransferBuildFailed = "transfer_build_failed"
	ReasonUserRejected        = "user_rejected"
	ReasonSignerTransport     = "signer_transport_error"
	ReasonSigningFailed       = "signing_failed"

	// -----------------------------
	// BROADCAST / CONFIRMATION
	// -----------------------------
	ReasonBroadcastFailed      = "broadcast_failed"
	ReasonBroadcastNotObserved = "broadcast_not_observed"
	ReasonConfirmationTimeout  = "confirmation_timeout"
	ReasonConfirmationFailed   = "confirmation_failed"
	ReasonBlockHeightExceeded  = "block_height_exceeded"
	ReasonStatusUnavailable    = "status_unavailable"
)

var (
	ErrBlockHeightExceeded = errors.New(ReasonBlockHeightExceeded)
	ErrTransactionFailed   = errors.New("transaction failed on ledger")
	ErrSenderNotSigner     = errors.New("transfer sender is not the signer")
)

var (
	declinedMarkers = []string{
		"user rejected",
		"rejected by user",
		"user denied",
		"user declined",
		"user cancelled",
		"user canceled",
	}
	transportMarkers = []string{
		"channel closed",
		"message channel",
		"connection closed",
		"connection refused",
		"connection reset",
		"broken pipe",
		"disconnected",
	}
)

// Classify reports the failure kind of err. Structured kinds carried by
// *types.CapabilityError win; message matching is the last resort for
// opaque third-party errors.
func Classify(err error) types.FailureKind {
	if err == nil {
		return ""
	}

	var ce *types.CapabilityError
	if errors.As(err, &ce) && ce.Kind != "" {
		return ce.Kind
	}

	if errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return types.KindTransport
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return types.KindTransport
	}

	msg := strings.ToLower(err.Error())
	for _, m := range declinedMarkers {
		if strings.Contains(msg, m) {
			return types.KindAuthorizationDeclined
		}
	}
	for _, m := range transportMarkers {
		if strings.Contains(msg, m) {
			return types.KindTransport
		}
	}

	return types.KindUnknown
}

// ReasonCode strips the detail from a reason ("signing_failed: x" ->
// "signing_failed").
func ReasonCode(reason string) string {
	if i := strings.Index(reason, ":"); i >= 0 {
		return reason[:i]
	}
	return reason
}
