package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentIntent is a user-authorized request to move Amount of the native
// unit of Network from the signer's account to Recipient.
type PaymentIntent struct {
	// Sender is the principal the caller expects to sign. Optional; when set
	// it must match the signer identity.
	Sender string `json:"sender,omitempty"`

	// Recipient is the destination address in the chain's native encoding.
	Recipient string `json:"recipient" validate:"required"`

	// Amount in the chain's native unit (SOL, MNT, ETH...).
	Amount decimal.Decimal `json:"amount"`

	// Network selects the chain when the intent is routed through the facade.
	Network Network `json:"network,omitempty"`
}

// Outcome tags a PaymentResult.
type Outcome string

const (
	// OutcomeConfirmed means the transfer was accepted and observed on-ledger.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeSubmitted means the transfer was broadcast but confirmation was
	// not observed in time. The reference is still a valid payment proof.
	OutcomeSubmitted Outcome = "submitted"
	// OutcomeRejected means the transfer never reached the ledger.
	OutcomeRejected Outcome = "rejected"
)

// PaymentResult is the outcome of a payment submission.
type PaymentResult struct {
	Outcome Outcome `json:"outcome"`

	// Reference is the chain-native transaction id. It is set on every
	// outcome once the ledger accepted the broadcast.
	Reference string `json:"reference,omitempty"`

	// Reason explains a rejection. On submitted results it may carry a
	// diagnostic such as "confirmation_timeout".
	Reason string `json:"reason,omitempty"`

	Network     Network `json:"network,omitempty"`
	ExplorerURL string  `json:"explorerUrl,omitempty"`
}

func Confirmed(reference string) PaymentResult {
	return PaymentResult{Outcome: OutcomeConfirmed, Reference: reference}
}

func Submitted(reference string) PaymentResult {
	return PaymentResult{Outcome: OutcomeSubmitted, Reference: reference}
}

func Rejected(reason string) PaymentResult {
	return PaymentResult{Outcome: OutcomeRejected, Reason: reason}
}

// IsPaid reports whether the result can be used as proof of payment.
func (r PaymentResult) IsPaid() bool {
	return r.Outcome == OutcomeConfirmed || r.Outcome == OutcomeSubmitted
}

func (r PaymentResult) String() string {
	switch {
	case r.Reference != "" && r.Reason != "":
		return fmt.Sprintf("%s{%s} (%s)", r.Outcome, r.Reference, r.Reason)
	case r.Reference != "":
		return fmt.Sprintf("%s{%s}", r.Outcome, r.Reference)
	default:
		return fmt.Sprintf("%s{%s}", r.Outcome, r.Reason)
	}
}

// Checkpoint is a chain-specific freshness token needed to build a valid,
// non-replayable transfer.
type Checkpoint struct {
	// Solana: recent blockhash and the last block height it is valid for.
	Blockhash       string `json:"blockhash,omitempty"`
	LastValidHeight uint64 `json:"lastValidHeight,omitempty"`

	// EVM: chain id, pending nonce of the sender and gas price.
	ChainID  *big.Int `json:"chainId,omitempty"`
	Nonce    uint64   `json:"nonce,omitempty"`
	GasPrice *big.Int `json:"gasPrice,omitempty"`

	FetchedAt time.Time `json:"fetchedAt"`
}

// UnsignedTransfer describes a native transfer ready to be signed.
type UnsignedTransfer struct {
	Family     ChainFamily `json:"family"`
	Sender     string      `json:"sender"`
	Recipient  string      `json:"recipient"`
	Amount     *big.Int    `json:"amount"` // minor units
	Checkpoint Checkpoint  `json:"checkpoint"`

	// Message is the chain-encoded unsigned payload (Solana message bytes,
	// RLP of the unsigned EVM transaction).
	Message []byte `json:"message"`
}

// SignedTransfer is an authorized transfer ready for broadcast.
type SignedTransfer struct {
	Family ChainFamily `json:"family"`
	Raw    []byte      `json:"raw"`

	// Reference is the transaction id the ledger will assign on broadcast.
	Reference string `json:"reference"`
}

// TxStatus is the ledger's view of a transaction.
type TxStatus string

const (
	TxStatusUnknown    TxStatus = "unknown"
	TxStatusProcessing TxStatus = "processing"
	TxStatusConfirmed  TxStatus = "confirmed"
	TxStatusFinalized  TxStatus = "finalized"
	TxStatusFailed     TxStatus = "failed"
)

// Known reports whether the ledger has seen the transaction at all.
func (s TxStatus) Known() bool {
	return s != "" && s != TxStatusUnknown
}

// ClientConfig contains configuration for blockchain clients
type ClientConfig struct {
	Network    Network           `json:"network" yaml:"network" validate:"required"`
	RPCUrl     string            `json:"rpcUrl" yaml:"rpc_url" validate:"required,url"`
	KeyFile    string            `json:"keyFile,omitempty" yaml:"key_file,omitempty"`
	Timeout    time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RetryCount int               `json:"retryCount,omitempty" yaml:"retry_count,omitempty" validate:"gte=0"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// StakingConfig locates the staking pool destination. Both fields empty
// leaves the pool unresolved.
type StakingConfig struct {
	ProgramID   string `json:"programId,omitempty" yaml:"program_id,omitempty"`
	PoolAddress string `json:"poolAddress,omitempty" yaml:"pool_address,omitempty"`
}

// BackendConfig locates the capsule marketplace API.
type BackendConfig struct {
	URL   string `json:"url,omitempty" yaml:"url,omitempty" validate:"omitempty,url"`
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
}

// Config contains global configuration for capsulepay
type Config struct {
	// ConfirmationTimeout bounds the wait for on-ledger confirmation.
	ConfirmationTimeout time.Duration `json:"confirmationTimeout,omitempty" yaml:"confirmation_timeout" validate:"gt=0"`

	// StatusTimeout bounds the single status query issued after a
	// confirmation timeout.
	StatusTimeout time.Duration `json:"statusTimeout,omitempty" yaml:"status_timeout" validate:"gt=0"`

	// BroadcastRetries is handed to the ledger transport; the submitter
	// never re-broadcasts itself.
	BroadcastRetries int `json:"broadcastRetries,omitempty" yaml:"broadcast_retries" validate:"gte=0,lte=20"`

	Networks      []ClientConfig `json:"networks,omitempty" yaml:"networks,omitempty" validate:"dive"`
	Staking       StakingConfig  `json:"staking,omitempty" yaml:"staking,omitempty"`
	Backend       BackendConfig  `json:"backend,omitempty" yaml:"backend,omitempty"`
	LogLevel      string         `json:"logLevel,omitempty" yaml:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	EnableMetrics bool           `json:"enableMetrics,omitempty" yaml:"enable_metrics,omitempty"`
	MetricsAddr   string         `json:"metricsAddr,omitempty" yaml:"metrics_addr,omitempty"`
}

const (
	DefaultConfirmationTimeout = 30 * time.Second
	DefaultStatusTimeout       = 10 * time.Second
	DefaultBroadcastRetries    = 3
)

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		ConfirmationTimeout: DefaultConfirmationTimeout,
		StatusTimeout:       DefaultStatusTimeout,
		BroadcastRetries:    DefaultBroadcastRetries,
		LogLevel:            "info",
	}
}

// WithDefaults fills zero-valued tunables.
func (c Config) WithDefaults() Config {
	if c.ConfirmationTimeout <= 0 {
		c.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if c.StatusTimeout <= 0 {
		c.StatusTimeout = DefaultStatusTimeout
	}
	if c.BroadcastRetries <= 0 {
		c.BroadcastRetries = DefaultBroadcastRetries
	}
	return c
}

// VerifyRequest asks whether a payment reference landed on a network.
type VerifyRequest struct {
	Network   Network `json:"network" validate:"required"`
	Reference string  `json:"reference" validate:"required"`
}

// VerificationResult is the ledger's view of a payment reference. Valid is
// true only once the transfer is confirmed or finalized.
type VerificationResult struct {
	Valid     bool     `json:"valid"`
	Reference string   `json:"reference,omitempty"`
	Status    TxStatus `json:"status,omitempty"`
	Error     string   `json:"error,omitempty"`
}
