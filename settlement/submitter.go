// Package settlement implements payment submission: validate an intent,
// build and sign a native transfer, broadcast it and confirm it, degrading
// to a submitted-but-unconfirmed result rather than losing the reference.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/vitwit/capsulepay/clients"
	"github.com/vitwit/capsulepay/logger"
	"github.com/vitwit/capsulepay/metrics"
	"github.com/vitwit/capsulepay/types"
	"github.com/vitwit/capsulepay/utils"
)

// Submitter submits payments on one chain family. It holds no per-call
// state; signer and ledger are borrowed for the duration of Submit.
type Submitter struct {
	chain   clients.Chain
	config  types.Config
	network types.Network
	logger  logger.Logger
	metrics metrics.Recorder
}

type Option func(*Submitter)

func WithLogger(l logger.Logger) Option {
	return func(s *Submitter) {
		s.logger = logger.OrNoop(l)
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Submitter) {
		s.metrics = metrics.OrNoop(r)
	}
}

// WithNetwork labels logs and metrics with the network name.
func WithNetwork(n types.Network) Option {
	return func(s *Submitter) {
		s.network = n
	}
}

// NewSubmitter creates a submitter for chain. Zero tunables in cfg take the
// protocol defaults.
func NewSubmitter(chain clients.Chain, cfg types.Config, opts ...Option) *Submitter {
	s := &Submitter{
		chain:   chain,
		config:  cfg.WithDefaults(),
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit runs the payment protocol. It never returns an error: every
// failure is a Rejected result, and once the ledger has accepted the
// broadcast every result carries the reference.
func (s *Submitter) Submit(
	ctx context.Context,
	intent types.PaymentIntent,
	signer clients.Signer,
	ledger clients.Ledger,
) types.PaymentResult {
	start := time.Now()
	attempt := uuid.NewString()
	fields := map[string]any{
		"attempt":   attempt,
		"network":   s.network.String(),
		"recipient": intent.Recipient,
		"amount":    intent.Amount.String(),
	}

	result := s.submit(ctx, intent, signer, ledger, fields)

	s.record(result, time.Since(start))
	fields["outcome"] = string(result.Outcome)
	fields["reference"] = result.Reference
	fields["reason"] = result.Reason
	switch result.Outcome {
	case types.OutcomeConfirmed:
		s.logger.Info("payment confirmed", fields)
	case types.OutcomeSubmitted:
		s.logger.Warn("payment submitted but not confirmed", fields)
	default:
		s.logger.Info("payment rejected", fields)
	}

	return result
}

func (s *Submitter) submit(
	ctx context.Context,
	intent types.PaymentIntent,
	signer clients.Signer,
	ledger clients.Ledger,
	fields map[string]any,
) types.PaymentResult {
	// 1. Validate with zero side effects.
	minor, reason := s.validate(intent, signer)
	if reason != "" {
		return types.Rejected(reason)
	}
	sender := signer.Identity()

	// 2. Checkpoint and unsigned transfer.
	cp, err := ledger.Checkpoint(ctx, sender)
	if err != nil {
		s.logger.Debug("checkpoint fetch failed", with(fields, "error", err))
		return types.Rejected(clients.ReasonLedgerTransport)
	}

	unsigned, err := s.chain.NewTransfer(sender, intent.Recipient, minor, cp)
	if err != nil {
		s.logger.Warn("transfer build failed", with(fields, "error", err))
		return types.Rejected(clients.ReasonTransferBuildFailed)
	}

	// 3. Authorization.
	signed, err := signer.Sign(ctx, unsigned)
	if err != nil {
		s.logger.Debug("signing failed", with(fields, "error", err))
		return types.Rejected(signingReason(err))
	}

	// 4. Broadcast. Past this point the transfer may be irreversible.
	ref, err := ledger.Broadcast(ctx, signed)
	if err != nil || ref == "" {
		s.logger.Debug("broadcast failed", with(fields, "error", err))
		return types.Rejected(clients.ReasonBroadcastFailed)
	}
	fields["reference"] = ref
	s.logger.Debug("transfer broadcast", fields)

	return s.resolve(context.WithoutCancel(ctx), ref, cp, ledger, fields)
}

func (s *Submitter) validate(intent types.PaymentIntent, signer clients.Signer) (minor *big.Int, reason string) {
	if !intent.Amount.IsPositive() {
		return nil, clients.ReasonInvalidAmount
	}
	if err := s.chain.ParseAddress(intent.Recipient); err != nil {
		return nil, clients.ReasonInvalidAddress
	}

	minor, err := utils.ToMinorUnits(intent.Amount, s.chain.Decimals())
	if err != nil {
		return nil, clients.ReasonInvalidAmount
	}

	if intent.Sender != "" && !clients.SameAccount(s.chain.Family(), intent.Sender, signer.Identity()) {
		return nil, clients.ReasonSenderMismatch
	}
	return minor, ""
}

// resolve races confirmation against the timeout and falls back to one
// status query. ctx must already be detached from caller cancellation.
func (s *Submitter) resolve(
	ctx context.Context,
	ref string,
	cp types.Checkpoint,
	ledger clients.Ledger,
	fields map[string]any,
) types.PaymentResult {
	waitStart := time.Now()
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	confirmed := make(chan error, 1)
	go func() {
		confirmed <- ledger.AwaitConfirmation(waitCtx, ref, cp)
	}()

	timer := time.NewTimer(s.config.ConfirmationTimeout)
	defer timer.Stop()

	var diagnostic string
	select {
	case err := <-confirmed:
		s.metrics.ObserveLatency(metrics.ConfirmationWait, time.Since(waitStart), s.labels())
		if err == nil {
			return types.Confirmed(ref)
		}
		diagnostic = fmt.Sprintf("%s: %v", clients.ReasonConfirmationFailed, err)
		s.logger.Debug("confirmation did not succeed", with(fields, "error", err))
	case <-timer.C:
		cancel()
		diagnostic = clients.ReasonConfirmationTimeout
		s.logger.Debug("confirmation timed out", with(fields, "timeout", s.config.ConfirmationTimeout.String()))
	}

	statusCtx, statusCancel := context.WithTimeout(ctx, s.config.StatusTimeout)
	defer statusCancel()

	status, err := ledger.Status(statusCtx, ref)
	if err != nil {
		s.logger.Warn("status query failed, keeping reference", with(fields, "error", err))
		res := types.Submitted(ref)
		res.Reason = clients.ReasonStatusUnavailable
		return res
	}

	if !status.Known() {
		res := types.Rejected(clients.ReasonBroadcastNotObserved)
		res.Reference = ref
		return res
	}

	res := types.Submitted(ref)
	res.Reason = diagnostic
	return res
}

func signingReason(err error) string {
	switch clients.Classify(err) {
	case types.KindAuthorizationDeclined:
		return clients.ReasonUserRejected
	case types.KindTransport:
		return clients.ReasonSignerTransport
	default:
		return fmt.Sprintf("%s: %s", clients.ReasonSigningFailed, signingDetail(err))
	}
}

func signingDetail(err error) string {
	var ce *types.CapabilityError
	if errors.As(err, &ce) && ce.Err != nil {
		return ce.Err.Error()
	}
	return err.Error()
}

func (s *Submitter) record(res types.PaymentResult, d time.Duration) {
	labels := s.labels()
	labels["outcome"] = string(res.Outcome)
	labels["reason"] = clients.ReasonCode(res.Reason)
	s.metrics.IncCounter(metrics.PaymentOutcome, labels)
	s.metrics.ObserveLatency(metrics.SubmitPayment, d, s.labels())
}

func (s *Submitter) labels() map[string]string {
	return map[string]string{
		"network": s.network.String(),
		"family":  string(s.chain.Family()),
	}
}

func with(fields map[string]any, k string, v any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for fk, fv := range fields {
		out[fk] = fv
	}
	out[k] = v
	return out
}
