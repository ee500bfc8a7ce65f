package settlement

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/capsulepay/clients"
	"github.com/vitwit/capsulepay/types"
)

const testRef = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"

type fakeSigner struct {
	mu       sync.Mutex
	identity string
	err      error
	calls    int
	last     types.UnsignedTransfer
}

func (f *fakeSigner) Identity() string { return f.identity }

func (f *fakeSigner) Sign(_ context.Context, t types.UnsignedTransfer) (types.SignedTransfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = t
	if f.err != nil {
		return types.SignedTransfer{}, f.err
	}
	return types.SignedTransfer{Family: t.Family, Raw: []byte("signed"), Reference: testRef}, nil
}

func (f *fakeSigner) signCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLedger struct {
	mu sync.Mutex

	checkpointErr error
	checkpoint    *types.Checkpoint
	broadcastErr  error
	broadcastHook func()
	await         func(ctx context.Context) error
	status        types.TxStatus
	statusErr     error

	checkpoints int
	broadcasts  int
	awaits      int
	statuses    int
}

func (f *fakeLedger) Checkpoint(context.Context, string) (types.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpoints++
	if f.checkpointErr != nil {
		return types.Checkpoint{}, f.checkpointErr
	}
	if f.checkpoint != nil {
		return *f.checkpoint, nil
	}
	return types.Checkpoint{
		Blockhash:       solana.Hash{1, 2, 3, 4}.String(),
		LastValidHeight: 1000,
		ChainID:         big.NewInt(5000),
		GasPrice:        big.NewInt(20_000_000),
		FetchedAt:       time.Now(),
	}, nil
}

func (f *fakeLedger) Broadcast(_ context.Context, st types.SignedTransfer) (string, error) {
	f.mu.Lock()
	f.broadcasts++
	hook := f.broadcastHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if f.broadcastErr != nil {
		return "", f.broadcastErr
	}
	return st.Reference, nil
}

func (f *fakeLedger) Status(context.Context, string) (types.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses++
	return f.status, f.statusErr
}

func (f *fakeLedger) AwaitConfirmation(ctx context.Context, _ string, _ types.Checkpoint) error {
	f.mu.Lock()
	f.awaits++
	await := f.await
	f.mu.Unlock()
	if await == nil {
		return nil
	}
	return await(ctx)
}

func (f *fakeLedger) Balance(context.Context, string) (*big.Int, error) { return big.NewInt(0), nil }

func (f *fakeLedger) Close() {}

func (f *fakeLedger) counts() (checkpoints, broadcasts, awaits, statuses int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkpoints, f.broadcasts, f.awaits, f.statuses
}

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

type recordedMetric struct {
	name   string
	labels map[string]string
}

type fakeRecorder struct {
	mu       sync.Mutex
	counters []recordedMetric
	latency  []recordedMetric
}

func (r *fakeRecorder) IncCounter(name string, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = append(r.counters, recordedMetric{name, labels})
}

func (r *fakeRecorder) ObserveLatency(name string, _ time.Duration, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latency = append(r.latency, recordedMetric{name, labels})
}

func newKey(t *testing.T) solana.PublicKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key.PublicKey()
}

func setup(t *testing.T, timeout time.Duration) (*Submitter, *fakeSigner, *fakeLedger, string) {
	t.Helper()
	cfg := types.DefaultConfig()
	cfg.ConfirmationTimeout = timeout
	cfg.StatusTimeout = time.Second

	s := NewSubmitter(clients.SolanaChain{}, cfg, WithNetwork(types.NetworkSolanaDevnet))
	signer := &fakeSigner{identity: newKey(t).String()}
	return s, signer, &fakeLedger{}, newKey(t).String()
}

func intent(recipient, amount string) types.PaymentIntent {
	return types.PaymentIntent{Recipient: recipient, Amount: decimal.RequireFromString(amount)}
}

func TestSubmitConfirmed(t *testing.T) {
	s, signer, ledger, recipient := setup(t, time.Second)

	res := s.Submit(context.Background(), intent(recipient, "0.22"), signer, ledger)

	assert.Equal(t, types.Confirmed(testRef), res)
	assert.True(t, res.IsPaid())
	assert.Equal(t, "220000000", signer.last.Amount.String())
	assert.Equal(t, signer.identity, signer.last.Sender)

	_, broadcasts, awaits, statuses := ledger.counts()
	assert.Equal(t, 1, broadcasts)
	assert.Equal(t, 1, awaits)
	assert.Equal(t, 0, statuses)
}

func TestSubmitTimeoutProcessingIsSubmitted(t *testing.T) {
	s, signer, ledger, recipient := setup(t, 50*time.Millisecond)
	ledger.await = blockUntilDone
	ledger.status = types.TxStatusProcessing

	start := time.Now()
	res := s.Submit(context.Background(), intent(recipient, "0.1"), signer, ledger)

	assert.Equal(t, types.OutcomeSubmitted, res.Outcome)
	assert.Equal(t, testRef, res.Reference)
	assert.Equal(t, clients.ReasonConfirmationTimeout, res.Reason)
	assert.True(t, res.IsPaid())
	assert.Less(t, time.Since(start), 2*time.Second)

	_, broadcasts, _, statuses := ledger.counts()
	assert.Equal(t, 1, broadcasts)
	assert.Equal(t, 1, statuses)
}

func TestSubmitTimeoutFailedStatusIsStillSubmitted(t *testing.T) {
	s, signer, ledger, recipient := setup(t, 20*time.Millisecond)
	ledger.await = blockUntilDone
	ledger.status = types.TxStatusFailed

	res := s.Submit(context.Background(), intent(recipient, "0.1"), signer, ledger)

	assert.Equal(t, types.OutcomeSubmitted, res.Outcome)
	assert.Equal(t, testRef, res.Reference)
}

func TestSubmitTimeoutUnknownStatusIsNotObserved(t *testing.T) {
	s, signer, ledger, recipient := setup(t, 20*time.Millisecond)
	ledger.await = blockUntilDone
	ledger.status = types.TxStatusUnknown

	res := s.Submit(context.Background(), intent(recipient, "0.1"), signer, ledger)

	assert.Equal(t, types.OutcomeRejected, res.Outcome)
	assert.Equal(t, clients.ReasonBroadcastNotObserved, res.Reason)
	assert.Equal(t, testRef, res.Reference)
	assert.False(t, res.IsPaid())
}

func TestSubmitStatusErrorKeepsReference(t *testing.T) {
	s, signer, ledger, recipient := setup(t, 20*time.Millisecond)
	ledger.await = blockUntilDone
	ledger.statusErr = errors.New("connection reset by peer")

	res := s.Submit(context.Background(), intent(recipient, "0.1"), signer, ledger)

	assert.Equal(t, types.OutcomeSubmitted, res.Outcome)
	assert.Equal(t, testRef, res.Reference)
	assert.Equal(t, clients.ReasonStatusUnavailable, res.Reason)
}

func TestSubmitConfirmationErrorFallsBackToStatus(t *testing.T) {
	s, signer, ledger, recipient := setup(t, time.Second)
	ledger.await = func(context.Context) error { return clients.ErrBlockHeightExceeded }
	ledger.status = types.TxStatusProcessing

	res := s.Submit(context.Background(), intent(recipient, "0.1"), signer, ledger)

	assert.Equal(t, types.OutcomeSubmitted, res.Outcome)
	assert.Equal(t, testRef, res.Reference)
	assert.True(t, strings.HasPrefix(res.Reason, clients.ReasonConfirmationFailed))
	assert.Contains(t, res.Reason, clients.ReasonBlockHeightExceeded)
}

func TestSubmitRejectsBeforeAnyCapabilityCall(t *testing.T) {
	tests := []struct {
		name      string
		recipient func(valid string) string
		amount    string
		reason    string
	}{
		{"negative amount", nil, "-1", clients.ReasonInvalidAmount},
		{"zero amount", nil, "0", clients.ReasonInvalidAmount},
		{"excess precision", nil, "0.0000000001", clients.ReasonInvalidAmount},
		{"bad recipient", func(string) string { return "not-a-key" }, "0.1", clients.ReasonInvalidAddress},
		{"empty recipient", func(string) string { return "" }, "0.1", clients.ReasonInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, signer, ledger, recipient := setup(t, time.Second)
			if tt.recipient != nil {
				recipient = tt.recipient(recipient)
			}

			res := s.Submit(context.Background(), intent(recipient, tt.amount), signer, ledger)

			assert.Equal(t, types.Rejected(tt.reason), res)
			checkpoints, broadcasts, awaits, statuses := ledger.counts()
			assert.Zero(t, checkpoints+broadcasts+awaits+statuses)
			assert.Zero(t, signer.signCalls())
		})
	}
}

func TestSubmitSenderMismatch(t *testing.T) {
	s, signer, ledger, recipient := setup(t, time.Second)
	in := intent(recipient, "0.1")
	in.Sender = newKey(t).String()

	res := s.Submit(context.Background(), in, signer, ledger)

	assert.Equal(t, types.Rejected(clients.ReasonSenderMismatch), res)
	assert.Zero(t, signer.signCalls())
}

func TestSubmitCheckpointFailure(t *testing.T) {
	s, signer, ledger, recipient := setup(t, time.Second)
	ledger.checkpointErr = types.NewCapabilityError(types.KindTransport, "checkpoint", errors.New("dial tcp: i/o timeout"))

	res := s.Submit(context.Background(), intent(recipient, "0.1"), signer, ledger)

	assert.Equal(t, types.Rejected(clients.ReasonLedgerTransport), res)
	assert.Zero(t, signer.signCalls())
}

func TestSubmitIncompleteCheckpoint(t *testing.T) {
	signer, err := clients.NewEVMKeySignerFromHex("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)

	s := NewSubmitter(clients.EVMChain{}, types.DefaultConfig(), WithNetwork(types.NetworkMantleSepolia))
	ledger := &fakeLedger{checkpoint: &types.Checkpoint{Nonce: 3, GasPrice: big.NewInt(1)}}

	res := s.Submit(context.Background(), intent("0x70997970C51812dc3A010C7d01b50e0d17dc79C8", "0.5"), signer, ledger)

	assert.Equal(t, types.Rejected(clients.ReasonTransferBuildFailed), res)
	checkpoints, broadcasts, _, _ := ledger.counts()
	assert.Equal(t, 1, checkpoints)
	assert.Zero(t, broadcasts)
}

func TestSubmitSigningFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"declined by user", errors.New("User rejected the request."), clients.ReasonUserRejected},
		{"declined kind", types.NewCapabilityError(types.KindAuthorizationDeclined, "sign", nil), clients.ReasonUserRejected},
		{"wallet channel closed", errors.New("message channel closed before a response was received"), clients.ReasonSignerTransport},
		{"transport kind", types.NewCapabilityError(types.KindTransport, "sign", context.Canceled), clients.ReasonSignerTransport},
		{"other", errors.New("ledger device locked"), "signing_failed: ledger device locked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, signer, ledger, recipient := setup(t, time.Second)
			signer.err = tt.err

			res := s.Submit(context.Background(), intent(recipient, "0.1"), signer, ledger)

			assert.Equal(t, types.Rejected(tt.reason), res)
			_, broadcasts, _, _ := ledger.counts()
			assert.Zero(t, broadcasts)
		})
	}
}

func TestSubmitBroadcastFailure(t *testing.T) {
	s, signer, ledger, recipient := setup(t, time.Second)
	ledger.broadcastErr = errors.New("Transaction simulation failed: insufficient lamports")

	res := s.Submit(context.Background(), intent(recipient, "0.1"), signer, ledger)

	assert.Equal(t, types.Rejected(clients.ReasonBroadcastFailed), res)
	_, broadcasts, awaits, statuses := ledger.counts()
	assert.Equal(t, 1, broadcasts)
	assert.Zero(t, awaits)
	assert.Zero(t, statuses)
}

func TestSubmitCallerCancelAfterBroadcast(t *testing.T) {
	s, signer, ledger, recipient := setup(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	ledger.broadcastHook = cancel
	ledger.await = func(ctx context.Context) error { return ctx.Err() }

	res := s.Submit(ctx, intent(recipient, "0.1"), signer, ledger)

	assert.Equal(t, types.Confirmed(testRef), res)
}

func TestSubmitRecordsMetrics(t *testing.T) {
	rec := &fakeRecorder{}
	cfg := types.DefaultConfig()
	s := NewSubmitter(clients.SolanaChain{}, cfg, WithNetwork(types.NetworkSolanaDevnet), WithMetrics(rec))
	signer := &fakeSigner{identity: newKey(t).String(), err: errors.New("hardware wallet unplugged")}

	res := s.Submit(context.Background(), intent(newKey(t).String(), "0.1"), signer, &fakeLedger{})
	require.Equal(t, types.OutcomeRejected, res.Outcome)

	require.Len(t, rec.counters, 1)
	assert.Equal(t, "payment_outcome", rec.counters[0].name)
	assert.Equal(t, "rejected", rec.counters[0].labels["outcome"])
	assert.Equal(t, clients.ReasonSigningFailed, rec.counters[0].labels["reason"])
	assert.Equal(t, "solana-devnet", rec.counters[0].labels["network"])
}

func TestSubmitEVMTransfer(t *testing.T) {
	signer, err := clients.NewEVMKeySignerFromHex("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)

	s := NewSubmitter(clients.EVMChain{}, types.DefaultConfig(), WithNetwork(types.NetworkMantleSepolia))
	ledger := &fakeLedger{}
	in := types.PaymentIntent{
		Sender:    strings.ToLower(signer.Identity()),
		Recipient: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		Amount:    decimal.RequireFromString("0.5"),
	}

	res := s.Submit(context.Background(), in, signer, ledger)

	assert.Equal(t, types.OutcomeConfirmed, res.Outcome)
	assert.Regexp(t, "^0x[0-9a-f]{64}$", res.Reference)
}
