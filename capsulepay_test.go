package capsulepay

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/capsulepay/clients"
	"github.com/vitwit/capsulepay/types"
)

type stubLedger struct {
	balance *big.Int
	closed  bool
}

func (l *stubLedger) Checkpoint(context.Context, string) (types.Checkpoint, error) {
	return types.Checkpoint{Blockhash: solana.Hash{1}.String(), LastValidHeight: 10}, nil
}

func (l *stubLedger) Broadcast(_ context.Context, st types.SignedTransfer) (string, error) {
	return st.Reference, nil
}

func (l *stubLedger) Status(context.Context, string) (types.TxStatus, error) {
	return types.TxStatusProcessing, nil
}

func (l *stubLedger) AwaitConfirmation(context.Context, string, types.Checkpoint) error { return nil }

func (l *stubLedger) Balance(context.Context, string) (*big.Int, error) {
	if l.balance == nil {
		return nil, errors.New("connection refused")
	}
	return l.balance, nil
}

func (l *stubLedger) Close() { l.closed = true }

func newSigner(t *testing.T) *clients.SolanaKeySigner {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	s, err := clients.NewSolanaKeySigner(key)
	require.NoError(t, err)
	return s
}

func TestSubmitPaymentRoutesByNetwork(t *testing.T) {
	cp := NewWithDefaults(WithTimeout(time.Second))
	defer cp.Close()

	require.NoError(t, cp.AddLedger(types.NetworkSolanaDevnet, &stubLedger{}))

	signer := newSigner(t)
	res := cp.SubmitPayment(context.Background(), types.PaymentIntent{
		Recipient: newSigner(t).Identity(),
		Amount:    decimal.RequireFromString("0.22"),
		Network:   types.NetworkSolanaDevnet,
	}, signer)

	assert.Equal(t, types.OutcomeConfirmed, res.Outcome)
	assert.Equal(t, types.NetworkSolanaDevnet, res.Network)
	assert.NotEmpty(t, res.Reference)
	assert.Equal(t, "https://explorer.solana.com/tx/"+res.Reference+"?cluster=devnet", res.ExplorerURL)
}

func TestSubmitPaymentUnregisteredNetwork(t *testing.T) {
	cp := NewWithDefaults()

	res := cp.SubmitPayment(context.Background(), types.PaymentIntent{
		Recipient: newSigner(t).Identity(),
		Amount:    decimal.RequireFromString("1"),
		Network:   types.NetworkSolanaMainnet,
	}, newSigner(t))

	assert.Equal(t, types.OutcomeRejected, res.Outcome)
	assert.Equal(t, clients.ReasonUnsupportedNetwork, res.Reason)
	assert.Empty(t, res.ExplorerURL)
}

func TestAddLedgerUnknownNetwork(t *testing.T) {
	cp := NewWithDefaults()
	err := cp.AddLedger(types.Network("cosmoshub-4"), &stubLedger{})

	var ce *types.CapsuleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, types.ErrUnsupportedNetwork, ce.Code)
}

func TestAddLedgerReplacesAndCloses(t *testing.T) {
	cp := NewWithDefaults()
	first := &stubLedger{}
	second := &stubLedger{}

	require.NoError(t, cp.AddLedger(types.NetworkSolanaDevnet, first))
	require.NoError(t, cp.AddLedger(types.NetworkSolanaDevnet, second))

	assert.True(t, first.closed)
	assert.False(t, second.closed)

	cp.Close()
	assert.True(t, second.closed)
	assert.False(t, cp.IsNetworkSupported(types.NetworkSolanaDevnet))
}

func TestAddNetworkValidatesConfig(t *testing.T) {
	cp := NewWithDefaults()

	err := cp.AddNetwork(types.NetworkSolanaDevnet, types.ClientConfig{RPCUrl: "not a url"})
	var ce *types.CapsuleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, types.ErrInvalidConfig, ce.Code)

	require.NoError(t, cp.AddNetwork(types.NetworkSolanaDevnet, types.ClientConfig{RPCUrl: "https://api.devnet.solana.com"}))
	assert.True(t, cp.IsNetworkSupported(types.NetworkSolanaDevnet))
	cp.Close()
}

func TestBalance(t *testing.T) {
	cp := NewWithDefaults()
	require.NoError(t, cp.AddLedger(types.NetworkSolanaDevnet, &stubLedger{balance: big.NewInt(1_500_000_000)}))
	addr := newSigner(t).Identity()

	bal, err := cp.Balance(context.Background(), types.NetworkSolanaDevnet, addr)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.5").Equal(bal))

	_, err = cp.Balance(context.Background(), types.NetworkBase, addr)
	assert.Error(t, err)

	_, err = cp.Balance(context.Background(), types.NetworkSolanaDevnet, "0xabc")
	assert.Error(t, err)

	require.NoError(t, cp.AddLedger(types.NetworkSolanaMainnet, &stubLedger{}))
	_, err = cp.Balance(context.Background(), types.NetworkSolanaMainnet, addr)
	assert.Error(t, err)
}

func TestSupportedIsSorted(t *testing.T) {
	cp := NewWithDefaults()
	require.NoError(t, cp.AddLedger(types.NetworkSolanaMainnet, &stubLedger{}))
	require.NoError(t, cp.AddLedger(types.NetworkBase, &stubLedger{}))
	require.NoError(t, cp.AddLedger(types.NetworkMantle, &stubLedger{}))

	assert.Equal(t, []types.Network{types.NetworkBase, types.NetworkMantle, types.NetworkSolanaMainnet}, cp.Supported())
}

func TestVerifyUsesRegisteredLedger(t *testing.T) {
	cp := NewWithDefaults()
	defer cp.Close()
	require.NoError(t, cp.AddLedger(types.NetworkSolanaDevnet, &stubLedger{}))

	ref := solana.Signature{7, 7, 7}.String()
	res, err := cp.Verify(context.Background(), &types.VerifyRequest{Network: types.NetworkSolanaDevnet, Reference: ref})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, types.TxStatusProcessing, res.Status)

	_, err = cp.BatchVerify(context.Background(), nil)
	assert.Error(t, err)

	cp.Close()
	res, err = cp.Verify(context.Background(), &types.VerifyRequest{Network: types.NetworkSolanaDevnet, Reference: ref})
	require.NoError(t, err)
	assert.Contains(t, res.Error, "no ledger configured")
}

func TestGetVersion(t *testing.T) {
	v := GetVersion()
	assert.Equal(t, Version, v["library_version"])
	assert.Contains(t, v["supported_networks"], string(types.NetworkMantleSepolia))
}
