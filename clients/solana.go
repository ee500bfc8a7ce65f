package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	binary "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/vitwit/capsulepay/types"
)

// SolanaDecimals is the number of lamports per SOL as a power of ten.
const SolanaDecimals = 9

// SolanaChain builds native SOL transfers.
type SolanaChain struct{}

var _ Chain = SolanaChain{}

func (SolanaChain) Family() types.ChainFamily { return types.ChainSolana }

func (SolanaChain) Decimals() int32 { return SolanaDecimals }

func (SolanaChain) ParseAddress(address string) error {
	_, err := solana.PublicKeyFromBase58(address)
	return err
}

// NewTransfer lays out a single system transfer instruction with the sender
// as fee payer.
func (SolanaChain) NewTransfer(
	sender, recipient string,
	amount *big.Int,
	cp types.Checkpoint,
) (types.UnsignedTransfer, error) {
	from, err := solana.PublicKeyFromBase58(sender)
	if err != nil {
		return types.UnsignedTransfer{}, fmt.Errorf("invalid sender: %w", err)
	}
	to, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return types.UnsignedTransfer{}, fmt.Errorf("invalid recipient: %w", err)
	}
	if amount == nil || amount.Sign() <= 0 || !amount.IsUint64() {
		return types.UnsignedTransfer{}, fmt.Errorf("lamports out of range: %v", amount)
	}
	blockhash, err := solana.HashFromBase58(cp.Blockhash)
	if err != nil {
		return types.UnsignedTransfer{}, fmt.Errorf("invalid blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(amount.Uint64(), from, to).Build(),
		},
		blockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return types.UnsignedTransfer{}, fmt.Errorf("build transaction: %w", err)
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return types.UnsignedTransfer{}, fmt.Errorf("encode message: %w", err)
	}

	return types.UnsignedTransfer{
		Family:     types.ChainSolana,
		Sender:     from.String(),
		Recipient:  to.String(),
		Amount:     new(big.Int).Set(amount),
		Checkpoint: cp,
		Message:    msg,
	}, nil
}

// solanaRPC is the subset of *rpc.Client the ledger uses.
type solanaRPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	Close() error
}

// SolanaLedger talks to a Solana JSON-RPC endpoint.
type SolanaLedger struct {
	network      types.Network
	rpcURL       string
	client       solanaRPC
	maxRetries   uint
	pollInterval time.Duration
	commitment   rpc.CommitmentType
}

var _ Ledger = (*SolanaLedger)(nil)

// NewSolanaLedger creates a ledger on rpcURL. maxRetries is passed to the
// node as the broadcast retry budget.
func NewSolanaLedger(network types.Network, rpcURL string, maxRetries int, opts ...DialOption) (*SolanaLedger, error) {
	if !network.IsSolana() {
		return nil, &types.CapsuleError{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("network %s is not a Solana network", network),
		}
	}
	if rpcURL == "" {
		return nil, &types.CapsuleError{
			Code:    types.ErrInvalidConfig,
			Message: "solana rpc url is required",
		}
	}

	o := newDialOptions(opts)
	client := rpc.NewWithCustomRPCClient(jsonrpc.NewClientWithOpts(rpcURL, &jsonrpc.RPCClientOpts{
		HTTPClient:    o.httpClient(),
		CustomHeaders: o.headers,
	}))
	return newSolanaLedger(network, rpcURL, client, maxRetries), nil
}

func newSolanaLedger(network types.Network, rpcURL string, client solanaRPC, maxRetries int) *SolanaLedger {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &SolanaLedger{
		network:      network,
		rpcURL:       rpcURL,
		client:       client,
		maxRetries:   uint(maxRetries),
		pollInterval: 2 * time.Second,
		commitment:   rpc.CommitmentConfirmed,
	}
}

// SetPollInterval changes how often confirmation is polled.
func (s *SolanaLedger) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

func (s *SolanaLedger) Checkpoint(ctx context.Context, _ string) (types.Checkpoint, error) {
	res, err := s.client.GetLatestBlockhash(ctx, s.commitment)
	if err != nil {
		return types.Checkpoint{}, types.NewCapabilityError(types.KindTransport, "checkpoint", err)
	}
	if res == nil || res.Value == nil {
		return types.Checkpoint{}, types.NewCapabilityError(types.KindTransport, "checkpoint", errors.New("empty blockhash response"))
	}

	return types.Checkpoint{
		Blockhash:       res.Value.Blockhash.String(),
		LastValidHeight: res.Value.LastValidBlockHeight,
		FetchedAt:       time.Now(),
	}, nil
}

// Broadcast sends the signed transaction with preflight enabled. After a
// transport error the signature is looked up, since the node may have
// accepted the transaction before the connection failed.
func (s *SolanaLedger) Broadcast(ctx context.Context, transfer types.SignedTransfer) (string, error) {
	tx, err := solana.TransactionFromDecoder(binary.NewBinDecoder(transfer.Raw))
	if err != nil {
		return "", types.NewCapabilityError(types.KindBroadcastFailed, "broadcast", fmt.Errorf("tx decode failed: %w", err))
	}

	retries := s.maxRetries
	sig, err := s.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: s.commitment,
		MaxRetries:          &retries,
	})
	if err != nil {
		if Classify(err) == types.KindTransport && len(tx.Signatures) > 0 && s.landed(ctx, tx.Signatures[0]) {
			return tx.Signatures[0].String(), nil
		}
		return "", types.NewCapabilityError(types.KindBroadcastFailed, "broadcast", err)
	}

	return sig.String(), nil
}

// landed reports whether the ledger has any status for sig.
func (s *SolanaLedger) landed(ctx context.Context, sig solana.Signature) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), landedLookupTimeout)
	defer cancel()

	res, err := s.client.GetSignatureStatuses(ctx, true, sig)
	return err == nil && res != nil && len(res.Value) > 0 && res.Value[0] != nil
}

func (s *SolanaLedger) Status(ctx context.Context, ref string) (types.TxStatus, error) {
	sig, err := solana.SignatureFromBase58(ref)
	if err != nil {
		return types.TxStatusUnknown, fmt.Errorf("invalid signature %q: %w", ref, err)
	}

	res, err := s.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return types.TxStatusUnknown, types.NewCapabilityError(types.KindTransport, "status", err)
	}
	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return types.TxStatusUnknown, nil
	}

	return solanaStatus(res.Value[0]), nil
}

func solanaStatus(st *rpc.SignatureStatusesResult) types.TxStatus {
	if st.Err != nil {
		return types.TxStatusFailed
	}
	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		return types.TxStatusFinalized
	case rpc.ConfirmationStatusConfirmed:
		return types.TxStatusConfirmed
	default:
		return types.TxStatusProcessing
	}
}

// AwaitConfirmation polls the signature until it reaches the ledger's
// commitment, or until the blockhash expires.
func (s *SolanaLedger) AwaitConfirmation(ctx context.Context, ref string, cp types.Checkpoint) error {
	sig, err := solana.SignatureFromBase58(ref)
	if err != nil {
		return fmt.Errorf("invalid signature %q: %w", ref, err)
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		res, err := s.client.GetSignatureStatuses(ctx, false, sig)
		if err == nil && res != nil && len(res.Value) > 0 && res.Value[0] != nil {
			switch solanaStatus(res.Value[0]) {
			case types.TxStatusConfirmed, types.TxStatusFinalized:
				return nil
			case types.TxStatusFailed:
				return types.NewCapabilityError(types.KindBroadcastFailed, "confirm",
					fmt.Errorf("%w: %v", ErrTransactionFailed, res.Value[0].Err))
			}
		}

		if cp.LastValidHeight == 0 {
			continue
		}
		height, err := s.client.GetBlockHeight(ctx, s.commitment)
		if err == nil && height > cp.LastValidHeight {
			return ErrBlockHeightExceeded
		}
	}
}

func (s *SolanaLedger) Balance(ctx context.Context, address string) (*big.Int, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	res, err := s.client.GetBalance(ctx, pk, s.commitment)
	if err != nil {
		return nil, types.NewCapabilityError(types.KindTransport, "balance", err)
	}
	if res == nil {
		return nil, types.NewCapabilityError(types.KindTransport, "balance", errors.New("empty balance response"))
	}

	return new(big.Int).SetUint64(res.Value), nil
}

func (s *SolanaLedger) Close() {
	_ = s.client.Close()
}
