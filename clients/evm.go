package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/vitwit/capsulepay/types"
)

const (
	// EVMDecimals is wei per native unit as a power of ten.
	EVMDecimals = 18

	// NativeTransferGas is the intrinsic gas of a plain value transfer.
	NativeTransferGas = 21000

	landedLookupTimeout = 10 * time.Second
)

// EVMChain builds native value transfers for EVM networks.
type EVMChain struct{}

var _ Chain = EVMChain{}

func (EVMChain) Family() types.ChainFamily { return types.ChainEVM }

func (EVMChain) Decimals() int32 { return EVMDecimals }

func (EVMChain) ParseAddress(address string) error {
	if !common.IsHexAddress(address) || !strings.HasPrefix(address, "0x") {
		return fmt.Errorf("invalid EVM address %q", address)
	}
	return nil
}

// NewTransfer encodes an unsigned legacy transaction.
func (c EVMChain) NewTransfer(
	sender, recipient string,
	amount *big.Int,
	cp types.Checkpoint,
) (types.UnsignedTransfer, error) {
	if err := c.ParseAddress(sender); err != nil {
		return types.UnsignedTransfer{}, fmt.Errorf("invalid sender: %w", err)
	}
	if err := c.ParseAddress(recipient); err != nil {
		return types.UnsignedTransfer{}, fmt.Errorf("invalid recipient: %w", err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return types.UnsignedTransfer{}, fmt.Errorf("wei out of range: %v", amount)
	}
	if cp.ChainID == nil || cp.GasPrice == nil {
		return types.UnsignedTransfer{}, errors.New("checkpoint is missing chain id or gas price")
	}

	to := common.HexToAddress(recipient)
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    cp.Nonce,
		To:       &to,
		Value:    new(big.Int).Set(amount),
		Gas:      NativeTransferGas,
		GasPrice: new(big.Int).Set(cp.GasPrice),
	})

	msg, err := tx.MarshalBinary()
	if err != nil {
		return types.UnsignedTransfer{}, fmt.Errorf("encode transaction: %w", err)
	}

	return types.UnsignedTransfer{
		Family:     types.ChainEVM,
		Sender:     common.HexToAddress(sender).Hex(),
		Recipient:  to.Hex(),
		Amount:     new(big.Int).Set(amount),
		Checkpoint: cp,
		Message:    msg,
	}, nil
}

// evmRPC is the subset of *ethclient.Client the ledger uses.
type evmRPC interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Close()
}

// EVMLedger talks to an EVM JSON-RPC endpoint.
type EVMLedger struct {
	network      types.Network
	rpcURL       string
	eth          evmRPC
	retries      int
	retryBackoff time.Duration
	pollInterval time.Duration
}

var _ Ledger = (*EVMLedger)(nil)

// NewEVMLedger dials rpcURL. Broadcasts are retried up to retries times on
// transport errors.
func NewEVMLedger(network types.Network, rpcURL string, retries int, opts ...DialOption) (*EVMLedger, error) {
	if !network.IsEVM() {
		return nil, &types.CapsuleError{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("network %s is not an EVM network", network),
		}
	}

	o := newDialOptions(opts)
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	c, err := gethrpc.DialOptions(ctx, rpcURL,
		gethrpc.WithHTTPClient(o.httpClient()),
		gethrpc.WithHeaders(o.httpHeader()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to EVM RPC: %w", err)
	}

	return newEVMLedger(network, rpcURL, ethclient.NewClient(c), retries), nil
}

func newEVMLedger(network types.Network, rpcURL string, eth evmRPC, retries int) *EVMLedger {
	if retries < 1 {
		retries = 1
	}
	return &EVMLedger{
		network:      network,
		rpcURL:       rpcURL,
		eth:          eth,
		retries:      retries,
		retryBackoff: 500 * time.Millisecond,
		pollInterval: 2 * time.Second,
	}
}

// SetPollInterval changes how often receipts are polled.
func (e *EVMLedger) SetPollInterval(d time.Duration) {
	if d > 0 {
		e.pollInterval = d
	}
}

func (e *EVMLedger) Checkpoint(ctx context.Context, sender string) (types.Checkpoint, error) {
	if !common.IsHexAddress(sender) {
		return types.Checkpoint{}, fmt.Errorf("invalid sender %q", sender)
	}

	chainID, err := e.eth.ChainID(ctx)
	if err != nil {
		return types.Checkpoint{}, types.NewCapabilityError(types.KindTransport, "checkpoint", err)
	}
	nonce, err := e.eth.PendingNonceAt(ctx, common.HexToAddress(sender))
	if err != nil {
		return types.Checkpoint{}, types.NewCapabilityError(types.KindTransport, "checkpoint", err)
	}
	gasPrice, err := e.eth.SuggestGasPrice(ctx)
	if err != nil {
		return types.Checkpoint{}, types.NewCapabilityError(types.KindTransport, "checkpoint", err)
	}

	return types.Checkpoint{
		ChainID:   chainID,
		Nonce:     nonce,
		GasPrice:  gasPrice,
		FetchedAt: time.Now(),
	}, nil
}

// Broadcast submits the raw transaction. A node answering "already known"
// has the same transaction and counts as success. When a transport error
// left the outcome of an earlier send unknown, the ledger is asked for the
// hash before the broadcast is reported as failed.
func (e *EVMLedger) Broadcast(ctx context.Context, transfer types.SignedTransfer) (string, error) {
	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(transfer.Raw); err != nil {
		return "", types.NewCapabilityError(types.KindBroadcastFailed, "broadcast", fmt.Errorf("tx decode failed: %w", err))
	}

	var (
		lastErr   error
		uncertain bool
	)
	for attempt := 0; attempt < e.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.retryBackoff):
			}
			if err := ctx.Err(); err != nil {
				lastErr = err
				break
			}
		}

		err := e.eth.SendTransaction(ctx, tx)
		if err == nil || strings.Contains(strings.ToLower(err.Error()), "already known") {
			return tx.Hash().Hex(), nil
		}
		lastErr = err
		if Classify(err) != types.KindTransport {
			break
		}
		uncertain = true
	}

	if uncertain && e.landed(ctx, tx.Hash()) {
		return tx.Hash().Hex(), nil
	}
	return "", types.NewCapabilityError(types.KindBroadcastFailed, "broadcast", lastErr)
}

// landed reports whether the ledger has seen hash, mined or pending.
func (e *EVMLedger) landed(ctx context.Context, hash common.Hash) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), landedLookupTimeout)
	defer cancel()

	if _, err := e.eth.TransactionReceipt(ctx, hash); err == nil {
		return true
	}
	_, _, err := e.eth.TransactionByHash(ctx, hash)
	return err == nil
}

func (e *EVMLedger) Status(ctx context.Context, ref string) (types.TxStatus, error) {
	hash := common.HexToHash(ref)

	receipt, err := e.eth.TransactionReceipt(ctx, hash)
	if err == nil {
		return receiptStatus(receipt), nil
	}
	if !errors.Is(err, ethereum.NotFound) {
		return types.TxStatusUnknown, types.NewCapabilityError(types.KindTransport, "status", err)
	}

	_, _, err = e.eth.TransactionByHash(ctx, hash)
	switch {
	case errors.Is(err, ethereum.NotFound):
		return types.TxStatusUnknown, nil
	case err != nil:
		return types.TxStatusUnknown, types.NewCapabilityError(types.KindTransport, "status", err)
	default:
		return types.TxStatusProcessing, nil
	}
}

func receiptStatus(r *ethtypes.Receipt) types.TxStatus {
	if r.Status == ethtypes.ReceiptStatusSuccessful {
		return types.TxStatusConfirmed
	}
	return types.TxStatusFailed
}

// AwaitConfirmation polls for a receipt until one is mined or ctx is done.
func (e *EVMLedger) AwaitConfirmation(ctx context.Context, ref string, _ types.Checkpoint) error {
	hash := common.HexToHash(ref)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		receipt, err := e.eth.TransactionReceipt(ctx, hash)
		if err != nil {
			continue
		}
		if receiptStatus(receipt) == types.TxStatusConfirmed {
			return nil
		}
		return types.NewCapabilityError(types.KindBroadcastFailed, "confirm",
			fmt.Errorf("%w: reverted in block %v", ErrTransactionFailed, receipt.BlockNumber))
	}
}

func (e *EVMLedger) Balance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}

	bal, err := e.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, types.NewCapabilityError(types.KindTransport, "balance", err)
	}
	return bal, nil
}

func (e *EVMLedger) Close() {
	e.eth.Close()
}
