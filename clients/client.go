package clients

import (
	"context"
	"math/big"
	"strings"

	"github.com/vitwit/capsulepay/types"
)

// Chain knows a chain family's address format, native unit and how to lay
// out an unsigned native transfer. Implementations do no I/O.
type Chain interface {
	Family() types.ChainFamily
	// Decimals is the number of fractional digits of the native unit.
	Decimals() int32
	ParseAddress(address string) error
	NewTransfer(sender, recipient string, amount *big.Int, cp types.Checkpoint) (types.UnsignedTransfer, error)
}

// Signer produces an authorized transfer on behalf of an authenticated
// principal. A signer may block on user interaction.
type Signer interface {
	Identity() string
	Sign(ctx context.Context, transfer types.UnsignedTransfer) (types.SignedTransfer, error)
}

// Ledger is the connection to a chain's nodes.
type Ledger interface {
	// Checkpoint fetches the freshness token needed to build a transfer
	// from sender.
	Checkpoint(ctx context.Context, sender string) (types.Checkpoint, error)
	// Broadcast submits signed bytes and returns the transaction reference.
	Broadcast(ctx context.Context, transfer types.SignedTransfer) (string, error)
	// Status returns TxStatusUnknown when the ledger has never seen ref.
	Status(ctx context.Context, ref string) (types.TxStatus, error)
	// AwaitConfirmation blocks until ref is confirmed, the checkpoint's
	// validity window has passed, or ctx is done.
	AwaitConfirmation(ctx context.Context, ref string, cp types.Checkpoint) error
	// Balance returns the account balance in minor units.
	Balance(ctx context.Context, address string) (*big.Int, error)
	Close()
}

// ChainFor returns the Chain implementation for a network.
func ChainFor(network types.Network) (Chain, bool) {
	switch network.Family() {
	case types.ChainSolana:
		return SolanaChain{}, true
	case types.ChainEVM:
		return EVMChain{}, true
	default:
		return nil, false
	}
}

// SameAccount compares two addresses of family. EVM hex addresses are
// case-insensitive; Solana base58 is not.
func SameAccount(family types.ChainFamily, a, b string) bool {
	if family == types.ChainEVM {
		return strings.EqualFold(a, b)
	}
	return a == b
}
