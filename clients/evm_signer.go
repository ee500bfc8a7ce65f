package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vitwit/capsulepay/types"
)

// EVMKeySigner signs with a local secp256k1 key (EIP-155).
type EVMKeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

var _ Signer = (*EVMKeySigner)(nil)

func NewEVMKeySigner(key *ecdsa.PrivateKey) (*EVMKeySigner, error) {
	if key == nil {
		return nil, &types.CapsuleError{Code: types.ErrInvalidKey, Message: "evm private key is nil"}
	}
	return &EVMKeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// NewEVMKeySignerFromHex parses a hex private key, with or without 0x.
func NewEVMKeySignerFromHex(hexKey string) (*EVMKeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, &types.CapsuleError{
			Code:    types.ErrInvalidKey,
			Message: fmt.Sprintf("invalid signer key: %v", err),
		}
	}
	return NewEVMKeySigner(key)
}

// LoadEVMKeySigner reads a hex private key file.
func LoadEVMKeySigner(path string) (*EVMKeySigner, error) {
	key, err := crypto.LoadECDSA(path)
	if err != nil {
		return nil, &types.CapsuleError{
			Code:    types.ErrInvalidKey,
			Message: fmt.Sprintf("load evm key %s: %v", path, err),
		}
	}
	return NewEVMKeySigner(key)
}

func (s *EVMKeySigner) Identity() string {
	return s.address.Hex()
}

func (s *EVMKeySigner) Sign(ctx context.Context, transfer types.UnsignedTransfer) (types.SignedTransfer, error) {
	if err := ctx.Err(); err != nil {
		return types.SignedTransfer{}, types.NewCapabilityError(types.KindTransport, "sign", err)
	}
	if transfer.Family != types.ChainEVM {
		return types.SignedTransfer{}, fmt.Errorf("evm signer cannot sign %s transfer", transfer.Family)
	}
	if !strings.EqualFold(transfer.Sender, s.address.Hex()) {
		return types.SignedTransfer{}, ErrSenderNotSigner
	}
	if transfer.Checkpoint.ChainID == nil {
		return types.SignedTransfer{}, fmt.Errorf("transfer has no chain id")
	}

	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(transfer.Message); err != nil {
		return types.SignedTransfer{}, fmt.Errorf("decode transaction: %w", err)
	}

	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(transfer.Checkpoint.ChainID), s.key)
	if err != nil {
		return types.SignedTransfer{}, fmt.Errorf("sign transaction: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return types.SignedTransfer{}, fmt.Errorf("encode transaction: %w", err)
	}

	return types.SignedTransfer{
		Family:    types.ChainEVM,
		Raw:       raw,
		Reference: signed.Hash().Hex(),
	}, nil
}
