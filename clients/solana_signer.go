package clients

import (
	"context"
	"fmt"

	binary "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/capsulepay/types"
)

// SolanaKeySigner signs with a local ed25519 key.
type SolanaKeySigner struct {
	key solana.PrivateKey
}

var _ Signer = (*SolanaKeySigner)(nil)

func NewSolanaKeySigner(key solana.PrivateKey) (*SolanaKeySigner, error) {
	if len(key) != 64 {
		return nil, &types.CapsuleError{
			Code:    types.ErrInvalidKey,
			Message: fmt.Sprintf("solana private key must be 64 bytes, got %d", len(key)),
		}
	}
	return &SolanaKeySigner{key: key}, nil
}

// LoadSolanaKeySigner reads a solana-keygen JSON key file.
func LoadSolanaKeySigner(path string) (*SolanaKeySigner, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, &types.CapsuleError{
			Code:    types.ErrInvalidKey,
			Message: fmt.Sprintf("load solana key %s: %v", path, err),
		}
	}
	return NewSolanaKeySigner(key)
}

func (s *SolanaKeySigner) Identity() string {
	return s.key.PublicKey().String()
}

// Sign signs the transfer message. The message's fee payer must be this key.
func (s *SolanaKeySigner) Sign(ctx context.Context, transfer types.UnsignedTransfer) (types.SignedTransfer, error) {
	if err := ctx.Err(); err != nil {
		return types.SignedTransfer{}, types.NewCapabilityError(types.KindTransport, "sign", err)
	}
	if transfer.Family != types.ChainSolana {
		return types.SignedTransfer{}, fmt.Errorf("solana signer cannot sign %s transfer", transfer.Family)
	}

	var msg solana.Message
	if err := msg.UnmarshalWithDecoder(binary.NewBinDecoder(transfer.Message)); err != nil {
		return types.SignedTransfer{}, fmt.Errorf("decode message: %w", err)
	}

	pub := s.key.PublicKey()
	if len(msg.AccountKeys) == 0 || !msg.AccountKeys[0].Equals(pub) {
		return types.SignedTransfer{}, ErrSenderNotSigner
	}

	sig, err := s.key.Sign(transfer.Message)
	if err != nil {
		return types.SignedTransfer{}, fmt.Errorf("sign message: %w", err)
	}

	tx := &solana.Transaction{
		Signatures: []solana.Signature{sig},
		Message:    msg,
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return types.SignedTransfer{}, fmt.Errorf("encode transaction: %w", err)
	}

	return types.SignedTransfer{
		Family:    types.ChainSolana,
		Raw:       raw,
		Reference: sig.String(),
	}, nil
}
