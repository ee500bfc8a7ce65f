package capsule

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/capsulepay/types"
)

// StakingPoolSeed prefixes the capsule id in the pool address derivation.
const StakingPoolSeed = "staking_pool"

// PoolResolver returns the staking pool destination for a capsule.
type PoolResolver interface {
	ResolvePool(ctx context.Context, capsuleID string) (string, error)
}

// StaticPoolResolver sends every stake to one address.
type StaticPoolResolver struct {
	Address string
}

func (r StaticPoolResolver) ResolvePool(context.Context, string) (string, error) {
	if r.Address == "" {
		return "", ErrPoolUnresolved
	}
	return r.Address, nil
}

// ProgramPoolResolver derives a per-capsule pool account owned by the
// staking program.
type ProgramPoolResolver struct {
	ProgramID solana.PublicKey
}

func (r ProgramPoolResolver) ResolvePool(_ context.Context, capsuleID string) (string, error) {
	if r.ProgramID.IsZero() {
		return "", ErrPoolUnresolved
	}
	if capsuleID == "" {
		return "", fmt.Errorf("capsule id is required to derive a staking pool")
	}

	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte(StakingPoolSeed), []byte(capsuleID)},
		r.ProgramID,
	)
	if err != nil {
		return "", fmt.Errorf("derive staking pool for %s: %w", capsuleID, err)
	}
	return addr.String(), nil
}

// NewPoolResolver builds a resolver from config. A fixed pool address wins
// over a program id.
func NewPoolResolver(cfg types.StakingConfig) (PoolResolver, error) {
	switch {
	case cfg.PoolAddress != "":
		if _, err := solana.PublicKeyFromBase58(cfg.PoolAddress); err != nil {
			return nil, &types.CapsuleError{
				Code:    types.ErrInvalidConfig,
				Message: fmt.Sprintf("invalid staking pool address: %v", err),
			}
		}
		return StaticPoolResolver{Address: cfg.PoolAddress}, nil
	case cfg.ProgramID != "":
		programID, err := solana.PublicKeyFromBase58(cfg.ProgramID)
		if err != nil {
			return nil, &types.CapsuleError{
				Code:    types.ErrInvalidConfig,
				Message: fmt.Sprintf("invalid staking program id: %v", err),
			}
		}
		return ProgramPoolResolver{ProgramID: programID}, nil
	default:
		return nil, ErrPoolUnresolved
	}
}
