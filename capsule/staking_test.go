package capsule

import (
	"context"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/capsulepay/types"
)

func TestProgramPoolResolverIsDeterministic(t *testing.T) {
	programID := solana.MustPublicKeyFromBase58("Stake11111111111111111111111111111111111111")
	r := ProgramPoolResolver{ProgramID: programID}

	a, err := r.ResolvePool(context.Background(), "capsule-1")
	require.NoError(t, err)
	b, err := r.ResolvePool(context.Background(), "capsule-1")
	require.NoError(t, err)
	c, err := r.ResolvePool(context.Background(), "capsule-2")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	want, _, err := solana.FindProgramAddress([][]byte{[]byte("staking_pool"), []byte("capsule-1")}, programID)
	require.NoError(t, err)
	assert.Equal(t, want.String(), a)
}

func TestProgramPoolResolverRejectsBadSeeds(t *testing.T) {
	r := ProgramPoolResolver{ProgramID: solana.SystemProgramID}

	_, err := r.ResolvePool(context.Background(), "")
	assert.Error(t, err)

	_, err = r.ResolvePool(context.Background(), strings.Repeat("x", 40))
	assert.Error(t, err)
}

func TestNewPoolResolver(t *testing.T) {
	pool := solana.SystemProgramID.String()

	r, err := NewPoolResolver(types.StakingConfig{PoolAddress: pool, ProgramID: pool})
	require.NoError(t, err)
	assert.Equal(t, StaticPoolResolver{Address: pool}, r)

	r, err = NewPoolResolver(types.StakingConfig{ProgramID: pool})
	require.NoError(t, err)
	assert.IsType(t, ProgramPoolResolver{}, r)

	_, err = NewPoolResolver(types.StakingConfig{})
	assert.ErrorIs(t, err, ErrPoolUnresolved)

	_, err = NewPoolResolver(types.StakingConfig{PoolAddress: "0xdeadbeef"})
	var ce *types.CapsuleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, types.ErrInvalidConfig, ce.Code)
}
