package utils

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/capsulepay/types"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{
		"networks": [{"network": "base-sepolia", "rpcUrl": "https://sepolia.base.org"}],
		"logLevel": "warn"
	}`))
	require.NoError(t, err)

	assert.Equal(t, types.DefaultConfirmationTimeout, cfg.ConfirmationTimeout)
	assert.Equal(t, "warn", cfg.LogLevel)
	require.Len(t, cfg.Networks, 1)
	assert.Equal(t, types.NetworkBaseSepolia, cfg.Networks[0].Network)
}

func TestParseConfigErrors(t *testing.T) {
	tests := map[string]struct {
		body string
		code string
	}{
		"malformed":       {`{`, types.ErrInvalidConfig},
		"missing rpc":     {`{"networks":[{"network":"base"}]}`, types.ErrInvalidConfig},
		"unknown network": {`{"networks":[{"network":"osmosis-1","rpcUrl":"http://x.io"}]}`, types.ErrUnsupportedNetwork},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.body))
			var ce *types.CapsuleError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.code, ce.Code)
		})
	}
}

func TestValidateConfigRejectsZeroTimeouts(t *testing.T) {
	cfg := types.Config{StatusTimeout: time.Second}
	assert.Error(t, ValidateConfig(&cfg))

	cfg = types.DefaultConfig()
	assert.NoError(t, ValidateConfig(&cfg))
}

func TestSerializePaymentResult(t *testing.T) {
	res := types.Submitted("sig")
	res.Reason = "confirmation_timeout"
	res.Network = types.NetworkSolanaDevnet

	b, err := SerializePaymentResult(res)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "submitted", m["outcome"])
	assert.Equal(t, "sig", m["reference"])
	assert.Equal(t, "confirmation_timeout", m["reason"])
	assert.NotContains(t, m, "explorerUrl")
}
