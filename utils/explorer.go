package utils

import (
	"fmt"

	"github.com/vitwit/capsulepay/types"
)

// ExplorerURL returns a block explorer link for a transaction reference, or
// "" when the network has no known explorer.
func ExplorerURL(network types.Network, ref string) string {
	if ref == "" {
		return ""
	}

	switch network {
	case types.NetworkSolanaDevnet:
		return fmt.Sprintf("https://explorer.solana.com/tx/%s?cluster=devnet", ref)
	case types.NetworkSolanaMainnet:
		return fmt.Sprintf("https://explorer.solana.com/tx/%s?cluster=mainnet-beta", ref)
	case types.NetworkMantle:
		return fmt.Sprintf("https://explorer.mantle.xyz/tx/%s", ref)
	case types.NetworkMantleSepolia:
		return fmt.Sprintf("https://explorer.sepolia.mantle.xyz/tx/%s", ref)
	case types.NetworkBase:
		return fmt.Sprintf("https://basescan.org/tx/%s", ref)
	case types.NetworkBaseSepolia:
		return fmt.Sprintf("https://sepolia.basescan.org/tx/%s", ref)
	case types.NetworkPolygon:
		return fmt.Sprintf("https://polygonscan.com/tx/%s", ref)
	case types.NetworkPolygonAmoy:
		return fmt.Sprintf("https://amoy.polygonscan.com/tx/%s", ref)
	default:
		return ""
	}
}
