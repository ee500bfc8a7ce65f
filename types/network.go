package types

// ChainFamily classifies a network into a blockchain family.
type ChainFamily string

const (
	ChainEVM    ChainFamily = "evm"
	ChainSolana ChainFamily = "solana"
)

// Network represents supported blockchain networks
type Network string

const (
	// Solana Networks
	NetworkSolanaMainnet Network = "solana-mainnet"
	NetworkSolanaDevnet  Network = "solana-devnet" // testnet

	// EVM Networks
	NetworkMantle        Network = "mantle"
	NetworkMantleSepolia Network = "mantle-sepolia" // testnet
	NetworkBase          Network = "base"
	NetworkBaseSepolia   Network = "base-sepolia" // testnet
	NetworkPolygon       Network = "polygon"
	NetworkPolygonAmoy   Network = "polygon-amoy" // testnet
)

// Family returns the chain family of the network, or "" when unknown.
func (n Network) Family() ChainFamily {
	switch {
	case n.IsSolana():
		return ChainSolana
	case n.IsEVM():
		return ChainEVM
	default:
		return ""
	}
}

// Helper functions for network classification
func (n Network) IsEVM() bool {
	switch n {
	case NetworkMantle, NetworkMantleSepolia, NetworkBase, NetworkBaseSepolia, NetworkPolygon, NetworkPolygonAmoy:
		return true
	}
	return false
}

func (n Network) IsSolana() bool {
	return n == NetworkSolanaMainnet || n == NetworkSolanaDevnet
}

func (n Network) IsTestnet() bool {
	switch n {
	case NetworkSolanaDevnet, NetworkMantleSepolia, NetworkBaseSepolia, NetworkPolygonAmoy:
		return true
	}
	return false
}

func (n Network) String() string {
	return string(n)
}
