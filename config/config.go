// Package config reads and writes the capsulepay YAML config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vitwit/capsulepay/types"
	"github.com/vitwit/capsulepay/utils"
	"gopkg.in/yaml.v3"
)

const (
	DirName  = ".capsulepay"
	FileName = "config.yaml"
)

// DefaultPath returns $HOME/.capsulepay/config.yaml.
func DefaultPath(home string) string {
	return filepath.Join(home, DirName, FileName)
}

// Default returns a devnet-only config with keys under home.
func Default(home string) types.Config {
	cfg := types.DefaultConfig()
	cfg.MetricsAddr = "127.0.0.1:9464"
	cfg.Networks = []types.ClientConfig{
		{
			Network: types.NetworkSolanaDevnet,
			RPCUrl:  "https://api.devnet.solana.com",
			KeyFile: filepath.Join(home, ".config", "solana", "id.json"),
		},
		{
			Network: types.NetworkMantleSepolia,
			RPCUrl:  "https://rpc.sepolia.mantle.xyz",
			KeyFile: filepath.Join(home, DirName, "keys", "evm.key"),
		},
	}
	return cfg
}

// Load reads path, fills defaults and validates.
func Load(path string) (types.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return types.Config{}, err
	}

	var cfg types.Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return types.Config{}, &types.CapsuleError{
			Code:    types.ErrInvalidConfig,
			Message: fmt.Sprintf("failed to parse %s: %v", path, err),
		}
	}

	cfg = cfg.WithDefaults()
	if err := Validate(cfg); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

func Write(path string, cfg types.Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func Validate(cfg types.Config) error {
	return utils.ValidateConfig(&cfg)
}

// Network returns the entry for n.
func Network(cfg types.Config, n types.Network) (types.ClientConfig, bool) {
	for _, c := range cfg.Networks {
		if c.Network == n {
			return c, true
		}
	}
	return types.ClientConfig{}, false
}
