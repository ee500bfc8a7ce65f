// Package capsulepay submits native-token payments on Solana and EVM networks
// and reports whether each one was confirmed, submitted or rejected.
package capsulepay

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/vitwit/capsulepay/clients"
	"github.com/vitwit/capsulepay/logger"
	"github.com/vitwit/capsulepay/metrics"
	"github.com/vitwit/capsulepay/settlement"
	"github.com/vitwit/capsulepay/types"
	"github.com/vitwit/capsulepay/utils"
	"github.com/vitwit/capsulepay/verification"
)

type route struct {
	chain     clients.Chain
	ledger    clients.Ledger
	submitter *settlement.Submitter
}

// CapsulePay routes payments to the ledger registered for their network.
type CapsulePay struct {
	mu       sync.RWMutex
	routes   map[types.Network]*route
	verifier *verification.VerificationService

	config  types.Config
	logger  logger.Logger
	metrics metrics.Recorder
}

// New creates a CapsulePay instance with the given configuration. Networks
// listed in cfg are not dialed; call AddNetwork for each.
func New(cfg *types.Config, opts ...Option) *CapsulePay {
	c := types.DefaultConfig()
	if cfg != nil {
		c = cfg.WithDefaults()
	}

	cp := &CapsulePay{
		routes:  make(map[types.Network]*route),
		config:  c,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(cp)
	}
	cp.verifier = verification.NewVerificationService(cp.config.StatusTimeout)
	return cp
}

// NewWithDefaults creates a CapsulePay instance with default configuration
func NewWithDefaults(opts ...Option) *CapsulePay {
	return New(nil, opts...)
}

// AddNetwork dials a ledger for network from config.
func (c *CapsulePay) AddNetwork(network types.Network, config types.ClientConfig) error {
	if config.Network == "" {
		config.Network = network
	}
	if err := utils.ValidateStruct(config); err != nil {
		return &types.CapsuleError{
			Code:    types.ErrInvalidConfig,
			Message: fmt.Sprintf("invalid client config for %s: %v", network, err),
		}
	}

	retries := c.config.BroadcastRetries
	if config.RetryCount > 0 {
		retries = config.RetryCount
	}

	dial := []clients.DialOption{
		clients.WithHeaders(config.Headers),
		clients.WithRequestTimeout(config.Timeout),
	}

	var (
		ledger clients.Ledger
		err    error
	)
	switch {
	case network.IsSolana():
		ledger, err = clients.NewSolanaLedger(network, config.RPCUrl, retries, dial...)
	case network.IsEVM():
		ledger, err = clients.NewEVMLedger(network, config.RPCUrl, retries, dial...)
	default:
		return &types.CapsuleError{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unsupported network: %s", network),
		}
	}
	if err != nil {
		return &types.CapsuleError{
			Code:    types.ErrNetworkError,
			Message: fmt.Sprintf("failed to create ledger for %s: %v", network, err),
		}
	}

	return c.AddLedger(network, ledger)
}

// AddLedger registers a caller-owned ledger for network, replacing (and
// closing) any ledger already registered.
func (c *CapsulePay) AddLedger(network types.Network, ledger clients.Ledger) error {
	chain, ok := clients.ChainFor(network)
	if !ok {
		return &types.CapsuleError{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unsupported network: %s", network),
		}
	}

	r := &route{
		chain:  chain,
		ledger: ledger,
		submitter: settlement.NewSubmitter(chain, c.config,
			settlement.WithNetwork(network),
			settlement.WithLogger(c.logger),
			settlement.WithMetrics(c.metrics),
		),
	}

	c.mu.Lock()
	old := c.routes[network]
	c.routes[network] = r
	c.mu.Unlock()

	if err := c.verifier.AddLedger(network, ledger); err != nil {
		return err
	}

	if old != nil && old.ledger != ledger {
		old.ledger.Close()
	}

	c.logger.Info("network registered", map[string]any{
		"network": network.String(),
		"family":  string(chain.Family()),
	})
	return nil
}

func (c *CapsulePay) route(network types.Network) (*route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[network]
	return r, ok
}

// SubmitPayment pays intent on intent.Network with signer.
func (c *CapsulePay) SubmitPayment(
	ctx context.Context,
	intent types.PaymentIntent,
	signer clients.Signer,
) types.PaymentResult {
	r, ok := c.route(intent.Network)
	if !ok {
		c.logger.Warn("payment for unregistered network", map[string]any{
			"network": intent.Network.String(),
		})
		res := types.Rejected(clients.ReasonUnsupportedNetwork)
		res.Network = intent.Network
		return res
	}

	res := r.submitter.Submit(ctx, intent, signer, r.ledger)
	res.Network = intent.Network
	res.ExplorerURL = utils.ExplorerURL(intent.Network, res.Reference)
	return res
}

// Balance returns the native balance of address on network.
func (c *CapsulePay) Balance(ctx context.Context, network types.Network, address string) (decimal.Decimal, error) {
	r, ok := c.route(network)
	if !ok {
		return decimal.Zero, &types.CapsuleError{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("network %s is not registered", network),
		}
	}
	if err := r.chain.ParseAddress(address); err != nil {
		return decimal.Zero, fmt.Errorf("invalid address: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.StatusTimeout)
	defer cancel()

	minor, err := r.ledger.Balance(ctx, address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return utils.FromMinorUnits(minor, r.chain.Decimals()), nil
}

// Verify reports whether a payment reference is confirmed on its network.
func (c *CapsulePay) Verify(ctx context.Context, request *types.VerifyRequest) (*types.VerificationResult, error) {
	return c.verifier.Verify(ctx, request)
}

// BatchVerify verifies multiple references concurrently
func (c *CapsulePay) BatchVerify(ctx context.Context, requests []*types.VerifyRequest) ([]*types.VerificationResult, error) {
	if len(requests) == 0 {
		return nil, &types.CapsuleError{
			Code:    types.ErrInvalidConfig,
			Message: "no references to verify",
		}
	}
	return c.verifier.BatchVerify(ctx, requests)
}

// IsNetworkSupported checks if a network is registered
func (c *CapsulePay) IsNetworkSupported(network types.Network) bool {
	_, ok := c.route(network)
	return ok
}

// Supported lists registered networks in name order.
func (c *CapsulePay) Supported() []types.Network {
	c.mu.RLock()
	out := make([]types.Network, 0, len(c.routes))
	for n := range c.routes {
		out = append(out, n)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close closes all ledger connections
func (c *CapsulePay) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for n, r := range c.routes {
		c.verifier.RemoveLedger(n)
		r.ledger.Close()
		delete(c.routes, n)
	}
}

// Version information
const (
	Version = "0.1.0"
)

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	return map[string]interface{}{
		"library_version": Version,
		"supported_networks": []string{
			"solana-mainnet", "solana-devnet",
			"mantle", "mantle-sepolia",
			"base", "base-sepolia",
			"polygon", "polygon-amoy",
		},
		"supported_standards": []string{
			"native",
		},
	}
}
