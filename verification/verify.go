// Package verification checks payment references against the ledger, for
// services that accept a reference as proof of payment.
package verification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitwit/capsulepay/clients"
	"github.com/vitwit/capsulepay/types"
	"github.com/vitwit/capsulepay/utils"
)

// Verifier interface defines the contract for payment verification
type Verifier interface {
	Verify(ctx context.Context, request *types.VerifyRequest) (*types.VerificationResult, error)
}

// VerificationService verifies references across networks. It does not own
// the ledgers it is given.
type VerificationService struct {
	mu      sync.RWMutex
	ledgers map[types.Network]clients.Ledger
	timeout time.Duration
}

var _ Verifier = (*VerificationService)(nil)

// NewVerificationService creates a new verification service
func NewVerificationService(timeout time.Duration) *VerificationService {
	return &VerificationService{
		ledgers: make(map[types.Network]clients.Ledger),
		timeout: timeout,
	}
}

// AddLedger adds a ledger for a specific network
func (s *VerificationService) AddLedger(network types.Network, ledger clients.Ledger) error {
	if network.Family() == "" {
		return &types.CapsuleError{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unsupported network: %s", network),
		}
	}

	s.mu.Lock()
	s.ledgers[network] = ledger
	s.mu.Unlock()
	return nil
}

// RemoveLedger forgets the ledger for network.
func (s *VerificationService) RemoveLedger(network types.Network) {
	s.mu.Lock()
	delete(s.ledgers, network)
	s.mu.Unlock()
}

// Verify looks the reference up on the ledger. Lookup failures are reported
// in the result, not as an error.
func (s *VerificationService) Verify(
	ctx context.Context,
	request *types.VerifyRequest,
) (*types.VerificationResult, error) {
	if err := utils.ValidateStruct(request); err != nil {
		return &types.VerificationResult{
			Valid: false,
			Error: fmt.Sprintf("invalid request: %v", err),
		}, nil
	}

	if err := utils.ValidateReference(request.Reference, request.Network.Family()); err != nil {
		return &types.VerificationResult{
			Valid:     false,
			Reference: request.Reference,
			Error:     err.Error(),
		}, nil
	}

	s.mu.RLock()
	ledger, exists := s.ledgers[request.Network]
	s.mu.RUnlock()
	if !exists {
		return &types.VerificationResult{
			Valid:     false,
			Reference: request.Reference,
			Error:     fmt.Sprintf("no ledger configured for network %s", request.Network),
		}, nil
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	status, err := ledger.Status(verifyCtx, request.Reference)
	if err != nil {
		return &types.VerificationResult{
			Valid:     false,
			Reference: request.Reference,
			Status:    types.TxStatusUnknown,
			Error:     fmt.Sprintf("status lookup failed: %v", err),
		}, nil
	}

	result := &types.VerificationResult{
		Reference: request.Reference,
		Status:    status,
	}
	switch status {
	case types.TxStatusConfirmed, types.TxStatusFinalized:
		result.Valid = true
	case types.TxStatusFailed:
		result.Error = "transaction failed on ledger"
	case types.TxStatusProcessing:
		result.Error = "transaction not yet confirmed"
	default:
		result.Error = "transaction not found"
	}
	return result, nil
}

// BatchVerify verifies multiple references concurrently
func (s *VerificationService) BatchVerify(
	ctx context.Context,
	requests []*types.VerifyRequest,
) ([]*types.VerificationResult, error) {
	results := make([]*types.VerificationResult, len(requests))

	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req *types.VerifyRequest) {
			defer wg.Done()
			results[i], _ = s.Verify(ctx, req)
		}(i, req)
	}
	wg.Wait()

	return results, nil
}

// IsNetworkSupported checks if a network is supported
func (s *VerificationService) IsNetworkSupported(network types.Network) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ledgers[network]
	return ok
}
