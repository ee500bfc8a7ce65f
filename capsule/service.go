// Package capsule implements the marketplace flows that spend a payment:
// querying a capsule and staking on an agent. The backend only ever sees a
// payment reference after the payment was confirmed or submitted.
package capsule

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vitwit/capsulepay/clients"
	"github.com/vitwit/capsulepay/logger"
	"github.com/vitwit/capsulepay/types"
)

var (
	ErrEmptyPrompt        = errors.New("prompt cannot be empty")
	ErrInvalidPrice       = errors.New("price per query cannot be negative")
	ErrInvalidStakeAmount = errors.New("stake amount must be greater than 0")
	ErrPaymentRejected    = errors.New("payment was rejected")
	ErrPoolUnresolved     = errors.New("staking pool address is not configured")
	ErrSelfStake          = errors.New("staking pool resolves to the staker's own account")
)

const (
	DefaultPricePerQuery = "0.05"
	DefaultCategory      = "General"
)

// PaymentError carries the rejected result behind ErrPaymentRejected.
type PaymentError struct {
	Result types.PaymentResult
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPaymentRejected, e.Result.Reason)
}

func (e *PaymentError) Unwrap() error {
	return ErrPaymentRejected
}

// Payer submits payments; *capsulepay.CapsulePay satisfies it.
type Payer interface {
	SubmitPayment(ctx context.Context, intent types.PaymentIntent, signer clients.Signer) types.PaymentResult
}

// Backend is the marketplace API.
type Backend interface {
	QueryCapsule(ctx context.Context, capsuleID string, req QueryRequest) (QueryResponse, error)
	StakeOnAgent(ctx context.Context, agentID string, req StakeRequest) (StakeResponse, error)
}

type QueryRequest struct {
	Prompt           string          `json:"prompt"`
	PaymentSignature string          `json:"payment_signature,omitempty"`
	AmountPaid       decimal.Decimal `json:"amount_paid"`
}

type QueryResponse struct {
	Response  string          `json:"response"`
	CapsuleID string          `json:"capsule_id"`
	PricePaid decimal.Decimal `json:"price_paid"`
}

type StakeRequest struct {
	StakeAmount      decimal.Decimal `json:"stake_amount"`
	PricePerQuery    decimal.Decimal `json:"price_per_query"`
	Category         string          `json:"category"`
	Description      string          `json:"description"`
	PaymentSignature string          `json:"payment_signature"`
}

type StakeResponse struct {
	CapsuleID string `json:"capsule_id"`
}

// QueryParams describes one paid question to a capsule.
type QueryParams struct {
	CapsuleID     string
	Prompt        string
	CreatorWallet string
	PricePerQuery decimal.Decimal
}

type QueryResult struct {
	Response  string
	CapsuleID string
	PricePaid decimal.Decimal

	// Payment is nil for free capsules.
	Payment *types.PaymentResult
}

// StakeParams describes a stake on an agent. Zero PricePerQuery, Category
// and Description take defaults.
type StakeParams struct {
	AgentID       string
	AgentName     string
	CapsuleID     string
	Amount        decimal.Decimal
	PricePerQuery decimal.Decimal
	Category      string
	Description   string
}

type StakeResult struct {
	CapsuleID string
	Pool      string
	Payment   types.PaymentResult
}

// Service runs capsule flows on a single network.
type Service struct {
	payer   Payer
	backend Backend
	network types.Network
	pools   PoolResolver
	logger  logger.Logger
}

type Option func(*Service)

func WithPoolResolver(r PoolResolver) Option {
	return func(s *Service) {
		s.pools = r
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		s.logger = logger.OrNoop(l)
	}
}

func NewService(payer Payer, backend Backend, network types.Network, opts ...Option) *Service {
	s := &Service{
		payer:   payer,
		backend: backend,
		network: network,
		logger:  logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryWithPayment pays the capsule creator when the capsule has a price
// and queries it with the payment reference as proof.
func (s *Service) QueryWithPayment(ctx context.Context, signer clients.Signer, p QueryParams) (*QueryResult, error) {
	if strings.TrimSpace(p.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if p.PricePerQuery.IsNegative() {
		return nil, ErrInvalidPrice
	}

	req := QueryRequest{Prompt: p.Prompt, AmountPaid: p.PricePerQuery}

	var payment *types.PaymentResult
	if p.PricePerQuery.IsPositive() {
		res := s.payer.SubmitPayment(ctx, types.PaymentIntent{
			Recipient: p.CreatorWallet,
			Amount:    p.PricePerQuery,
			Network:   s.network,
		}, signer)
		if !res.IsPaid() {
			return nil, &PaymentError{Result: res}
		}
		payment = &res
		req.PaymentSignature = res.Reference
	}

	resp, err := s.backend.QueryCapsule(ctx, p.CapsuleID, req)
	if err != nil {
		fields := map[string]any{"capsule_id": p.CapsuleID, "error": err}
		if payment != nil {
			fields["reference"] = payment.Reference
		}
		s.logger.Error("capsule query failed", fields)
		return nil, fmt.Errorf("query capsule %s: %w", p.CapsuleID, err)
	}

	return &QueryResult{
		Response:  resp.Response,
		CapsuleID: resp.CapsuleID,
		PricePaid: resp.PricePaid,
		Payment:   payment,
	}, nil
}

// Stake pays the capsule's staking pool and records the stake with the
// payment reference.
func (s *Service) Stake(ctx context.Context, signer clients.Signer, p StakeParams) (*StakeResult, error) {
	if !p.Amount.IsPositive() {
		return nil, ErrInvalidStakeAmount
	}
	if s.pools == nil {
		return nil, ErrPoolUnresolved
	}

	key := p.CapsuleID
	if key == "" {
		key = p.AgentID
	}
	pool, err := s.pools.ResolvePool(ctx, key)
	if err != nil {
		return nil, err
	}
	if clients.SameAccount(s.network.Family(), pool, signer.Identity()) {
		return nil, ErrSelfStake
	}

	res := s.payer.SubmitPayment(ctx, types.PaymentIntent{
		Recipient: pool,
		Amount:    p.Amount,
		Network:   s.network,
	}, signer)
	if !res.IsPaid() {
		return nil, &PaymentError{Result: res}
	}

	resp, err := s.backend.StakeOnAgent(ctx, p.AgentID, stakeRequest(p, res.Reference))
	if err != nil {
		s.logger.Error("stake recording failed after payment", map[string]any{
			"agent_id":  p.AgentID,
			"pool":      pool,
			"reference": res.Reference,
			"error":     err,
		})
		return nil, fmt.Errorf("record stake for agent %s: %w", p.AgentID, err)
	}

	return &StakeResult{CapsuleID: resp.CapsuleID, Pool: pool, Payment: res}, nil
}

func stakeRequest(p StakeParams, reference string) StakeRequest {
	req := StakeRequest{
		StakeAmount:      p.Amount,
		PricePerQuery:    p.PricePerQuery,
		Category:         p.Category,
		Description:      p.Description,
		PaymentSignature: reference,
	}
	if req.PricePerQuery.IsZero() {
		req.PricePerQuery = decimal.RequireFromString(DefaultPricePerQuery)
	}
	if req.Category == "" {
		req.Category = DefaultCategory
	}
	if req.Description == "" {
		req.Description = fmt.Sprintf("Memory capsule for %s", p.AgentName)
	}
	return req
}
