package utils

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vitwit/capsulepay/types"
)

var (
	ErrNonPositiveAmount = errors.New("amount must be greater than 0")
	ErrExcessPrecision   = errors.New("amount has more fractional digits than the chain's minor unit")
)

var (
	hexPattern    = regexp.MustCompile("^[0-9a-fA-F]+$")
	base58Pattern = regexp.MustCompile("^[1-9A-HJ-NP-Za-km-z]+$")
)

// ParseAmount parses a human-readable amount and requires it to be positive.
func ParseAmount(amount string) (decimal.Decimal, error) {
	if strings.TrimSpace(amount) == "" {
		return decimal.Zero, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount format: %w", err)
	}

	if !dec.IsPositive() {
		return decimal.Zero, ErrNonPositiveAmount
	}

	return dec, nil
}

// ToMinorUnits converts an amount in the native unit to the chain's smallest
// integer unit. The conversion is exact: amounts that would need rounding
// are refused instead of truncated.
func ToMinorUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}

	shifted := amount.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, ErrExcessPrecision
	}

	return shifted.BigInt(), nil
}

// FromMinorUnits formats a minor-unit integer back to the native unit.
func FromMinorUnits(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}

// ValidateReference checks the shape of a transaction reference for the
// given chain family.
func ValidateReference(ref string, family types.ChainFamily) error {
	if ref == "" {
		return fmt.Errorf("transaction reference cannot be empty")
	}

	switch family {
	case types.ChainEVM:
		// 0x + 64 hex
		if !strings.HasPrefix(ref, "0x") {
			return fmt.Errorf("EVM transaction hash must start with 0x")
		}
		if len(ref) != 66 {
			return fmt.Errorf("EVM transaction hash must be 66 characters long")
		}
		if !hexPattern.MatchString(ref[2:]) {
			return fmt.Errorf("EVM transaction hash must be valid hex")
		}

	case types.ChainSolana:
		// base58 of a 64 byte signature
		if len(ref) < 80 || len(ref) > 90 {
			return fmt.Errorf("Solana transaction signature has invalid length")
		}
		if !base58Pattern.MatchString(ref) {
			return fmt.Errorf("Solana transaction signature must be valid base58")
		}

	default:
		return fmt.Errorf("unsupported chain family %q", family)
	}

	return nil
}
