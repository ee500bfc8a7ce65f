package utils

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/vitwit/capsulepay/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ValidateStruct runs the struct-tag validation shared by configs and intents.
func ValidateStruct(v interface{}) error {
	return validate.Struct(v)
}

// ValidateConfig validates a Config using struct tags.
func ValidateConfig(cfg *types.Config) error {
	if err := validate.Struct(cfg); err != nil {
		return &types.CapsuleError{
			Code:    types.ErrInvalidConfig,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	for _, n := range cfg.Networks {
		if n.Network.Family() == "" {
			return &types.CapsuleError{
				Code:    types.ErrUnsupportedNetwork,
				Message: fmt.Sprintf("unsupported network: %s", n.Network),
			}
		}
	}

	return nil
}

// ParseConfig parses Config from JSON
func ParseConfig(data []byte) (*types.Config, error) {
	var config types.Config

	if err := json.Unmarshal(data, &config); err != nil {
		return nil, &types.CapsuleError{
			Code:    types.ErrInvalidConfig,
			Message: fmt.Sprintf("failed to parse config: %v", err),
		}
	}

	config = config.WithDefaults()
	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// SerializePaymentResult converts PaymentResult to JSON
func SerializePaymentResult(result types.PaymentResult) ([]byte, error) {
	return json.Marshal(result)
}
