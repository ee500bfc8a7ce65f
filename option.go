package capsulepay

import (
	"time"

	"github.com/vitwit/capsulepay/logger"
	"github.com/vitwit/capsulepay/metrics"
)

// Options apply to networks registered after construction.
type Option func(*CapsulePay)

func WithLogger(l logger.Logger) Option {
	return func(c *CapsulePay) {
		c.logger = logger.OrNoop(l)
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *CapsulePay) {
		c.metrics = metrics.OrNoop(r)
	}
}

// WithTimeout sets the confirmation timeout.
func WithTimeout(t time.Duration) Option {
	return func(c *CapsulePay) {
		if t > 0 {
			c.config.ConfirmationTimeout = t
		}
	}
}
