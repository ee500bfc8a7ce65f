package clients

import (
	"net/http"
	"time"
)

// DefaultRequestTimeout bounds a single RPC request when none is configured.
const DefaultRequestTimeout = 30 * time.Second

type dialOptions struct {
	headers map[string]string
	timeout time.Duration
}

// DialOption configures the RPC connection of a ledger.
type DialOption func(*dialOptions)

// WithHeaders sends the given HTTP headers (API keys, auth) on every RPC
// request.
func WithHeaders(headers map[string]string) DialOption {
	return func(o *dialOptions) {
		o.headers = headers
	}
}

// WithRequestTimeout bounds each RPC request.
func WithRequestTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func newDialOptions(opts []DialOption) dialOptions {
	o := dialOptions{timeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o dialOptions) httpClient() *http.Client {
	return &http.Client{Timeout: o.timeout}
}

func (o dialOptions) httpHeader() http.Header {
	h := make(http.Header, len(o.headers))
	for k, v := range o.headers {
		h.Set(k, v)
	}
	return h
}
