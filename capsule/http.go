package capsule

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPBackend is a Backend speaking JSON to the marketplace API.
type HTTPBackend struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Backend = (*HTTPBackend)(nil)

// NewHTTPBackend creates a backend for baseURL. token, when set, is sent as
// a bearer token.
func NewHTTPBackend(baseURL, token string) *HTTPBackend {
	return &HTTPBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (b *HTTPBackend) QueryCapsule(ctx context.Context, capsuleID string, req QueryRequest) (QueryResponse, error) {
	var resp QueryResponse
	err := b.post(ctx, "/capsules/"+url.PathEscape(capsuleID)+"/query", req, &resp)
	return resp, err
}

func (b *HTTPBackend) StakeOnAgent(ctx context.Context, agentID string, req StakeRequest) (StakeResponse, error) {
	var resp StakeResponse
	err := b.post(ctx, "/agents/"+url.PathEscape(agentID)+"/stake", req, &resp)
	return resp, err
}

func (b *HTTPBackend) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s failed (%d): %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
