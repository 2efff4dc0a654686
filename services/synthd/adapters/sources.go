package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"dshares/services/synthd/oracle"
)

// Registry constructs oracle sources based on configuration.
type Registry struct {
	HTTPClient *http.Client
}

// NewRegistry builds a registry with sane defaults.
func NewRegistry() *Registry {
	return &Registry{HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

// Build creates a source from the supplied configuration.
func (r *Registry) Build(name, typ, endpoint, apiKey, price string) (oracle.Source, error) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "http":
		if strings.TrimSpace(endpoint) == "" {
			return nil, fmt.Errorf("http source %q requires endpoint", name)
		}
		return &httpSource{client: r.client(), name: label(name, "http"), endpoint: endpoint, apiKey: apiKey}, nil
	case "static":
		rate, ok := new(big.Rat).SetString(strings.TrimSpace(price))
		if !ok || rate.Sign() <= 0 {
			return nil, fmt.Errorf("static source %q requires positive price", name)
		}
		return &staticSource{name: label(name, "static"), rate: rate}, nil
	default:
		return nil, fmt.Errorf("unknown oracle type %q", typ)
	}
}

func (r *Registry) client() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// httpSource polls a JSON endpoint shaped {"price": "250.50", "timestamp": 1700000000}.
type httpSource struct {
	client   *http.Client
	name     string
	endpoint string
	apiKey   string
}

func (s *httpSource) Name() string { return s.name }

func (s *httpSource) Fetch(ctx context.Context) (oracle.Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return oracle.Quote{}, fmt.Errorf("build request: %w", err)
	}
	if key := strings.TrimSpace(s.apiKey); key != "" {
		req.Header.Set("X-Api-Key", key)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return oracle.Quote{}, fmt.Errorf("fetch price: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return oracle.Quote{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var payload struct {
		Price     string `json:"price"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return oracle.Quote{}, fmt.Errorf("decode payload: %w", err)
	}
	rate, ok := new(big.Rat).SetString(strings.TrimSpace(payload.Price))
	if !ok {
		return oracle.Quote{}, fmt.Errorf("invalid price %q", payload.Price)
	}
	ts := time.Now()
	if payload.Timestamp > 0 {
		ts = time.Unix(payload.Timestamp, 0)
	}
	return oracle.Quote{Rate: rate, Timestamp: ts}, nil
}

// staticSource serves a fixed development price.
type staticSource struct {
	name string
	rate *big.Rat
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Fetch(context.Context) (oracle.Quote, error) {
	return oracle.Quote{Rate: new(big.Rat).Set(s.rate), Timestamp: time.Now()}, nil
}

func label(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed != "" {
		return trimmed
	}
	return fallback
}
