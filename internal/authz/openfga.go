package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// OpenFGAConfig configures the OpenFGA relationship backend.
type OpenFGAConfig struct {
	// Endpoint is the OpenFGA HTTP API base URL.
	Endpoint string
	StoreID  string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Client overrides the HTTP client, for TLS or mTLS endpoints.
	Client *http.Client
}

// OpenFGABackend talks to an OpenFGA server over its HTTP API. Selected
// with AUTHORIZATION_BACKEND=OpenFGA.
type OpenFGABackend struct {
	endpoint string
	storeID  string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

// NewOpenFGABackend creates the backend. The connection is probed lazily;
// use HealthCheck to verify reachability at startup.
func NewOpenFGABackend(cfg OpenFGAConfig, logger *slog.Logger) *OpenFGABackend {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &OpenFGABackend{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		storeID:  cfg.StoreID,
		apiKey:   cfg.APIKey,
		client:   client,
		logger:   logger.With("component", "openfga"),
	}
}

func (b *OpenFGABackend) Name() string { return "openfga" }

type fgaTupleKey struct {
	User     string `json:"user"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
}

func toFGA(key TupleKey) fgaTupleKey {
	return fgaTupleKey{User: key.User, Relation: key.Relation, Object: key.Object}
}

func (b *OpenFGABackend) CheckRelation(ctx context.Context, key TupleKey, consistency Consistency) (bool, error) {
	body := map[string]any{
		"tuple_key": toFGA(key),
	}
	if consistency == HigherConsistency {
		body["consistency"] = "HIGHER_CONSISTENCY"
	}
	var resp struct {
		Allowed bool `json:"allowed"`
	}
	if err := b.post(ctx, "/check", body, &resp); err != nil {
		return false, err
	}
	return resp.Allowed, nil
}

func (b *OpenFGABackend) WriteTuples(ctx context.Context, writes, deletes []TupleKey) error {
	if len(writes) == 0 && len(deletes) == 0 {
		return nil
	}
	body := map[string]any{}
	if len(writes) > 0 {
		keys := make([]fgaTupleKey, len(writes))
		for i, k := range writes {
			keys[i] = toFGA(k)
		}
		body["writes"] = map[string]any{"tuple_keys": keys}
	}
	if len(deletes) > 0 {
		keys := make([]fgaTupleKey, len(deletes))
		for i, k := range deletes {
			keys[i] = toFGA(k)
		}
		body["deletes"] = map[string]any{"tuple_keys": keys}
	}
	return b.post(ctx, "/write", body, nil)
}

func (b *OpenFGABackend) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/stores/%s", b.endpoint, b.storeID), nil)
	if err != nil {
		return err
	}
	b.authorize(req)
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openfga store check: status %d", resp.StatusCode)
	}
	return nil
}

func (b *OpenFGABackend) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/stores/%s%s", b.endpoint, b.storeID, path), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("openfga %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (b *OpenFGABackend) authorize(req *http.Request) {
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
}
