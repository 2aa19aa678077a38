// Package retrieval consumes the vector-search service: ranked similarity
// search with equality metadata filters, plus the client-side score and price
// filtering the store cannot do itself.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	CollectionProducts = "products"
	CollectionHandbook = "general_handbook"

	maxResponseSizeBytes = 2 << 20
)

// ScoredDocument is one ranked hit. Distance is the store's raw metric;
// Similarity is filled in by FilterByThreshold. Metadata is flat scalars only.
type ScoredDocument struct {
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	Distance   float64        `json:"distance"`
	Similarity float64        `json:"-"`
}

// Searcher is the retrieval boundary the tool layer depends on.
type Searcher interface {
	Query(ctx context.Context, collection, query string, k int, filter map[string]any) ([]ScoredDocument, error)
}

type Config struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// ClientOption customizes SearchClient.
type ClientOption func(*SearchClient)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *SearchClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// SearchClient talks to the vector-search service over REST.
type SearchClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Searcher = (*SearchClient)(nil)

func NewSearchClient(cfg Config, opts ...ClientOption) (*SearchClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("search service url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid search service url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &SearchClient{
		baseURL: baseURL,
		token:   strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

type queryRequest struct {
	Collection string         `json:"collection"`
	Query      string         `json:"query"`
	K          int            `json:"k"`
	Filter     map[string]any `json:"filter,omitempty"`
}

type queryResponse struct {
	Result []ScoredDocument `json:"result"`
	Error  string           `json:"error"`
}

// Query runs a ranked similarity search. The filter supports equality matches
// only; range constraints are applied by the caller after the fact.
func (c *SearchClient) Query(ctx context.Context, collection, query string, k int, filter map[string]any) ([]ScoredDocument, error) {
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("collection is required")
	}
	if k <= 0 {
		return nil, errors.New("k must be > 0")
	}

	body, err := json.Marshal(queryRequest{
		Collection: collection,
		Query:      query,
		K:          k,
		Filter:     filter,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute search request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("search http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed queryResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return parsed.Result, nil
}
