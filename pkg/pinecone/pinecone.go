package pinecone

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

	toolx "github.com/fitlabs/respond-agent/agent/tool"
)

type Config struct {
	Host      string        `split_words:"true" required:"true"`
	APIKey    string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Namespace string        `split_words:"true"`
	Timeout   time.Duration `split_words:"true" default:"10s"`
}

// Client queries a Pinecone serverless index over its data-plane REST API.
type Client struct {
	host       string
	apiKey     string
	namespace  string
	httpClient *http.Client
}

var _ toolx.VectorIndex = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, errors.New("pinecone host is required")
	}
	if !strings.HasPrefix(host, "http") {
		host = "https://" + host
	}
	if _, err := url.ParseRequestURI(host); err != nil {
		return nil, fmt.Errorf("invalid pinecone host: %w", err)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("pinecone api key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		host:       strings.TrimRight(host, "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		namespace:  strings.TrimSpace(cfg.Namespace),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

type queryRequest struct {
	Vector          []float64 `json:"vector"`
	TopK            int       `json:"topK"`
	Namespace       string    `json:"namespace,omitempty"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []struct {
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"matches"`
}

func (c *Client) Query(ctx context.Context, vector []float64, topK int) ([]toolx.Passage, error) {
	if len(vector) == 0 {
		return nil, errors.New("query vector is empty")
	}
	if topK <= 0 {
		topK = 5
	}

	body, err := json.Marshal(queryRequest{
		Vector:          vector,
		TopK:            topK,
		Namespace:       c.namespace,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal pinecone query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build pinecone request: %w", err)
	}
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute pinecone request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read pinecone response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("pinecone query status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed queryResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode pinecone response: %w", err)
	}

	passages := make([]toolx.Passage, 0, len(parsed.Matches))
	for _, match := range parsed.Matches {
		text, _ := match.Metadata["text"].(string)
		if strings.TrimSpace(text) == "" {
			continue
		}
		passages = append(passages, toolx.Passage{
			Text:  text,
			Score: match.Score,
		})
	}
	return passages, nil
}
