package openrouter

import (
	"context"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// EmbeddingConfig selects the embedding model. Embeddings go to the OpenAI
// API directly; OpenRouter does not proxy them.
type EmbeddingConfig struct {
	APIKey string `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model  string `envconfig:"MODEL" split_words:"true" default:"text-embedding-3-small"`
}

// EmbeddingClient turns text into dense vectors using the OpenAI SDK.
type EmbeddingClient struct {
	client *openaisdk.Client
	model  string
}

func NewEmbeddingClient(cfg EmbeddingConfig) *EmbeddingClient {
	client := openaisdk.NewClient(
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
	)
	return &EmbeddingClient{
		client: &client,
		model:  cfg.Model,
	}
}

func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfString: openaisdk.String(text),
		},
		Model: openaisdk.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openrouter: create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openrouter: empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}
