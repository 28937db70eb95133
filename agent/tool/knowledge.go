package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

const ToolKnowledgeSearch = "knowledge.search"

// minRelevance drops weakly related passages before they reach the model.
const minRelevance = 0.7

// Passage is one scored hit from the knowledge base.
type Passage struct {
	Text  string
	Score float64
}

// KnowledgeSearcher answers free-text questions from the knowledge base.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string) ([]Passage, error)
}

// Embedder turns text into a dense vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// VectorIndex runs nearest-neighbor queries over stored passages.
type VectorIndex interface {
	Query(ctx context.Context, vector []float64, topK int) ([]Passage, error)
}

// VectorSearcher implements KnowledgeSearcher over an embedding model and a
// vector index.
type VectorSearcher struct {
	embedder Embedder
	index    VectorIndex
	topK     int
}

func NewVectorSearcher(embedder Embedder, index VectorIndex) *VectorSearcher {
	return &VectorSearcher{
		embedder: embedder,
		index:    index,
		topK:     5,
	}
}

func (s *VectorSearcher) Search(ctx context.Context, query string) ([]Passage, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.index.Query(ctx, vector, s.topK)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	relevant := make([]Passage, 0, len(hits))
	for _, hit := range hits {
		if hit.Score >= minRelevance {
			relevant = append(relevant, hit)
		}
	}
	return relevant, nil
}

// NewKnowledgeTool builds the knowledge base search tool.
func NewKnowledgeTool(searcher KnowledgeSearcher) Tool {
	info := &schema.ToolInfo{
		Name: ToolKnowledgeSearch,
		Desc: "Search the club knowledge base: rules, pricing policy, trainers, facilities, FAQs.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Desc: "The question to look up", Required: true},
		}),
	}

	run := func(ctx context.Context, args map[string]any) (string, error) {
		query := strings.TrimSpace(stringArg(args, "query"))
		if query == "" {
			return "", fmt.Errorf("query is required")
		}

		passages, err := searcher.Search(ctx, query)
		if err != nil {
			return "", fmt.Errorf("search knowledge base: %w", err)
		}
		if len(passages) == 0 {
			return "No relevant information found in the knowledge base for this question.", nil
		}

		var sb strings.Builder
		for i, p := range passages {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(strings.TrimSpace(p.Text))
		}
		return sb.String(), nil
	}

	return Tool{Info: info, Run: run}
}
