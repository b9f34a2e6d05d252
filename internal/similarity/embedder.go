package similarity

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sashabaranov/go-openai"
)

// Embedder generates text embeddings
type Embedder interface {
	// Embed generates embeddings for texts, in input order
	Embed(ctx context.Context, texts ...string) ([][]float32, error)
}

// EmbedderConfig holds embedding configuration
type EmbedderConfig struct {
	Model     string // "text-embedding-3-small"
	APIKey    string
	BaseURL   string // Optional, defaults to OpenAI
	CacheSize int    // LRU cache size, default 10000
}

// OpenAIEmbedder implements Embedder with the OpenAI embeddings API and an
// LRU cache in front of it
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	cache  *lru.Cache[string, []float32]
}

// NewOpenAIEmbedder creates a new embedder
func NewOpenAIEmbedder(config EmbedderConfig) (*OpenAIEmbedder, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required for embeddings")
	}
	if config.Model == "" {
		config.Model = string(openai.SmallEmbedding3)
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 10000
	}

	cache, err := lru.New[string, []float32](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientConfig),
		model:  config.Model,
		cache:  cache,
	}, nil
}

// Embed returns cached vectors where possible and fetches the rest in one call
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts ...string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	results := make([][]float32, len(texts))
	var uncachedIdx []int
	var uncached []string

	for i, text := range texts {
		if cached, ok := e.cache.Get(text); ok {
			results[i] = cached
			continue
		}
		uncachedIdx = append(uncachedIdx, i)
		uncached = append(uncached, text)
	}

	if len(uncached) == 0 {
		return results, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: uncached,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	if len(resp.Data) != len(uncached) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(uncached), len(resp.Data))
	}

	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(uncached) {
			return nil, fmt.Errorf("invalid embedding index: %d", item.Index)
		}
		idx := uncachedIdx[item.Index]
		e.cache.Add(texts[idx], item.Embedding)
		results[idx] = item.Embedding
	}

	return results, nil
}

// Purge drops every cached vector
func (e *OpenAIEmbedder) Purge() {
	e.cache.Purge()
}

// Len reports how many vectors are cached
func (e *OpenAIEmbedder) Len() int {
	return e.cache.Len()
}
