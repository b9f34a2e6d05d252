package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/gradeflow/internal/model"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Generate sends one request and returns the raw model output
	Generate(ctx context.Context, req Request) (*Response, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// Image is an inline image attached to a request
type Image struct {
	Data     []byte
	MIMEType string
}

// DataURI renders the image as a base64 data URI
func (i Image) DataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", i.MIMEType, i.Base64())
}

// Base64 returns the standard base64 encoding of the image bytes
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// Schema describes the JSON shape the model must reply with
type Schema struct {
	Name        string
	Description string
	Definition  map[string]any
}

// Request is a single generation request
type Request struct {
	System      string
	Prompt      string
	Images      []Image
	Schema      *Schema // nil means free-form text
	MaxTokens   int
	Temperature float64
}

// Response is the provider output
type Response struct {
	Content    json.RawMessage
	Model      string
	TokensUsed int
}

// Text returns the content as a trimmed string
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(string(r.Content))
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "gemini", "ollama", "mock", ""
	Provider string

	// Model name (provider-specific, friendly aliases allowed)
	Model string

	// APIKey for hosted providers
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama, OpenAI-compatible gateways)
	BaseURL string

	// Timeout for a single API request
	Timeout time.Duration

	// MaxTokens default when a request does not set one
	MaxTokens int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:  "", // Disabled by default
		Timeout:   60 * time.Second,
		MaxTokens: 4000,
	}
}

// VisionConfig selects the provider used for handwriting extraction
func VisionConfig(m model.LLMConfig) Config {
	return configFor(m, m.VisionProvider, m.VisionModel)
}

// CritiqueConfig selects the provider used for score verification
func CritiqueConfig(m model.LLMConfig) Config {
	return configFor(m, m.CritiqueProvider, m.CritiqueModel)
}

func configFor(m model.LLMConfig, provider, modelName string) Config {
	cfg := DefaultConfig()
	cfg.Provider = strings.ToLower(provider)
	cfg.Model = modelName
	cfg.BaseURL = m.BaseURL
	if m.Timeout > 0 {
		cfg.Timeout = m.Timeout
	}
	if m.MaxTokens > 0 {
		cfg.MaxTokens = m.MaxTokens
	}

	switch cfg.Provider {
	case "openai":
		cfg.APIKey = m.OpenAIAPIKey
	case "anthropic", "claude":
		cfg.APIKey = m.AnthropicAPIKey
	case "gemini":
		cfg.APIKey = m.GeminiAPIKey
	}
	return cfg
}

func maxTokensFor(req Request, cfg Config) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return 1000
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// resolveModel maps a friendly model name to a provider model ID.
func resolveModel(name string, models map[string]string) string {
	if id, ok := models[name]; ok {
		return id
	}
	return name
}
