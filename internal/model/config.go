package model

import "time"

// Config is the complete gradeflow configuration
type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Images       ImageConfig        `yaml:"images"`
	Cache        CacheConfig        `yaml:"cache"`
	LLM          LLMConfig          `yaml:"llm"`
	Similarity   SimilarityConfig   `yaml:"similarity"`
	Verification VerificationConfig `yaml:"verification"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Notify       NotifyConfig       `yaml:"notify"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// DatabaseConfig points at the sqlite repository
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ImageConfig controls the scanned image store
type ImageConfig struct {
	Root         string `yaml:"root"`           // Relative image paths resolve against this directory
	MaxSizeBytes int64  `yaml:"max_size_bytes"` // Images above this size are rejected
}

// CacheConfig controls the extraction result cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Dir       string        `yaml:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl"`
}

// LLMConfig selects the external vision and critique capabilities
type LLMConfig struct {
	VisionProvider    string        `yaml:"vision_provider"`   // openai, anthropic, gemini, ollama
	VisionModel       string        `yaml:"vision_model"`
	CritiqueProvider  string        `yaml:"critique_provider"` // empty disables the critique path
	CritiqueModel     string        `yaml:"critique_model"`
	OpenAIAPIKey      string        `yaml:"-"`
	AnthropicAPIKey   string        `yaml:"-"`
	GeminiAPIKey      string        `yaml:"-"`
	BaseURL           string        `yaml:"base_url,omitempty"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxTokens         int           `yaml:"max_tokens"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Retry             RetryConfig   `yaml:"retry"`
}

// RetryConfig is the single retry/backoff policy applied to transient failures
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	InitialWait time.Duration `yaml:"initial_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
	Multiplier  float64       `yaml:"multiplier"`
}

// SimilarityConfig controls the semantic similarity capability
type SimilarityConfig struct {
	Enabled   bool   `yaml:"enabled"` // false forces the keyword fallback
	Model     string `yaml:"model"`
	CacheSize int    `yaml:"cache_size"`
}

// VerificationConfig bounds outbound critique requests
type VerificationConfig struct {
	Workers int `yaml:"workers"`
}

// PipelineConfig controls script processing
type PipelineConfig struct {
	Workers int         `yaml:"workers"`
	Retry   RetryConfig `yaml:"retry"`
}

// NotifyConfig controls progress event delivery
type NotifyConfig struct {
	RedisAddr    string `yaml:"redis_addr,omitempty"` // empty disables redis publishing
	RedisChannel string `yaml:"redis_channel"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"` // empty disables the endpoint
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "gradeflow.db"},
		Images: ImageConfig{
			Root:         "./uploads",
			MaxSizeBytes: 10 << 20,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       ".gradeflow-cache",
			MemoryTTL: time.Hour,
			DiskTTL:   7 * 24 * time.Hour,
		},
		LLM: LLMConfig{
			VisionProvider:    "openai",
			VisionModel:       "gpt-4o",
			CritiqueProvider:  "gemini",
			CritiqueModel:     "gemini-flash",
			Timeout:           60 * time.Second,
			MaxTokens:         4000,
			RequestsPerSecond: 2,
			Burst:             3,
			Retry: RetryConfig{
				MaxAttempts: 3,
				InitialWait: time.Second,
				MaxWait:     10 * time.Second,
				Multiplier:  2.0,
			},
		},
		Similarity: SimilarityConfig{
			Enabled:   true,
			Model:     "text-embedding-3-small",
			CacheSize: 10000,
		},
		Verification: VerificationConfig{Workers: 3},
		Pipeline: PipelineConfig{
			Workers: 4,
			Retry: RetryConfig{
				MaxAttempts: 1,
				InitialWait: 2 * time.Second,
				MaxWait:     30 * time.Second,
				Multiplier:  2.0,
			},
		},
		Notify: NotifyConfig{RedisChannel: "gradeflow:progress"},
	}
}
