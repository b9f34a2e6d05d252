package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/gradeflow/internal/model"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Gradeflow configuration",
	Long: `Manage Gradeflow configuration files and settings.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (GRADEFLOW_*, OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY)
3. Config file (~/.gradeflow/config.yaml)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration after defaults, config file, env vars and flags are merged. API keys are never printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if configFile := viper.ConfigFileUsed(); configFile != "" {
			fmt.Fprintf(os.Stderr, "Configuration file: %s\n\n", configFile)
		} else {
			fmt.Fprintf(os.Stderr, "No configuration file found (using defaults)\n\n")
		}

		yamlData, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Println(string(yamlData))

		fmt.Println("API keys:")
		fmt.Printf("  openai:    %s\n", keyState(cfg.LLM.OpenAIAPIKey))
		fmt.Printf("  anthropic: %s\n", keyState(cfg.LLM.AnthropicAPIKey))
		fmt.Printf("  gemini:    %s\n", keyState(cfg.LLM.GeminiAPIKey))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize default configuration file",
	Long:  `Create a default configuration file at ~/.gradeflow/config.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("find home directory: %w", err)
		}

		configDir := filepath.Join(home, ".gradeflow")
		configPath := filepath.Join(configDir, "config.yaml")

		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists: %s\nUse 'gradeflow config show' to view it, or delete it first to recreate", configPath)
		}
		if err := os.MkdirAll(configDir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}

		yamlData, err := yaml.Marshal(model.DefaultConfig())
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}

		header := `# Gradeflow Configuration File
#
# Configuration hierarchy (highest to lowest priority):
#   1. CLI flags
#   2. Environment variables (GRADEFLOW_*)
#   3. This config file
#   4. Built-in defaults
#
# API keys are read from the environment only:
#   export OPENAI_API_KEY=sk-...
#   export ANTHROPIC_API_KEY=sk-ant-...
#   export GEMINI_API_KEY=...

`
		if err := os.WriteFile(configPath, append([]byte(header), yamlData...), 0o600); err != nil {
			return fmt.Errorf("write config: %w", err)
		}

		fmt.Printf("✓ Created default configuration: %s\n", configPath)
		fmt.Printf("\nTo view the configuration:\n")
		fmt.Printf("  gradeflow config show\n")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

// loadConfig merges defaults, the config file and environment overrides
func loadConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()

	if path := viper.ConfigFileUsed(); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	overrideString(&cfg.Database.Path, "database.path")
	overrideString(&cfg.Images.Root, "images.root")
	overrideString(&cfg.LLM.VisionProvider, "llm.vision_provider")
	overrideString(&cfg.LLM.VisionModel, "llm.vision_model")
	overrideString(&cfg.LLM.CritiqueProvider, "llm.critique_provider")
	overrideString(&cfg.LLM.CritiqueModel, "llm.critique_model")
	overrideString(&cfg.LLM.BaseURL, "llm.base_url")
	overrideString(&cfg.Notify.RedisAddr, "notify.redis_addr")
	overrideString(&cfg.Metrics.Addr, "metrics.addr")
	if viper.IsSet("pipeline.workers") {
		cfg.Pipeline.Workers = viper.GetInt("pipeline.workers")
	}
	if viper.IsSet("cache.enabled") {
		cfg.Cache.Enabled = viper.GetBool("cache.enabled")
	}

	cfg.LLM.OpenAIAPIKey = viper.GetString("openai_api_key")
	cfg.LLM.AnthropicAPIKey = viper.GetString("anthropic_api_key")
	cfg.LLM.GeminiAPIKey = viper.GetString("gemini_api_key")
	return cfg, nil
}

// overrideString replaces dst when key is set by a flag or env var
func overrideString(dst *string, key string) {
	if v := viper.GetString(key); v != "" && viper.IsSet(key) {
		*dst = v
	}
}

func keyState(key string) string {
	if key == "" {
		return "not set"
	}
	return "set"
}
