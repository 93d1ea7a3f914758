package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LLM      LLMConfig
	Server   ServerConfig
	Chat     ChatConfig
	Sampling Sampling `mapstructure:"params"`
	Models   map[string]int
	Repair   RepairConfig
	LogLevel string `mapstructure:"log_level"`
}

// LLMConfig holds the upstream completion API configuration
type LLMConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// ChatConfig holds conversation behavior settings.
type ChatConfig struct {
	PreloadFile        string `mapstructure:"preload_file"`
	PreloadEnabled     bool   `mapstructure:"preload_enabled"`
	ChatLogPath        string `mapstructure:"chat_log_path"`
	ContinuationPrompt string `mapstructure:"continuation_prompt"`
}

// Sampling holds the global default sampling parameters. Per-user overrides
// are layered on top of these at request time; this table itself is never
// mutated by a reroll.
type Sampling struct {
	Model            string  `mapstructure:"model"`
	Temperature      float32 `mapstructure:"temperature"`
	TopP             float32 `mapstructure:"top_p"`
	MaxTokens        int     `mapstructure:"max_tokens"`
	PresencePenalty  float32 `mapstructure:"presence_penalty"`
	FrequencyPenalty float32 `mapstructure:"frequency_penalty"`
}

// RepairConfig holds the word lists used by the response repair pass.
// Empty lists fall back to the built-in defaults.
type RepairConfig struct {
	Abbreviations  []string `mapstructure:"abbreviations"`
	DanglingTokens []string `mapstructure:"dangling_tokens"`
}

// Load loads the configuration from config.yaml, or from the file named by
// the CONFIG_PATH environment variable when set.
func Load() (*Config, error) {
	v := viper.New()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("llm.timeout", "90s")
	v.SetDefault("log_level", "info")

	v.SetDefault("chat.preload_file", "preloads/example_dialogue.json")
	v.SetDefault("chat.preload_enabled", false)
	v.SetDefault("chat.chat_log_path", "chat_logs.db")
	v.SetDefault("chat.continuation_prompt", "Please continue from where you left off, but finish quickly.")

	v.SetDefault("params.model", "magnum-72b")
	v.SetDefault("params.temperature", 1.0)
	v.SetDefault("params.top_p", 1.0)
	v.SetDefault("params.max_tokens", 200)

	v.SetDefault("models", map[string]int{
		"magnum-72b":    16384,
		"magnum-72b-v4": 16384,
		"goliath-120b":  6144,
	})
}
