package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Settings holds all configuration values
type Settings struct {
	// HTTP server configuration
	Server struct {
		Host string
		Port int
	}

	// Data directory for the database, uploads and vector indexes
	DataDir string

	// Logging configuration
	Logging struct {
		LogFile string
		Persist bool
		Level   string
	}

	// Default provider endpoint, used when the database has none
	Provider struct {
		Name         string
		APIBase      string
		APIKey       string
		DefaultModel string
	}

	// Chat pipeline configuration
	Chat struct {
		MaxToolRounds int
		SystemPrompt  string
	}

	// Web search configuration
	Search struct {
		DefaultSource string
		TavilyAPIKey  string
	}

	// Vision recognition configuration
	Vision struct {
		Model string
	}

	// Embedding endpoint for knowledge base indexing
	Embedding struct {
		Model   string
		APIBase string
		APIKey  string
	}

	// Retrieval configuration
	Retrieval struct {
		K              int
		ScoreThreshold float32
	}

	// ConfigFile stores the path to the config file used
	ConfigFile string
}

// Global settings instance
var Global *Settings

// Init initializes the configuration system
func Init(cfgFile string) error {
	Global = &Settings{}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		Global.ConfigFile = cfgFile
	} else {
		viper.AddConfigPath("./.loom")
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
		Global.ConfigFile = ".loom/settings.yaml"
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.BindEnv("provider.api_base", "LOOM_API_BASE")
	viper.BindEnv("provider.api_key", "LOOM_API_KEY")
	viper.BindEnv("provider.default_model", "LOOM_MODEL")
	viper.BindEnv("search.tavily_api_key", "TAVILY_API_KEY")

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	return Load()
}

// setDefaults sets all default configuration values
func setDefaults() {
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8000)

	viper.SetDefault("data_dir", "./.loom/data")

	viper.SetDefault("logging.log_file", "system.log")
	viper.SetDefault("logging.persist", false)
	viper.SetDefault("logging.level", "info")

	viper.SetDefault("provider.name", "local")
	viper.SetDefault("provider.api_base", "http://localhost:11434/v1")
	viper.SetDefault("provider.api_key", "not-needed")
	viper.SetDefault("provider.default_model", "qwen3:latest")

	viper.SetDefault("chat.max_tool_rounds", 5)
	viper.SetDefault("chat.system_prompt", "")

	viper.SetDefault("search.default_source", "duckduckgo")

	viper.SetDefault("vision.model", "")

	viper.SetDefault("embedding.model", "nomic-embed-text")
	viper.SetDefault("embedding.api_base", "http://localhost:11434/v1")
	viper.SetDefault("embedding.api_key", "not-needed")

	viper.SetDefault("retrieval.k", 4)
	viper.SetDefault("retrieval.score_threshold", 0.0)
}

// Load loads configuration from viper into the Settings struct
func Load() error {
	Global.Server.Host = viper.GetString("server.host")
	Global.Server.Port = viper.GetInt("server.port")

	Global.DataDir = viper.GetString("data_dir")

	Global.Logging.LogFile = viper.GetString("logging.log_file")
	Global.Logging.Persist = viper.GetBool("logging.persist")
	Global.Logging.Level = viper.GetString("logging.level")

	Global.Provider.Name = viper.GetString("provider.name")
	Global.Provider.APIBase = viper.GetString("provider.api_base")
	Global.Provider.APIKey = viper.GetString("provider.api_key")
	Global.Provider.DefaultModel = viper.GetString("provider.default_model")

	Global.Chat.MaxToolRounds = viper.GetInt("chat.max_tool_rounds")
	Global.Chat.SystemPrompt = viper.GetString("chat.system_prompt")

	Global.Search.DefaultSource = viper.GetString("search.default_source")
	Global.Search.TavilyAPIKey = viper.GetString("search.tavily_api_key")

	Global.Vision.Model = viper.GetString("vision.model")

	Global.Embedding.Model = viper.GetString("embedding.model")
	Global.Embedding.APIBase = viper.GetString("embedding.api_base")
	Global.Embedding.APIKey = viper.GetString("embedding.api_key")

	Global.Retrieval.K = viper.GetInt("retrieval.k")
	Global.Retrieval.ScoreThreshold = float32(viper.GetFloat64("retrieval.score_threshold"))

	return nil
}

// WriteDefaultConfig writes default configuration values to disk, preserving existing settings
func WriteDefaultConfig() error {
	if Global.ConfigFile == "" {
		return fmt.Errorf("config file path not set")
	}

	configDir := filepath.Dir(Global.ConfigFile)
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := viper.WriteConfigAs(Global.ConfigFile); err != nil {
		return fmt.Errorf("error writing config: %w", err)
	}

	return nil
}

// Get returns the global settings instance
func Get() *Settings {
	if Global == nil {
		panic("config not initialized - call Init() first")
	}
	return Global
}

// DataPath joins parts onto the configured data directory
func DataPath(parts ...string) string {
	base := "./.loom/data"
	if Global != nil && Global.DataDir != "" {
		base = Global.DataDir
	}
	return filepath.Join(append([]string{base}, parts...)...)
}
