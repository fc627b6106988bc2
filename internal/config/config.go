package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// DefaultModelID is the pretrained CLIP text encoder served by default.
	DefaultModelID = "Xenova/clip-vit-base-patch32"

	// DefaultRemoteHost is the model repository used when local models are disabled.
	DefaultRemoteHost = "https://huggingface.co"

	// DefaultDimension is the projection size of the default encoder.
	DefaultDimension = 512

	// DefaultONNXFile is the quantized text tower with projection, as published
	// alongside the default model.
	DefaultONNXFile = "onnx/text_model_quantized.onnx"
)

// Supported encoder backends. BackendONNX runs the pretrained CLIP text
// model; the others are alternatives that do not share the CLIP image space.
const (
	BackendONNX   = "onnx"
	BackendChroma = "chroma"
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

// Config holds all configuration for clipembed.
type Config struct {
	Model     ModelConfig     `mapstructure:"model"`
	Hub       HubConfig       `mapstructure:"hub"`
	Tokenizer TokenizerConfig `mapstructure:"tokenizer"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Search    SearchConfig    `mapstructure:"search"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	API       APIConfig       `mapstructure:"api"`
}

// ModelConfig selects the text encoder.
type ModelConfig struct {
	ID        string `mapstructure:"id"`
	Backend   string `mapstructure:"backend"`
	Dimension int    `mapstructure:"dimension"` // 0 = read projection_dim from the model config
	ONNXFile  string `mapstructure:"onnx_file"`
}

// HubConfig controls how model files are resolved.
type HubConfig struct {
	RemoteHost       string        `mapstructure:"remote_host"`
	Revision         string        `mapstructure:"revision"`
	AllowLocalModels bool          `mapstructure:"allow_local_models"`
	LocalModelPath   string        `mapstructure:"local_model_path"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxFileSize      int64         `mapstructure:"max_file_size"`
}

// TokenizerConfig holds the options passed on every tokenizer call.
type TokenizerConfig struct {
	Padding    bool `mapstructure:"padding"`
	Truncation bool `mapstructure:"truncation"`
}

// OllamaConfig holds Ollama embedding service settings.
type OllamaConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// OpenAIConfig holds OpenAI embedding API settings.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// String returns a safe representation of OpenAIConfig with the API key masked.
func (c OpenAIConfig) String() string {
	return fmt.Sprintf("OpenAIConfig{APIKey:%s, BaseURL:%s, Model:%s}", maskAPIKey(c.APIKey), c.BaseURL, c.Model)
}

// maskAPIKey shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskAPIKey(key string) string {
	const visible = 4
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}

// RuntimeConfig locates the native libraries behind the tokenizer and the
// ONNX encoder. Empty paths use the shared download caches.
type RuntimeConfig struct {
	ONNXLibraryPath       string `mapstructure:"onnx_library_path"`
	TokenizersLibraryPath string `mapstructure:"tokenizers_library_path"`
}

// SearchConfig holds the scoring defaults. Thresholds are percentages of
// cosine similarity.
type SearchConfig struct {
	PositiveThreshold float64 `mapstructure:"positive_threshold"`
	NegativeThreshold float64 `mapstructure:"negative_threshold"`
	MaxResults        int     `mapstructure:"max_results"`
}

// WorkerConfig holds embedding worker settings.
type WorkerConfig struct {
	EmitErrors     bool          `mapstructure:"emit_errors"`
	QueueSize      int           `mapstructure:"queue_size"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// Load reads configuration from .env, the config file and environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(homeDir(), ".clipembed"))
	v.AddConfigPath(".")

	v.SetEnvPrefix("CLIPEMBED")
	v.AutomaticEnv()

	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("model.id", "CLIPEMBED_MODEL_ID")
	_ = v.BindEnv("model.backend", "CLIPEMBED_MODEL_BACKEND")
	_ = v.BindEnv("hub.remote_host", "CLIPEMBED_HUB_REMOTE_HOST")
	_ = v.BindEnv("hub.allow_local_models", "CLIPEMBED_HUB_ALLOW_LOCAL_MODELS")
	_ = v.BindEnv("ollama.base_url", "CLIPEMBED_OLLAMA_BASE_URL")
	_ = v.BindEnv("api.listen_addr", "CLIPEMBED_API_LISTEN_ADDR")
	_ = v.BindEnv("api.auth_token", "CLIPEMBED_API_AUTH_TOKEN")
	_ = v.BindEnv("runtime.onnx_library_path", "CLIPEMBED_ONNX_LIBRARY_PATH")
	_ = v.BindEnv("runtime.tokenizers_library_path", "TOKENIZERS_LIB_PATH")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model.id", DefaultModelID)
	v.SetDefault("model.backend", BackendONNX)
	v.SetDefault("model.dimension", 0)
	v.SetDefault("model.onnx_file", DefaultONNXFile)

	v.SetDefault("hub.remote_host", DefaultRemoteHost)
	v.SetDefault("hub.revision", "main")
	v.SetDefault("hub.allow_local_models", false)
	v.SetDefault("hub.local_model_path", filepath.Join(homeDir(), ".clipembed", "models"))
	v.SetDefault("hub.timeout", 10*time.Minute)
	v.SetDefault("hub.max_file_size", 512<<20)

	v.SetDefault("tokenizer.padding", true)
	v.SetDefault("tokenizer.truncation", true)

	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.model", "nomic-embed-text")

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "text-embedding-3-small")

	v.SetDefault("runtime.onnx_library_path", "")
	v.SetDefault("runtime.tokenizers_library_path", "")

	v.SetDefault("search.positive_threshold", 10.0)
	v.SetDefault("search.negative_threshold", 10.0)
	v.SetDefault("search.max_results", 150)

	v.SetDefault("worker.emit_errors", false)
	v.SetDefault("worker.queue_size", 64)
	v.SetDefault("worker.request_timeout", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.auth_token", "")
}

// Validate checks that required configuration fields are set and consistent.
func (c *Config) Validate() error {
	if c.Model.ID == "" {
		return fmt.Errorf("model.id must not be empty")
	}
	switch c.Model.Backend {
	case BackendONNX, BackendChroma, BackendOllama, BackendOpenAI:
	default:
		return fmt.Errorf("model.backend %q must be one of onnx, chroma, ollama, openai", c.Model.Backend)
	}
	if c.Model.Backend == BackendONNX && c.Model.ONNXFile == "" {
		return fmt.Errorf("model.onnx_file must not be empty for the onnx backend")
	}
	if c.Model.Dimension < 0 {
		return fmt.Errorf("model.dimension must be >= 0")
	}
	if !c.Hub.AllowLocalModels && c.Hub.RemoteHost == "" {
		return fmt.Errorf("hub.remote_host must not be empty when local models are disabled")
	}
	if c.Hub.AllowLocalModels && c.Hub.LocalModelPath == "" {
		return fmt.Errorf("hub.local_model_path must not be empty when local models are enabled")
	}
	if c.Model.Backend == BackendOllama && c.Ollama.BaseURL == "" {
		return fmt.Errorf("ollama.base_url must not be empty")
	}
	if c.Model.Backend == BackendOpenAI && c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key must be set for the openai backend")
	}
	if c.Hub.MaxFileSize < 0 {
		return fmt.Errorf("hub.max_file_size must be >= 0")
	}
	if err := validThreshold("search.positive_threshold", c.Search.PositiveThreshold); err != nil {
		return err
	}
	if err := validThreshold("search.negative_threshold", c.Search.NegativeThreshold); err != nil {
		return err
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.max_results must be >= 0")
	}
	if c.Worker.QueueSize < 0 {
		return fmt.Errorf("worker.queue_size must be >= 0")
	}
	if c.Worker.RequestTimeout <= 0 {
		return fmt.Errorf("worker.request_timeout must be greater than 0")
	}
	return nil
}

func validThreshold(key string, v float64) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("%s must be between 0 and 100", key)
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
