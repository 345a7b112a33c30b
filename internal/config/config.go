package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Vector     VectorConfig     `yaml:"vector" mapstructure:"vector"`
	Media      MediaConfig      `yaml:"media" mapstructure:"media"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Moderation ModerationConfig `yaml:"moderation" mapstructure:"moderation"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// OpenAIConfig holds LLM provider settings.
type OpenAIConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	TextModel      string `yaml:"text_model" mapstructure:"text_model"`
	VisionModel    string `yaml:"vision_model" mapstructure:"vision_model"`
	EmbeddingModel string `yaml:"embedding_model" mapstructure:"embedding_model"`
	MaxRetries     int    `yaml:"max_retries" mapstructure:"max_retries"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// VectorConfig holds qdrant settings.
type VectorConfig struct {
	URL                 string `yaml:"url" mapstructure:"url"`
	CategoryCollection  string `yaml:"category_collection" mapstructure:"category_collection"`
	TemplateCollection  string `yaml:"template_collection" mapstructure:"template_collection"`
	Dimensions          int    `yaml:"dimensions" mapstructure:"dimensions"`
	SyncConcurrency     int    `yaml:"sync_concurrency" mapstructure:"sync_concurrency"`
	SearchLimit         int    `yaml:"search_limit" mapstructure:"search_limit"`
	ContextCategories   int    `yaml:"context_categories" mapstructure:"context_categories"`
	EmbedCharacterLimit int    `yaml:"embed_character_limit" mapstructure:"embed_character_limit"`
}

// MediaConfig configures product image fetching.
type MediaConfig struct {
	MaxImages   int `yaml:"max_images" mapstructure:"max_images"`
	MaxEdge     int `yaml:"max_edge" mapstructure:"max_edge"`
	JPEGQuality int `yaml:"jpeg_quality" mapstructure:"jpeg_quality"`
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PricingConfig holds per-model token pricing (USD per 1K tokens).
type PricingConfig struct {
	DefaultModel string                  `yaml:"default_model" mapstructure:"default_model"`
	Models       map[string]ModelPricing `yaml:"models" mapstructure:"models"`
}

// ModelPricing holds per-model token pricing.
type ModelPricing struct {
	InputPer1K  float64 `yaml:"input_per_1k" mapstructure:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k" mapstructure:"output_per_1k"`
}

// EnrichConfig configures orchestrator behavior.
type EnrichConfig struct {
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// ModerationConfig configures the quality gate.
type ModerationConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	MinPrice            float64 `yaml:"min_price" mapstructure:"min_price"`
	MinDescriptionLen   int     `yaml:"min_description_len" mapstructure:"min_description_len"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "enrich.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.text_model", "gpt-4o-mini")
	v.SetDefault("openai.vision_model", "gpt-4o")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.max_retries", 6)
	v.SetDefault("openai.timeout_secs", 90)
	v.SetDefault("vector.url", "http://localhost:6333")
	v.SetDefault("vector.category_collection", "categories")
	v.SetDefault("vector.template_collection", "templates")
	v.SetDefault("vector.dimensions", 1536)
	v.SetDefault("vector.sync_concurrency", 4)
	v.SetDefault("vector.search_limit", 5)
	v.SetDefault("vector.context_categories", 3)
	v.SetDefault("vector.embed_character_limit", 8000)
	v.SetDefault("media.max_images", 5)
	v.SetDefault("media.max_edge", 1024)
	v.SetDefault("media.jpeg_quality", 85)
	v.SetDefault("media.timeout_secs", 30)
	v.SetDefault("pricing.default_model", "gpt-4o-mini")
	v.SetDefault("enrich.temperature", 0.7)
	v.SetDefault("enrich.max_tokens", 1500)
	v.SetDefault("enrich.rate_per_sec", 1.0)
	v.SetDefault("moderation.confidence_threshold", 0.75)
	v.SetDefault("moderation.min_price", 100)
	v.SetDefault("moderation.min_description_len", 100)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
