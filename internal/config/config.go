// Package config loads the ScenePilot service configuration.
//
// Sources, lowest precedence first: built-in defaults, an optional
// scenepilot.yaml, a .env file, and SCENEPILOT_* environment variables.
// Nested keys map to variables by upper-casing and replacing dots, so
// router.act_threshold is SCENEPILOT_ROUTER_ACT_THRESHOLD.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SCENEPILOT"

// Config holds all configuration for the decision service.
type Config struct {
	Port         int    `mapstructure:"port"`
	Version      string `mapstructure:"version"`
	CatalogPath  string `mapstructure:"catalog_path"` // empty serves the embedded catalog
	WatchCatalog bool   `mapstructure:"watch_catalog"`

	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Router     RouterConfig     `mapstructure:"router"`
	Resolver   ResolverConfig   `mapstructure:"resolver"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Guardrails GuardrailsConfig `mapstructure:"guardrails"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Index      IndexConfig      `mapstructure:"index"`
	History    HistoryConfig    `mapstructure:"history"`
	Notes      NotesConfig      `mapstructure:"notes"`
	Generation GenerationConfig `mapstructure:"generation"`
	Retention  RetentionConfig  `mapstructure:"retention"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"` // root spans only; children follow the parent
	Insecure     bool    `mapstructure:"insecure"`
}

type RouterConfig struct {
	ActThreshold        float64       `mapstructure:"act_threshold"`
	RecognizeThreshold  float64       `mapstructure:"recognize_threshold"`
	CarryoverConfidence float64       `mapstructure:"carryover_confidence"`
	RetrievalTimeout    time.Duration `mapstructure:"retrieval_timeout"`
	TopK                int           `mapstructure:"top_k"`
	HistoryWindow       int           `mapstructure:"history_window"` // turns loaded per request
}

type ResolverConfig struct {
	MinScore float64 `mapstructure:"min_score"`
	Epsilon  float64 `mapstructure:"epsilon"`
}

type RetrievalConfig struct {
	SemanticWeight float64 `mapstructure:"semantic_weight"`
	LexicalWeight  float64 `mapstructure:"lexical_weight"`
	RelevanceFloor float64 `mapstructure:"relevance_floor"`
	CandidatePool  int     `mapstructure:"candidate_pool"`
	ChunkSize      int     `mapstructure:"chunk_size"`
	ChunkOverlap   int     `mapstructure:"chunk_overlap"`
}

type GuardrailsConfig struct {
	MaxInputChars int  `mapstructure:"max_input_chars"`
	Injection     bool `mapstructure:"injection"`
}

type EmbeddingsConfig struct {
	Driver    string `mapstructure:"driver"` // hashing | ollama | openai
	Model     string `mapstructure:"model"`
	Endpoint  string `mapstructure:"endpoint"`
	APIKey    string `mapstructure:"api_key"`
	Dims      int    `mapstructure:"dims"`
	BatchSize int    `mapstructure:"batch_size"`
}

type IndexConfig struct {
	Driver string `mapstructure:"driver"` // embedded | pgvector
	URL    string `mapstructure:"url"`
}

type HistoryConfig struct {
	Driver        string        `mapstructure:"driver"` // memory | redis
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type NotesConfig struct {
	Driver string `mapstructure:"driver"` // memory | postgres
	DSN    string `mapstructure:"dsn"`
}

type GenerationConfig struct {
	Driver   string `mapstructure:"driver"` // template | ollama
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
}

type RetentionConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	IdleTTL  time.Duration `mapstructure:"idle_ttl"`
}

var defaults = map[string]interface{}{
	"port":          8080,
	"version":       "0.1.0",
	"catalog_path":  "",
	"watch_catalog": false,

	"telemetry.enabled":       false,
	"telemetry.otlp_endpoint": "localhost:4317",
	"telemetry.service_name":  "scenepilot",
	"telemetry.sample_ratio":  1.0,
	"telemetry.insecure":      true,

	"router.act_threshold":        0.7,
	"router.recognize_threshold":  0.5,
	"router.carryover_confidence": 0.9,
	"router.retrieval_timeout":    2 * time.Second,
	"router.top_k":                5,
	"router.history_window":       5,

	"resolver.min_score": 0.5,
	"resolver.epsilon":   0.05,

	"retrieval.semantic_weight": 0.7,
	"retrieval.lexical_weight":  0.3,
	"retrieval.relevance_floor": 0.35,
	"retrieval.candidate_pool":  0,
	"retrieval.chunk_size":      1200,
	"retrieval.chunk_overlap":   150,

	"guardrails.max_input_chars": 8000,
	"guardrails.injection":       true,

	"embeddings.driver":     "hashing",
	"embeddings.model":      "",
	"embeddings.endpoint":   "",
	"embeddings.api_key":    "",
	"embeddings.dims":       256,
	"embeddings.batch_size": 0,

	"index.driver": "embedded",
	"index.url":    "",

	"history.driver":         "memory",
	"history.redis_addr":     "localhost:6379",
	"history.redis_password": "",
	"history.redis_db":       0,
	"history.key_prefix":     "scenepilot",
	"history.ttl":            30 * time.Minute,

	"notes.driver": "memory",
	"notes.dsn":    "",

	"generation.driver":   "template",
	"generation.endpoint": "http://localhost:11434",
	"generation.model":    "llama3.1",

	"retention.interval": 5 * time.Minute,
	"retention.idle_ttl": 30 * time.Minute,
}

// Load reads the configuration. path names a config file; when empty,
// scenepilot.yaml is looked up in the working directory and ./configs and
// may be absent.
func Load(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("scenepilot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		log.Debug().Str("file", v.ConfigFileUsed()).Msg("Config file loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in defaults, ignoring files and environment.
func Default() *Config {
	var cfg Config
	if err := newViper().Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	return v
}

// Validate checks the cross-field constraints of the pipeline settings.
func (c *Config) Validate() error {
	r := c.Router
	if r.RecognizeThreshold <= 0 || r.RecognizeThreshold >= r.ActThreshold || r.ActThreshold > 1 {
		return fmt.Errorf("thresholds must satisfy 0 < recognize (%v) < act (%v) <= 1",
			r.RecognizeThreshold, r.ActThreshold)
	}
	if r.TopK <= 0 {
		return fmt.Errorf("router.top_k must be positive")
	}
	if r.RetrievalTimeout <= 0 {
		return fmt.Errorf("router.retrieval_timeout must be positive")
	}
	w := c.Retrieval
	if w.SemanticWeight < 0 || w.LexicalWeight < 0 || w.SemanticWeight+w.LexicalWeight == 0 {
		return fmt.Errorf("retrieval weights must be non-negative and not both zero")
	}
	if c.Guardrails.MaxInputChars <= 0 {
		return fmt.Errorf("guardrails.max_input_chars must be positive")
	}
	if c.Resolver.Epsilon < 0 {
		return fmt.Errorf("resolver.epsilon must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0,1]")
	}
	return nil
}

// loadEnvFile loads .env from the working directory when present. Variables
// already set in the environment win.
func loadEnvFile() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Load(".env"); err != nil {
		log.Warn().Err(err).Msg("Failed to load .env")
	}
}
