package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the assistant service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address      string   `mapstructure:"address"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// PostgresConfig describes the analytics database connection
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN assembles a postgres:// DSN, preferring an explicit URL when present.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (postgres.host/dbname or postgres.url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig describes the optional redis backend for sessions and scheduler locks
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

func (r RedisConfig) Enabled() bool { return r.Host != "" && r.Port != "" }

// LLMConfig contains the language model provider settings
type LLMConfig struct {
	Provider        string        `mapstructure:"provider"` // openai
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// AssistantConfig tunes the question-answering core
type AssistantConfig struct {
	AllowedTables           []string      `mapstructure:"allowed_tables"`
	MaxSampleRows           int           `mapstructure:"max_sample_rows"`
	StatementTimeout        time.Duration `mapstructure:"statement_timeout"`
	RetrievalTopK           int           `mapstructure:"retrieval_top_k"`
	HybridRetrieval         bool          `mapstructure:"hybrid_retrieval"`
	HistoryWindow           int           `mapstructure:"history_window"`
	MaxSQLRetries           int           `mapstructure:"max_sql_retries"`
	EnableVectorFallback    bool          `mapstructure:"enable_vector_fallback"`
	MaxConcurrentModelCalls int           `mapstructure:"max_concurrent_model_calls"`
	SessionStore            string        `mapstructure:"session_store"` // inmemory | redis
	SessionTTL              time.Duration `mapstructure:"session_ttl"`
	ChunkTable              string        `mapstructure:"chunk_table"`
}

// IngestConfig controls offline chunk generation
type IngestConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	CronSpec   string        `mapstructure:"cron_spec"`
	EmbedBatch int           `mapstructure:"embed_batch"`
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
}

// TelemetryConfig contains monitoring settings
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

// DefaultAllowedTables is the fixed allow-list of domain tables the assistant may read.
var DefaultAllowedTables = []string{
	"students", "units", "grades", "attendance", "bootcamps", "assessments",
	"grades_summary", "classroom_metrics",
}

// LoadConfig loads config from file, .env and environment
func LoadConfig(path string) *Config {
	// .env keeps parity with local development setups; absence is fine.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", 60*time.Second)
	viper.SetDefault("server.address", ":8000")
	viper.SetDefault("server.allow_origins", []string{"http://localhost:3000", "http://localhost:3001"})
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.completion_model", "gpt-4o-mini")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.max_tokens", 2048)
	viper.SetDefault("llm.timeout", 30*time.Second)
	viper.SetDefault("assistant.allowed_tables", DefaultAllowedTables)
	viper.SetDefault("assistant.max_sample_rows", 10)
	viper.SetDefault("assistant.statement_timeout", 5*time.Second)
	viper.SetDefault("assistant.retrieval_top_k", 50)
	viper.SetDefault("assistant.hybrid_retrieval", false)
	viper.SetDefault("assistant.history_window", 5)
	viper.SetDefault("assistant.max_sql_retries", 1)
	viper.SetDefault("assistant.enable_vector_fallback", true)
	viper.SetDefault("assistant.max_concurrent_model_calls", 4)
	viper.SetDefault("assistant.session_store", "inmemory")
	viper.SetDefault("assistant.session_ttl", 24*time.Hour)
	viper.SetDefault("assistant.chunk_table", "rag_chunks")
	viper.SetDefault("ingest.embed_batch", 64)
	viper.SetDefault("ingest.cron_spec", "@daily")
	viper.SetDefault("ingest.lock_ttl", 10*time.Minute)
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.metrics_path", "/metrics")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("CLASSSIGHT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Common env aliases used by the deployment scripts.
	_ = viper.BindEnv("postgres.url", "DATABASE_URL")
	_ = viper.BindEnv("llm.api_key", "OPENAI_API_KEY")

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional; defaults plus env cover the full surface.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	if len(config.Assistant.AllowedTables) == 0 {
		config.Assistant.AllowedTables = DefaultAllowedTables
	}
	return &config
}
