package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	VLM       VLMConfig       `mapstructure:"vlm"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
	// MaxUploadMB bounds multipart bodies on /upload.
	MaxUploadMB int `mapstructure:"max_upload_mb"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Environment string `mapstructure:"environment"`
	File        string `mapstructure:"file"`
	FileOnly    bool   `mapstructure:"file_only"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres or sqlite
	DSN    string `mapstructure:"dsn"`
	Path   string `mapstructure:"path"` // sqlite file when DSN is empty

	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type"` // s3, r2, s3compatible, minio
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	// SignedURLTTL is the lifetime of gallery display links.
	SignedURLTTL time.Duration `mapstructure:"signed_url_ttl"`
}

type VLMConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AnalysisConfig is the model-tier policy of the confidence-gated analyzer.
type AnalysisConfig struct {
	PrimaryModel        string  `mapstructure:"primary_model"`
	PrimaryMaxTokens    int     `mapstructure:"primary_max_tokens"`
	FallbackModel       string  `mapstructure:"fallback_model"`
	FallbackMaxTokens   int     `mapstructure:"fallback_max_tokens"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

type PipelineConfig struct {
	RenameAttempts  int           `mapstructure:"rename_attempts"`
	RenameBaseDelay time.Duration `mapstructure:"rename_base_delay"`
	JitterMin       time.Duration `mapstructure:"jitter_min"`
	JitterMax       time.Duration `mapstructure:"jitter_max"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	// ProcessUploads starts the pipeline in the background after /upload stores a file.
	ProcessUploads bool `mapstructure:"process_uploads"`
	// Reprocess settings are used by cmd/reprocess.
	ReprocessWorkers int `mapstructure:"reprocess_workers"`
	ReprocessBatch   int `mapstructure:"reprocess_batch"`
	// ReprocessPendingGrace keeps young placeholders away from the backlog run.
	ReprocessPendingGrace time.Duration `mapstructure:"reprocess_pending_grace"`
}

type QdrantConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from an optional YAML file, .env and the environment.
// Parameters:
//   - configPath: explicit config file; empty searches ./configs and the working dir.
//
// Returns:
//   - *Config: resolved configuration.
//   - error: non-nil if the file exists but cannot be read or decoded.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and deployment-specific values use conventional env names.
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
	_ = v.BindEnv("logging.environment", "APP_ENV")
	_ = v.BindEnv("logging.file", "LOG_FILE")
	_ = v.BindEnv("database.driver", "DATABASE_DRIVER")
	_ = v.BindEnv("database.dsn", "DATABASE_URL")
	_ = v.BindEnv("storage.type", "STORAGE_TYPE")
	_ = v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	_ = v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	_ = v.BindEnv("storage.bucket", "STORAGE_BUCKET")
	_ = v.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	_ = v.BindEnv("vlm.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("vlm.base_url", "OPENAI_BASE_URL")
	_ = v.BindEnv("embedding.api_key", "EMBEDDING_API_KEY")
	_ = v.BindEnv("analysis.confidence_threshold", "CONFIDENCE_THRESHOLD")
	_ = v.BindEnv("qdrant.host", "QDRANT_HOST")
	_ = v.BindEnv("qdrant.port", "QDRANT_PORT")
	_ = v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// The embedding provider shares the OpenAI key unless given its own.
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == EmbeddingProviderOpenAI {
		cfg.Embedding.APIKey = cfg.VLM.APIKey
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("server.max_upload_mb", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.environment", "local")
	v.SetDefault("logging.file", "/var/log/flashtag/app.log")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/flashtag.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("storage.type", "")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "images")
	v.SetDefault("storage.signed_url_ttl", time.Hour)

	v.SetDefault("vlm.base_url", "https://api.openai.com/v1")
	v.SetDefault("vlm.timeout", 60*time.Second)

	v.SetDefault("analysis.primary_model", "gpt-4o")
	v.SetDefault("analysis.primary_max_tokens", 2000)
	v.SetDefault("analysis.fallback_model", "gpt-4-turbo")
	v.SetDefault("analysis.fallback_max_tokens", 1000)
	v.SetDefault("analysis.confidence_threshold", 0.8)

	v.SetDefault("embedding.provider", EmbeddingProviderOpenAI)
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.dimensions", 1536)

	v.SetDefault("pipeline.rename_attempts", 3)
	v.SetDefault("pipeline.rename_base_delay", time.Second)
	v.SetDefault("pipeline.jitter_min", 100*time.Millisecond)
	v.SetDefault("pipeline.jitter_max", 600*time.Millisecond)
	v.SetDefault("pipeline.settle_delay", 1500*time.Millisecond)
	v.SetDefault("pipeline.probe_timeout", 10*time.Second)
	v.SetDefault("pipeline.process_uploads", false)
	v.SetDefault("pipeline.reprocess_workers", 3)
	v.SetDefault("pipeline.reprocess_batch", 50)
	v.SetDefault("pipeline.reprocess_pending_grace", 10*time.Minute)

	v.SetDefault("qdrant.enabled", false)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "images")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
