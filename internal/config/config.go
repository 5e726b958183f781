package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported vector store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverValkey = "valkey"
	DriverQdrant = "qdrant"
)

// Config holds the pagedex configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
	Database    DatabaseConfig    `yaml:"database"`
	Qdrant      QdrantConfig      `yaml:"qdrant"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Collection  CollectionConfig  `yaml:"collection"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Loader      LoaderConfig      `yaml:"loader"`
	Search      SearchConfig      `yaml:"search"`
	Storage     StorageConfig     `yaml:"storage"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int   `yaml:"port"`
	ReadTimeoutSec  int   `yaml:"read_timeout_sec"`
	WriteTimeoutSec int   `yaml:"write_timeout_sec"`
	ShutdownSec     int   `yaml:"shutdown_timeout_sec"`
	MaxUploadMB     int64 `yaml:"max_upload_mb"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// DatabaseConfig selects the vector store backend.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // memory, redis, valkey, qdrant (default: memory)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// QdrantConfig holds Qdrant REST settings.
type QdrantConfig struct {
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// EmbeddingConfig holds the embedding service settings.
type EmbeddingConfig struct {
	BaseURL      string  `yaml:"base_url"`
	Token        string  `yaml:"token"`
	TimeoutSec   int     `yaml:"timeout_sec"`
	Dimensions   int     `yaml:"dimensions"`
	JPEGQuality  int     `yaml:"jpeg_quality"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"` // 0 = unlimited
	CacheTTLSec  int     `yaml:"cache_ttl_sec"`  // query embedding cache, redis/valkey only; 0 = off
}

// CollectionConfig holds the schema applied to newly created collections.
type CollectionConfig struct {
	Quantile          float64 `yaml:"quantile"`
	AlwaysRAM         *bool   `yaml:"always_ram"`
	OnDiskPayload     *bool   `yaml:"on_disk_payload"`
	IndexingThreshold int     `yaml:"indexing_threshold"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	Workers      int `yaml:"workers"`
	MaxAttempts  int `yaml:"max_attempts"`
	RetryDelayMS int `yaml:"retry_delay_ms"`
}

// LoaderConfig holds document loader settings.
type LoaderConfig struct {
	PdftoppmPath string `yaml:"pdftoppm_path"`
	DPI          int    `yaml:"dpi"`
}

// SearchConfig holds retrieval settings.
type SearchConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k"`
}

// StorageConfig holds on-disk and key naming settings.
type StorageConfig struct {
	Dir       string `yaml:"dir"`
	KeyPrefix string `yaml:"key_prefix"`
}

// InterpreterConfig holds the vision-language model used to answer over retrieved pages.
type InterpreterConfig struct {
	BaseURL      string `yaml:"base_url"` // empty disables the interpreter
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	MaxImageSide int    `yaml:"max_image_side"`
	TimeoutSec   int    `yaml:"timeout_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands env variables in data, decodes it, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// search embeds the query remotely, cold starts take a while
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.MaxUploadMB <= 0 {
		c.HTTP.MaxUploadMB = 256
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverMemory
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Qdrant.TimeoutSec <= 0 {
		c.Qdrant.TimeoutSec = 30
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 60
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 128
	}
	if c.Embedding.JPEGQuality <= 0 {
		c.Embedding.JPEGQuality = 90
	}
	if c.Collection.Quantile <= 0 {
		c.Collection.Quantile = 0.99
	}
	if c.Collection.AlwaysRAM == nil {
		c.Collection.AlwaysRAM = boolPtr(true)
	}
	if c.Collection.OnDiskPayload == nil {
		c.Collection.OnDiskPayload = boolPtr(true)
	}
	if c.Collection.IndexingThreshold <= 0 {
		c.Collection.IndexingThreshold = 100
	}
	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = 1
	}
	if c.Ingest.MaxAttempts <= 0 {
		c.Ingest.MaxAttempts = 1
	}
	if c.Ingest.RetryDelayMS <= 0 {
		c.Ingest.RetryDelayMS = 500
	}
	if c.Loader.PdftoppmPath == "" {
		c.Loader.PdftoppmPath = "pdftoppm"
	}
	if c.Loader.DPI <= 0 {
		c.Loader.DPI = 150
	}
	if c.Search.DefaultTopK <= 0 {
		c.Search.DefaultTopK = 5
	}
	if c.Search.MaxTopK <= 0 {
		c.Search.MaxTopK = 100
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "storage"
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "pagedex:"
	}
	if c.Interpreter.Model == "" {
		c.Interpreter.Model = "Qwen2-VL-7B-Instruct"
	}
	if c.Interpreter.MaxImageSide <= 0 {
		c.Interpreter.MaxImageSide = 512
	}
	if c.Interpreter.TimeoutSec <= 0 {
		c.Interpreter.TimeoutSec = 120
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverRedis, DriverValkey:
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for driver %q", c.Database.Driver)
		}
	case DriverQdrant:
		if c.Qdrant.URL == "" {
			return fmt.Errorf("qdrant.url is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver must be one of memory, redis, valkey, qdrant, got %q", c.Database.Driver)
	}
	if c.Embedding.BaseURL == "" {
		return fmt.Errorf("embedding.base_url is required")
	}
	if c.Embedding.JPEGQuality > 100 {
		return fmt.Errorf("embedding.jpeg_quality must be between 1 and 100, got %d", c.Embedding.JPEGQuality)
	}
	if c.Collection.Quantile > 1 {
		return fmt.Errorf("collection.quantile must be in (0, 1], got %g", c.Collection.Quantile)
	}
	if c.Search.DefaultTopK > c.Search.MaxTopK {
		return fmt.Errorf("search.default_top_k (%d) exceeds search.max_top_k (%d)",
			c.Search.DefaultTopK, c.Search.MaxTopK)
	}
	return nil
}

func boolPtr(v bool) *bool { return &v }

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// relative to the source file, for tests and `go run` from subdirectories
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
