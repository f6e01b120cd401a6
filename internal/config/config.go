package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings
type Config struct {
	Partition      PartitionConfig      `yaml:"partition" mapstructure:"partition"`
	Pipeline       PipelineConfig       `yaml:"pipeline" mapstructure:"pipeline"`
	Sink           SinkConfig           `yaml:"sink" mapstructure:"sink"`
	Retry          RetryConfig          `yaml:"retry" mapstructure:"retry"`
	Redis          RedisConfig          `yaml:"redis" mapstructure:"redis"`
	Checkpoint     CheckpointConfig     `yaml:"checkpoint" mapstructure:"checkpoint"`
	DLQ            DLQConfig            `yaml:"dlq" mapstructure:"dlq"`
	Linking        LinkingConfig        `yaml:"linking" mapstructure:"linking"`
	Categorization CategorizationConfig `yaml:"categorization" mapstructure:"categorization"`
	GitHub         GitHubConfig         `yaml:"github" mapstructure:"github"`
	Neo4j          Neo4jConfig          `yaml:"neo4j" mapstructure:"neo4j"`
	Logging        LoggingConfig        `yaml:"logging" mapstructure:"logging"`
}

type PartitionConfig struct {
	// MaxSpanDays bounds the time range of a work unit. Required.
	MaxSpanDays float64 `yaml:"max_span_days" mapstructure:"max_span_days"`
}

type PipelineConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"` // 0 = runtime.NumCPU()
}

type SinkConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite3", "pgx", "postgres"
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	TablePrefix string `yaml:"table_prefix" mapstructure:"table_prefix"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
}

type RedisConfig struct {
	URL     string        `yaml:"url" mapstructure:"url"` // empty = in-process locks
	Prefix  string        `yaml:"prefix" mapstructure:"prefix"`
	LockTTL time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`
}

type CheckpointConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // empty = no resume support
}

type DLQConfig struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
	Retention  time.Duration `yaml:"retention" mapstructure:"retention"`
}

type LinkingConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	HeuristicWindowDays int     `yaml:"heuristic_window_days" mapstructure:"heuristic_window_days"`
	HeuristicConfidence float64 `yaml:"heuristic_confidence" mapstructure:"heuristic_confidence"`
}

type CategorizationConfig struct {
	WeightsPath string `yaml:"weights_path" mapstructure:"weights_path"` // empty = built-in table
}

type GitHubConfig struct {
	Token     string  `yaml:"token" mapstructure:"token"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // Requests per second
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
}

type Neo4jConfig struct {
	URI       string `yaml:"uri" mapstructure:"uri"`
	User      string `yaml:"user" mapstructure:"user"`
	Password  string `yaml:"password" mapstructure:"password"`
	Database  string `yaml:"database" mapstructure:"database"`
	BatchSize int    `yaml:"batch_size" mapstructure:"batch_size"`
}

type LoggingConfig struct {
	Level     string `yaml:"level" mapstructure:"level"`
	Format    string `yaml:"format" mapstructure:"format"` // "text" or "json"
	File      string `yaml:"file" mapstructure:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
}

// MaxSpan returns the partition span bound as a duration
func (c *Config) MaxSpan() time.Duration {
	return time.Duration(c.Partition.MaxSpanDays * float64(24*time.Hour))
}

// HeuristicWindow returns the linking time window as a duration
func (c *Config) HeuristicWindow() time.Duration {
	return time.Duration(c.Linking.HeuristicWindowDays) * 24 * time.Hour
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Sink: SinkConfig{
			Driver: "sqlite3",
			DSN:    filepath.Join(homeDir, ".workgraph", "workgraph.db"),
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    5 * time.Second,
		},
		Redis: RedisConfig{
			Prefix:  "workgraph:lock:",
			LockTTL: 30 * time.Second,
		},
		DLQ: DLQConfig{
			Enabled:    true,
			MaxRetries: 5,
			Retention:  7 * 24 * time.Hour,
		},
		Linking: LinkingConfig{
			Enabled:             true,
			HeuristicWindowDays: 7,
			HeuristicConfidence: 0.3,
		},
		GitHub: GitHubConfig{
			RateLimit: 10,
		},
		Neo4j: Neo4jConfig{
			Database:  "neo4j",
			BatchSize: 1000,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			MaxSizeMB: 100,
		},
	}
}

// setDefaults registers every leaf key so env vars and files can override
// any of them.
func setDefaults(v *viper.Viper, cfg *Config) {
	defaults := map[string]any{
		"partition.max_span_days":       cfg.Partition.MaxSpanDays,
		"pipeline.workers":              cfg.Pipeline.Workers,
		"sink.driver":                   cfg.Sink.Driver,
		"sink.dsn":                      cfg.Sink.DSN,
		"sink.table_prefix":             cfg.Sink.TablePrefix,
		"retry.max_attempts":            cfg.Retry.MaxAttempts,
		"retry.base_delay":              cfg.Retry.BaseDelay,
		"retry.max_delay":               cfg.Retry.MaxDelay,
		"redis.url":                     cfg.Redis.URL,
		"redis.prefix":                  cfg.Redis.Prefix,
		"redis.lock_ttl":                cfg.Redis.LockTTL,
		"checkpoint.path":               cfg.Checkpoint.Path,
		"dlq.enabled":                   cfg.DLQ.Enabled,
		"dlq.max_retries":               cfg.DLQ.MaxRetries,
		"dlq.retention":                 cfg.DLQ.Retention,
		"linking.enabled":               cfg.Linking.Enabled,
		"linking.heuristic_window_days": cfg.Linking.HeuristicWindowDays,
		"linking.heuristic_confidence":  cfg.Linking.HeuristicConfidence,
		"categorization.weights_path":   cfg.Categorization.WeightsPath,
		"github.token":                  cfg.GitHub.Token,
		"github.rate_limit":             cfg.GitHub.RateLimit,
		"github.base_url":               cfg.GitHub.BaseURL,
		"neo4j.uri":                     cfg.Neo4j.URI,
		"neo4j.user":                    cfg.Neo4j.User,
		"neo4j.password":                cfg.Neo4j.Password,
		"neo4j.database":                cfg.Neo4j.Database,
		"neo4j.batch_size":              cfg.Neo4j.BatchSize,
		"logging.level":                 cfg.Logging.Level,
		"logging.format":                cfg.Logging.Format,
		"logging.file":                  cfg.Logging.File,
		"logging.max_size_mb":           cfg.Logging.MaxSizeMB,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Load loads configuration from file. Precedence, highest first: explicit
// env overrides, WORKGRAPH_* env vars, the config file, defaults.
func Load(path string) (*Config, error) {
	// Load .env files first (in order of precedence)
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	setDefaults(v, cfg)

	v.SetEnvPrefix("WORKGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("workgraph")
		v.AddConfigPath(".workgraph")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".workgraph"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)
	applyKeyring(cfg, NewKeyringManager(nil))

	cfg.Sink.DSN = expandPath(cfg.Sink.DSN)
	cfg.Checkpoint.Path = expandPath(cfg.Checkpoint.Path)
	cfg.Categorization.WeightsPath = expandPath(cfg.Categorization.WeightsPath)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence. godotenv never
// overwrites variables already set, so the first file wins.
func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".workgraph", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		_ = godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies the conventional, unprefixed variables shared
// with other tooling.
func applyEnvOverrides(cfg *Config) {
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.Sink.DSN = dsn
		if cfg.Sink.Driver == "sqlite3" {
			cfg.Sink.Driver = "pgx"
		}
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
	}
	if rateLimit := os.Getenv("GITHUB_RATE_LIMIT"); rateLimit != "" {
		if rate, err := strconv.ParseFloat(rateLimit, 64); err == nil {
			cfg.GitHub.RateLimit = rate
		}
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		cfg.Neo4j.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		cfg.Neo4j.User = user
	}
	if password := os.Getenv("NEO4J_PASSWORD"); password != "" {
		cfg.Neo4j.Password = password
	}
	if db := os.Getenv("NEO4J_DATABASE"); db != "" {
		cfg.Neo4j.Database = db
	}
}

// applyKeyring fills secrets still unset from the OS keychain
func applyKeyring(cfg *Config, km *KeyringManager) {
	if cfg.GitHub.Token != "" && cfg.Neo4j.Password != "" {
		return
	}
	if !km.IsAvailable() {
		return
	}
	if cfg.GitHub.Token == "" {
		if token, err := km.GetGitHubToken(); err == nil {
			cfg.GitHub.Token = token
		}
	}
	if cfg.Neo4j.Password == "" {
		if password, err := km.GetNeo4jPassword(); err == nil {
			cfg.Neo4j.Password = password
		}
	}
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, c)
	// Secrets belong in the keychain or environment.
	v.Set("github.token", "")
	v.Set("neo4j.password", "")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
