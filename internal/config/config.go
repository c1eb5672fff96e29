// Package config loads service configuration from YAML with environment
// overrides. A .env file in the working directory is honored for local
// development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nousbase/nous/internal/embed"
	"github.com/nousbase/nous/internal/rerank"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Embed    EmbedConfig    `yaml:"embed"`
	Rerank   RerankConfig   `yaml:"rerank"`
	Async    AsyncConfig    `yaml:"async"`
	Logging  LoggingConfig  `yaml:"logging"`
	QueryLog QueryLogConfig `yaml:"query_log"`
}

type ServerConfig struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`

	// AuthMode is "jwt" or "static".
	AuthMode string `yaml:"auth_mode"`

	// JWTSecret signs access tokens in jwt mode. Loaded from env, never
	// from YAML, so secrets stay out of config files.
	JWTSecret string `yaml:"-"`

	// JWTAudience is enforced when non-empty.
	JWTAudience string `yaml:"jwt_audience"`

	// StaticTokens maps bearer tokens to user IDs in static mode.
	StaticTokens map[string]string `yaml:"static_tokens"`
}

type StoreConfig struct {
	DataDir     string `yaml:"data_dir"`
	BM25Backend string `yaml:"bm25_backend"`
}

type EmbedConfig struct {
	// Provider is "remote" or "static". Static is the hash embedder for
	// development without a model server.
	Provider          string        `yaml:"provider"`
	Endpoint          string        `yaml:"endpoint"`
	APIKey            string        `yaml:"-"`
	Model             string        `yaml:"model"`
	Dimensions        int           `yaml:"dimensions"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	CacheSize         int           `yaml:"cache_size"`
}

type RerankConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"-"`
	Model    string `yaml:"model"`
}

type AsyncConfig struct {
	Workers    int           `yaml:"workers"`
	QueueSize  int           `yaml:"queue_size"`
	JobTimeout time.Duration `yaml:"job_timeout"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type QueryLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			AuthMode:    "static",
			JWTAudience: "authenticated",
		},
		Store: StoreConfig{
			DataDir:     defaultDataDir(),
			BM25Backend: "sqlite",
		},
		Embed: EmbedConfig{
			Provider:          "static",
			Model:             embed.DefaultModel,
			Dimensions:        embed.DefaultDimensions,
			Timeout:           30 * time.Second,
			RequestsPerSecond: 10,
			CacheSize:         4096,
		},
		Rerank: RerankConfig{
			Model: rerank.DefaultModel,
		},
		Async: AsyncConfig{
			Workers:   1,
			QueueSize: 64,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nous"
	}
	return home + "/.nous"
}

// Load reads the config file at path (optional), layers environment
// overrides on top of defaults, and validates the result.
func Load(path string) (*Config, error) {
	// Best effort; a missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays NOUS_* environment variables.
func (c *Config) applyEnv() {
	setString(&c.Server.Addr, "NOUS_ADDR")
	setString(&c.Server.AuthMode, "NOUS_AUTH_MODE")
	setString(&c.Server.JWTSecret, "NOUS_JWT_SECRET")
	setString(&c.Server.JWTAudience, "NOUS_JWT_AUDIENCE")
	setString(&c.Store.DataDir, "NOUS_DATA_DIR")
	setString(&c.Store.BM25Backend, "NOUS_BM25_BACKEND")
	setString(&c.Embed.Provider, "NOUS_EMBED_PROVIDER")
	setString(&c.Embed.Endpoint, "NOUS_EMBED_ENDPOINT")
	setString(&c.Embed.APIKey, "NOUS_EMBED_API_KEY")
	setString(&c.Embed.Model, "NOUS_EMBED_MODEL")
	setInt(&c.Embed.Dimensions, "NOUS_EMBED_DIMENSIONS")
	setString(&c.Rerank.Endpoint, "NOUS_RERANK_ENDPOINT")
	setString(&c.Rerank.APIKey, "NOUS_RERANK_API_KEY")
	setBool(&c.Rerank.Enabled, "NOUS_RERANK_ENABLED")
	setString(&c.Logging.Level, "NOUS_LOG_LEVEL")
	setString(&c.Logging.File, "NOUS_LOG_FILE")
	setBool(&c.QueryLog.Enabled, "NOUS_QUERY_LOG_ENABLED")
	setString(&c.QueryLog.Path, "NOUS_QUERY_LOG_PATH")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	switch c.Server.AuthMode {
	case "jwt":
		if c.Server.JWTSecret == "" {
			return fmt.Errorf("auth_mode jwt requires NOUS_JWT_SECRET")
		}
	case "static":
	default:
		return fmt.Errorf("unknown auth_mode %q (valid: jwt, static)", c.Server.AuthMode)
	}

	switch c.Embed.Provider {
	case "remote":
		if c.Embed.Endpoint == "" {
			return fmt.Errorf("embed provider remote requires an endpoint")
		}
	case "static":
	default:
		return fmt.Errorf("unknown embed provider %q (valid: remote, static)", c.Embed.Provider)
	}

	if c.Rerank.Enabled && c.Rerank.Endpoint == "" {
		return fmt.Errorf("rerank enabled without an endpoint")
	}

	switch c.Store.BM25Backend {
	case "sqlite", "bleve", "":
	default:
		return fmt.Errorf("unknown bm25_backend %q (valid: sqlite, bleve)", c.Store.BM25Backend)
	}
	return nil
}
