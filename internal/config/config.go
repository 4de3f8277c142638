package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultPath = "config.json"

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Models      ModelConfig               `json:"models"`
	Environment EnvironmentConfig         `json:"environment"`
	Telemetry   TelemetryConfig           `json:"telemetry"`
	Redis       RedisConfig               `json:"redis"`
	Databases   map[string]DatabaseConfig `json:"databases"`
}

type BasicConfig struct {
	ServerAddress         string `json:"server_address"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// ModelConfig names the models each provider branch is bound to.
type ModelConfig struct {
	APIModel   string `json:"api_model"`
	APIBaseURL string `json:"api_base_url"`
	MaxTokens  int    `json:"max_tokens"`
	LocalModel string `json:"local_model"`
	CLIPath    string `json:"cli_path"`
}

// EnvironmentConfig holds the names of the variables consulted on every request.
type EnvironmentConfig struct {
	ProductionVar   string `json:"production_var"`
	ProductionValue string `json:"production_value"`
	APIKeyVar       string `json:"api_key_var"`
}

type TelemetryConfig struct {
	QueueSize int    `json:"queue_size"`
	Workers   int    `json:"workers"`
	Database  string `json:"database"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

// Default returns a configuration usable without any file on disk.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()

	if name := cfg.Telemetry.Database; name != "" {
		dbCfg, ok := cfg.Databases[name]
		if !ok {
			return nil, fmt.Errorf("telemetry database %q is not configured", name)
		}
		if isSQLite(name) && dbCfg.DSN != "" && dbCfg.DSN != ":memory:" && !strings.HasPrefix(dbCfg.DSN, "file:") && !filepath.IsAbs(dbCfg.DSN) {
			dbCfg.DSN = filepath.Join(filepath.Dir(absPath), dbCfg.DSN)
			cfg.Databases[name] = dbCfg
		}
	}

	return &cfg, nil
}

// RequestTimeout bounds the total duration of one chat request.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.BasicConfig.RequestTimeoutSeconds) * time.Second
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8090"
	}
	if c.BasicConfig.RequestTimeoutSeconds <= 0 {
		c.BasicConfig.RequestTimeoutSeconds = 120
	}
	if c.Models.APIModel == "" {
		c.Models.APIModel = "claude-sonnet-4-5"
	}
	if c.Models.MaxTokens <= 0 {
		c.Models.MaxTokens = 4096
	}
	if c.Models.LocalModel == "" {
		c.Models.LocalModel = "sonnet"
	}
	if c.Models.CLIPath == "" {
		c.Models.CLIPath = "claude"
	}
	if c.Environment.ProductionVar == "" {
		c.Environment.ProductionVar = "APP_ENV"
	}
	if c.Environment.ProductionValue == "" {
		c.Environment.ProductionValue = "production"
	}
	if c.Environment.APIKeyVar == "" {
		c.Environment.APIKeyVar = "ANTHROPIC_API_KEY"
	}
	if c.Telemetry.QueueSize <= 0 {
		c.Telemetry.QueueSize = 256
	}
	if c.Telemetry.Workers <= 0 {
		c.Telemetry.Workers = 2
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
}

func isSQLite(name string) bool {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}
