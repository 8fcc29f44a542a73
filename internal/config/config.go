package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Video       VideoConfig               `json:"video"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Summary     SummaryConfig             `json:"summary"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	Environment       string `json:"environment"`
	LogLevel          string `json:"log_level"`
	SessionTTLHours   int    `json:"session_ttl_hours"`
	DefaultPageSize   int    `json:"default_page_size"`
	MinPageSize       int    `json:"min_page_size"`
	MaxPageSize       int    `json:"max_page_size"`
	CacheTTLSeconds   int    `json:"cache_ttl_seconds"`
	UnscopedAgentList bool   `json:"unscoped_agent_list"`
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

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// VideoConfig holds credentials for the external video platform.
type VideoConfig struct {
	BaseURL         string `json:"base_url"`
	APIKey          string `json:"api_key"`
	APISecret       string `json:"api_secret"`
	CallType        string `json:"call_type"`
	TokenTTLMinutes int    `json:"token_ttl_minutes"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
	Language        string `json:"transcription_language"`
	RecordQuality   string `json:"recording_quality"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

// SummaryConfig controls the background summarization workers.
type SummaryConfig struct {
	Provider          string `json:"provider"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout"`
}

// Load reads configuration from the provided path (defaults to config.json).
// A .env file next to the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if sqliteCfg, ok := cfg.Databases["sqlite3"]; ok {
		dsn := sqliteCfg.DSN
		if dsn != "" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") && !filepath.IsAbs(dsn) {
			sqliteCfg.DSN = filepath.Join(filepath.Dir(absPath), dsn)
			cfg.Databases["sqlite3"] = sqliteCfg
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration that cannot be defaulted.
func (c *Config) Validate() error {
	if len(c.Databases) == 0 {
		return errors.New("at least one database must be configured")
	}
	b := c.BasicConfig
	if b.MinPageSize > b.MaxPageSize {
		return fmt.Errorf("min_page_size %d exceeds max_page_size %d", b.MinPageSize, b.MaxPageSize)
	}
	if b.DefaultPageSize < b.MinPageSize || b.DefaultPageSize > b.MaxPageSize {
		return fmt.Errorf("default_page_size %d outside [%d, %d]", b.DefaultPageSize, b.MinPageSize, b.MaxPageSize)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("MEETDASH_ADDR")); v != "" {
		c.BasicConfig.ServerAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("MEETDASH_LOG_LEVEL")); v != "" {
		c.BasicConfig.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("VIDEO_API_KEY")); v != "" {
		c.Video.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("VIDEO_API_SECRET")); v != "" {
		c.Video.APISecret = v
	}
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.LogLevel == "" {
		b.LogLevel = "info"
	}
	if b.SessionTTLHours <= 0 {
		b.SessionTTLHours = 24 * 7
	}
	if b.MinPageSize <= 0 {
		b.MinPageSize = 1
	}
	if b.MaxPageSize <= 0 {
		b.MaxPageSize = 100
	}
	if b.DefaultPageSize <= 0 {
		b.DefaultPageSize = 10
	}
	if b.CacheTTLSeconds <= 0 {
		b.CacheTTLSeconds = 30
	}

	v := &c.Video
	if v.BaseURL == "" {
		v.BaseURL = "https://video.stream-io-api.com"
	}
	if v.CallType == "" {
		v.CallType = "default"
	}
	if v.TokenTTLMinutes <= 0 {
		v.TokenTTLMinutes = 60
	}
	if v.TimeoutSeconds <= 0 {
		v.TimeoutSeconds = 10
	}
	if v.Language == "" {
		v.Language = "en"
	}
	if v.RecordQuality == "" {
		v.RecordQuality = "1080p"
	}

	s := &c.Summary
	if s.MinWorkers <= 0 {
		s.MinWorkers = 1
	}
	if s.MaxWorkers < s.MinWorkers {
		s.MaxWorkers = s.MinWorkers * 4
	}
	if s.QueueSize <= 0 {
		s.QueueSize = 64
	}
	if s.WorkerIdleTimeout <= 0 {
		s.WorkerIdleTimeout = 5
	}
}

// Default returns a configuration with every default applied and an
// in-memory sqlite database. Used by tests and local development.
func Default() *Config {
	cfg := &Config{
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	cfg.applyDefaults()
	return cfg
}
