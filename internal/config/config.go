package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Demo        DemoConfig                `json:"demo"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Tracing     TracingConfig             `json:"tracing"`
}

type BasicConfig struct {
	ServerAddress string   `json:"server_address"`
	Mode          string   `json:"mode"`
	CORSOrigins   []string `json:"cors_origins"`
}

// DemoConfig tunes the anonymous demo flow.
type DemoConfig struct {
	SessionTTLMinutes       int    `json:"session_ttl_minutes"`
	QuestionLimit           int    `json:"question_limit"`
	ReapIntervalMinutes     int    `json:"reap_interval_minutes"`
	MaxUploadBytes          int64  `json:"max_upload_bytes"`
	GenerationTimeoutSecond int    `json:"generation_timeout_seconds"`
	SessionStore            string `json:"session_store"`
	DocumentStore           string `json:"document_store"`
	FileBaseDir             string `json:"file_base_dir"`
	AnswerProvider          string `json:"answer_provider"`
	AnswerModel             string `json:"answer_model"`
	RateLimitPerMinute      int    `json:"rate_limit_per_minute"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
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
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	Exporter    string `json:"exporter"`
	Endpoint    string `json:"endpoint"`
	Insecure    bool   `json:"insecure"`
	ServiceName string `json:"service_name"`
}

const (
	DefaultSessionTTL        = 30 * time.Minute
	DefaultQuestionLimit     = 5
	DefaultReapInterval      = 5 * time.Minute
	DefaultMaxUploadBytes    = 10 << 20 // 10 MB
	DefaultGenerationTimeout = 30 * time.Second
	DefaultRateLimit         = 30
)

// Default returns a configuration with every value filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing file is not an error; defaults are used instead.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if dir := cfg.Demo.FileBaseDir; !filepath.IsAbs(dir) {
		cfg.Demo.FileBaseDir = filepath.Join(filepath.Dir(absPath), dir)
	}
	if sqlite, ok := cfg.Databases["sqlite3"]; ok && sqlite.DSN != "" && !strings.HasPrefix(sqlite.DSN, "file:") && !filepath.IsAbs(sqlite.DSN) {
		sqlite.DSN = filepath.Join(filepath.Dir(absPath), sqlite.DSN)
		cfg.Databases["sqlite3"] = sqlite
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8090"
	}
	if c.BasicConfig.Mode == "" {
		c.BasicConfig.Mode = "dev"
	}
	if len(c.BasicConfig.CORSOrigins) == 0 {
		c.BasicConfig.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	d := &c.Demo
	if d.SessionTTLMinutes <= 0 {
		d.SessionTTLMinutes = int(DefaultSessionTTL / time.Minute)
	}
	if d.QuestionLimit <= 0 {
		d.QuestionLimit = DefaultQuestionLimit
	}
	if d.ReapIntervalMinutes <= 0 {
		d.ReapIntervalMinutes = int(DefaultReapInterval / time.Minute)
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if d.GenerationTimeoutSecond <= 0 {
		d.GenerationTimeoutSecond = int(DefaultGenerationTimeout / time.Second)
	}
	if d.SessionStore == "" {
		d.SessionStore = "memory"
	}
	if d.DocumentStore == "" {
		d.DocumentStore = "file"
	}
	if d.FileBaseDir == "" {
		d.FileBaseDir = "./data/demo"
	}
	if d.AnswerProvider == "" {
		d.AnswerProvider = "template"
	}
	if d.RateLimitPerMinute <= 0 {
		d.RateLimitPerMinute = DefaultRateLimit
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: "file:legaldemo.db?_busy_timeout=5000"}
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "legaldemo"
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}
}

// applyEnv lets deployments override secrets and the listen address
// without editing the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("LEGALDEMO_ADDR"); v != "" {
		c.BasicConfig.ServerAddress = v
	}
	if v := os.Getenv("LEGALDEMO_MODE"); v != "" {
		c.BasicConfig.Mode = v
	}
	for name, prov := range c.Providers {
		if key := os.Getenv(strings.ToUpper(name) + "_API_KEY"); key != "" && prov.APIKey == "" {
			prov.APIKey = key
			c.Providers[name] = prov
		}
	}
}

func (c *Config) validate() error {
	switch c.Demo.SessionStore {
	case "memory", "sql":
	default:
		return fmt.Errorf("demo.session_store must be memory or sql, got %q", c.Demo.SessionStore)
	}
	switch c.Demo.DocumentStore {
	case "file", "redis":
	default:
		return fmt.Errorf("demo.document_store must be file or redis, got %q", c.Demo.DocumentStore)
	}
	switch c.Demo.AnswerProvider {
	case "template":
	case "openai", "claude", "gemini":
		if _, ok := c.Providers[c.Demo.AnswerProvider]; !ok {
			return fmt.Errorf("provider %s not configured", c.Demo.AnswerProvider)
		}
	default:
		return fmt.Errorf("unknown answer provider: %s", c.Demo.AnswerProvider)
	}
	return nil
}

// SessionTTL is the lifetime of one demo session.
func (d DemoConfig) SessionTTL() time.Duration {
	return time.Duration(d.SessionTTLMinutes) * time.Minute
}

// ReapInterval is the period of the expired-session sweep.
func (d DemoConfig) ReapInterval() time.Duration {
	return time.Duration(d.ReapIntervalMinutes) * time.Minute
}

// GenerationTimeout bounds one answer generation call.
func (d DemoConfig) GenerationTimeout() time.Duration {
	return time.Duration(d.GenerationTimeoutSecond) * time.Second
}
