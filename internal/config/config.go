package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig      `yaml:"server"`
	Database     DatabaseConfig    `yaml:"database"`
	JWT          JWTConfig         `yaml:"jwt"`
	Redis        RedisConfig       `yaml:"redis"`
	Log          LogConfig         `yaml:"log"`
	Generator    ModelConfig       `yaml:"generator"`
	Detector     ModelConfig       `yaml:"detector"`
	Orchestrator ModelConfig       `yaml:"orchestrator"`
	Competition  CompetitionConfig `yaml:"competition"`
	Pricing      map[string]Price  `yaml:"pricing"`
	PromptsPath  string            `yaml:"prompts_path"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test

	// CORSOrigins empty allows any origin.
	CORSOrigins []string `yaml:"cors_origins"`
	// RateLimitRPS is round starts per second per caller.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireHour int    `yaml:"expire_hour"`
}

// RedisConfig for optional async task queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console; empty picks console at debug level
}

// ModelConfig describes one language-model endpoint.
// Provider is one of openai, azure, anthropic, gemini, ollama.
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type CompetitionConfig struct {
	MaxRounds         int    `yaml:"max_rounds"`  // tool-calling rounds per email
	MaxRetries        int    `yaml:"max_retries"` // attempts per model call
	Workflows         int    `yaml:"workflows"`   // concurrent per-item pipelines
	Schedule          string `yaml:"schedule"`    // cron spec, empty disables unattended rounds
	ScheduledEmails   int    `yaml:"scheduled_emails"`
	StaleRoundHours   int    `yaml:"stale_round_hours"`
	MaxEmailsPerRound int    `yaml:"max_emails_per_round"`
}

// Price is USD per one million tokens.
type Price struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		// Decode over the defaults so partial files keep sane values.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.overrideFromEnv()
	cfg.applyFloors()
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "debug",

			RateLimitRPS:   0.2,
			RateLimitBurst: 3,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "scamarena.db",
		},
		JWT: JWTConfig{
			Secret:     "scamarena-secret-key-change-in-production",
			ExpireHour: 24,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Log: LogConfig{Level: "info"},
		Generator: ModelConfig{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   2000,
			Temperature: 0.9,
		},
		Detector: ModelConfig{
			Provider:    "anthropic",
			Model:       "claude-3-haiku-20240307",
			MaxTokens:   2000,
			Temperature: 0.6,
		},
		Orchestrator: ModelConfig{
			Provider:  "openai",
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o",
			MaxTokens: 16000,
		},
		Competition: CompetitionConfig{
			MaxRounds:         10,
			MaxRetries:        3,
			Workflows:         1,
			ScheduledEmails:   5,
			StaleRoundHours:   6,
			MaxEmailsPerRound: 100,
		},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		c.Server.CORSOrigins = strings.Split(origins, ",")
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	// Provider keys are shared by every role that targets the provider.
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		c.setKey("openai", apiKey)
		c.setKey("azure", apiKey)
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		c.setKey("anthropic", apiKey)
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		c.setKey("gemini", apiKey)
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		for _, m := range c.models() {
			if m.Provider == "openai" {
				m.BaseURL = baseURL
			}
		}
	}
	if model := os.Getenv("GENERATOR_MODEL"); model != "" {
		c.Generator.Model = model
	}
	if model := os.Getenv("DETECTOR_MODEL"); model != "" {
		c.Detector.Model = model
	}
	if model := os.Getenv("ORCHESTRATOR_MODEL"); model != "" {
		c.Orchestrator.Model = model
	}
	if v := os.Getenv("COMPETITION_MAX_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Competition.MaxRounds = n
		}
	}
	if v := os.Getenv("COMPETITION_WORKFLOWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Competition.Workflows = n
		}
	}
	if path := os.Getenv("PROMPTS_PATH"); path != "" {
		c.PromptsPath = path
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

func (c *Config) models() []*ModelConfig {
	return []*ModelConfig{&c.Generator, &c.Detector, &c.Orchestrator}
}

func (c *Config) setKey(provider, key string) {
	for _, m := range c.models() {
		if m.Provider == provider && m.APIKey == "" {
			m.APIKey = key
		}
	}
}

// applyFloors replaces non-positive limits with their defaults.
func (c *Config) applyFloors() {
	def := DefaultConfig().Competition
	if c.Competition.MaxRounds <= 0 {
		c.Competition.MaxRounds = def.MaxRounds
	}
	if c.Competition.MaxRetries <= 0 {
		c.Competition.MaxRetries = def.MaxRetries
	}
	if c.Competition.Workflows <= 0 {
		c.Competition.Workflows = def.Workflows
	}
	if c.Competition.MaxEmailsPerRound <= 0 {
		c.Competition.MaxEmailsPerRound = def.MaxEmailsPerRound
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
