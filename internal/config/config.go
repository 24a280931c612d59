// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type BotConfig struct {
	Token     string  `yaml:"token"`
	Mode      string  `yaml:"mode"` // polling | noop
	Username  string  `yaml:"username"`
	Workers   int     `yaml:"workers"` // polling workers
	AdminIDs  []int64 `yaml:"admin_ids"`
	RateLimit int     `yaml:"rate_limit"` // commands per user per minute, 0 disables
	Locale    string  `yaml:"locale"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	PostbackToken  string        `yaml:"postback_token"` // empty disables the check
	NotifyToken    string        `yaml:"notify_token"`
	JWTSecret      string        `yaml:"jwt_secret"`
	JWTTTL         time.Duration `yaml:"jwt_ttl"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type UnderdogConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Email    string        `yaml:"email"`
	Password string        `yaml:"password"`
	TokenTTL time.Duration `yaml:"token_ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}

type RoutingConfig struct {
	// DefaultChatID receives postbacks no alias or rule claims. 0 falls back
	// to the first admin id.
	DefaultChatID int64 `yaml:"default_chat_id"`
}

type JobConfig struct {
	Kind     string        `yaml:"kind"` // domains|ips|tickets|orders|design
	Interval time.Duration `yaml:"interval"`
	Days     int           `yaml:"days"`
}

type SchedulerConfig struct {
	Enabled bool          `yaml:"enabled"`
	DryRun  bool          `yaml:"dry_run"`
	LockTTL time.Duration `yaml:"lock_ttl"`
	Jobs    []JobConfig   `yaml:"jobs"`
}

type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Underdog  UnderdogConfig  `yaml:"underdog"`
	Routing   RoutingConfig   `yaml:"routing"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// secrets may be supplied by the environment or a .env file and win over YAML.
type secrets struct {
	BotToken         string `env:"TELEGRAM_BOT_TOKEN"`
	DatabaseURL      string `env:"DATABASE_URL"`
	RedisURL         string `env:"REDIS_URL"`
	RedisPassword    string `env:"REDIS_PASSWORD"`
	PostbackToken    string `env:"POSTBACK_TOKEN"`
	NotifyToken      string `env:"NOTIFY_TOKEN"`
	JWTSecret        string `env:"JWT_SECRET"`
	UnderdogBaseURL  string `env:"UNDERDOG_BASE_URL"`
	UnderdogEmail    string `env:"UNDERDOG_EMAIL"`
	UnderdogPassword string `env:"UNDERDOG_PASSWORD"`
}

// LoadConfig reads the YAML file at path, overlays secrets from the
// environment (and ./.env when present), applies defaults and validates.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}

	// a missing .env is normal outside development
	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.Runtime.Dev = dev
	return cfg, cfg.Validate()
}

// Parse decodes YAML and fills defaults without touching the environment.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var s secrets
	if err := env.Parse(&s); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	override(&c.Bot.Token, s.BotToken)
	override(&c.Database.URL, s.DatabaseURL)
	override(&c.Redis.URL, s.RedisURL)
	override(&c.Redis.Password, s.RedisPassword)
	override(&c.HTTP.PostbackToken, s.PostbackToken)
	override(&c.HTTP.NotifyToken, s.NotifyToken)
	override(&c.HTTP.JWTSecret, s.JWTSecret)
	override(&c.Underdog.BaseURL, s.UnderdogBaseURL)
	override(&c.Underdog.Email, s.UnderdogEmail)
	override(&c.Underdog.Password, s.UnderdogPassword)
	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c *Config) setDefaults() {
	if c.Bot.Workers <= 0 {
		c.Bot.Workers = 8
	}
	if c.Bot.Mode == "" {
		c.Bot.Mode = "polling"
	}
	if c.Bot.Locale == "" {
		c.Bot.Locale = "ru"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.JWTTTL <= 0 {
		c.HTTP.JWTTTL = 24 * time.Hour
	}
	if c.HTTP.RequestTimeout <= 0 {
		c.HTTP.RequestTimeout = 15 * time.Second
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	c.Redis.TTL = normalizeTTL(c.Redis.TTL)
	if c.Underdog.TokenTTL <= 0 {
		c.Underdog.TokenTTL = time.Hour
	}
	if c.Underdog.Timeout <= 0 {
		c.Underdog.Timeout = 30 * time.Second
	}
	if c.Scheduler.LockTTL <= 0 {
		c.Scheduler.LockTTL = 10 * time.Minute
	}
	for i := range c.Scheduler.Jobs {
		if c.Scheduler.Jobs[i].Days <= 0 {
			c.Scheduler.Jobs[i].Days = 30
		}
		if c.Scheduler.Jobs[i].Interval <= 0 {
			c.Scheduler.Jobs[i].Interval = time.Hour
		}
	}
}

// Validate performs minimal validation of required settings.
func (c *Config) Validate() error {
	if c.Bot.Token == "" && c.Bot.Mode != "noop" {
		return errors.New("bot.token is required")
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if c.Underdog.BaseURL != "" && (c.Underdog.Email == "" || c.Underdog.Password == "") {
		return errors.New("underdog.email and underdog.password are required with underdog.base_url")
	}
	return nil
}

// DefaultRecipient returns the chat that receives unrouted postbacks.
func (c *Config) DefaultRecipient() int64 {
	if c.Routing.DefaultChatID != 0 {
		return c.Routing.DefaultChatID
	}
	if len(c.Bot.AdminIDs) > 0 {
		return c.Bot.AdminIDs[0]
	}
	return 0
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
