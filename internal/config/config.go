package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	DefaultPath = "config/config.yaml"
)

type ServerConfig struct {
	Port           int           `yaml:"port"`
	Env            string        `yaml:"env"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	IdleTTL  time.Duration `yaml:"idle_ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text|json; json by default in production
}

type EmailConfig struct {
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password"`
	FromEmail    string `yaml:"from_email"`
}

func (e EmailConfig) Enabled() bool {
	return e.SMTPHost != "" && e.FromEmail != ""
}

type TelegramConfig struct {
	Token      string `yaml:"token"`
	ChatID     int64  `yaml:"chat_id"`
	DigestTime string `yaml:"digest_time"` // HH:MM; пусто = без дайджеста
}

func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && t.ChatID != 0
}

// Config is built once at startup and passed by reference to whoever needs it.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
	Email     EmailConfig     `yaml:"email"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == EnvProduction
}

// Default returns a configuration usable for local development.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 5000
	cfg.Server.Env = EnvDevelopment
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.ShutdownGrace = 10 * time.Second

	cfg.Database.Driver = DriverPostgres
	cfg.Database.MaxOpenConns = 25
	cfg.Database.MaxIdleConns = 25
	cfg.Database.ConnMaxIdleTime = 5 * time.Minute
	cfg.Database.ConnMaxLifetime = 30 * time.Minute

	cfg.Auth.TokenTTL = 7 * 24 * time.Hour
	cfg.Auth.BcryptCost = 10

	cfg.RateLimit.Enabled = true
	cfg.RateLimit.Requests = 100
	cfg.RateLimit.Window = 15 * time.Minute
	cfg.RateLimit.IdleTTL = 30 * time.Minute

	cfg.Log.Level = "info"
	cfg.Email.SMTPPort = 587
	return cfg
}

// Load reads .env (if any), then the YAML file at path (if it exists),
// then applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg from the environment. A variable that is set but
// cannot be parsed is an error.
func applyEnv(cfg *Config) error {
	var problems []string
	setInt := func(key string, dst *int) {
		if v := env(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s=%q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := env(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s=%q is not a duration", key, v))
				return
			}
			*dst = d
		}
	}

	setInt("PORT", &cfg.Server.Port)
	if v := env("APP_ENV"); v != "" {
		cfg.Server.Env = v
	}
	if v := env("CORS_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := env("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := env("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := env("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	setDuration("JWT_TTL", &cfg.Auth.TokenTTL)
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := env("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	setInt("SMTP_PORT", &cfg.Email.SMTPPort)
	if v := env("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := env("SMTP_PASSWORD"); v != "" {
		cfg.Email.SMTPPassword = v
	}
	if v := env("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := env("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := env("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			problems = append(problems, fmt.Sprintf("TELEGRAM_CHAT_ID=%q is not an integer", v))
		} else {
			cfg.Telegram.ChatID = id
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Validate checks the settings every deployment needs.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Database.Driver == DriverPostgres && c.Database.DSN == "" {
		problems = append(problems, "database.url is required for postgres")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		problems = append(problems, "auth.jwt_secret (JWT_SECRET) is required")
	} else if c.IsProduction() && len(c.Auth.JWTSecret) < 32 {
		problems = append(problems, "auth.jwt_secret must be at least 32 characters in production")
	}
	if c.Auth.TokenTTL <= 0 {
		problems = append(problems, "auth.token_ttl must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		problems = append(problems, fmt.Sprintf("auth.bcrypt_cost %d out of range", c.Auth.BcryptCost))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		problems = append(problems, "rate_limit.requests and rate_limit.window must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
