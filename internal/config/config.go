// Package config loads settings from .env, an optional YAML file and the
// environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type EventConfig struct {
	Code       string `yaml:"code"`
	Name       string `yaml:"name"`
	Date       string `yaml:"date"`
	Domain     string `yaml:"domain"`
	SenderName string `yaml:"sender_name"`
}

type TicketConfig struct {
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
	// BaseURL prefixes public links to locally stored files.
	BaseURL string `yaml:"base_url"`
}

type BlobConfig struct {
	Backend         string `yaml:"backend"`
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Timeout  time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Addr          string        `yaml:"addr"`
	SQLitePath    string        `yaml:"sqlite_path"`
	MigrationsDir string        `yaml:"migrations_dir"`
	StaticDir     string        `yaml:"static_dir"`
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	CORSOrigins   []string      `yaml:"cors_origins"`
	DevRoutes     bool          `yaml:"dev_routes"`
	StrictRoles   bool          `yaml:"strict_roles"`

	Event   EventConfig  `yaml:"event"`
	Tickets TicketConfig `yaml:"tickets"`
	Blob    BlobConfig   `yaml:"blob"`
	SMTP    SMTPConfig   `yaml:"smtp"`
	Retry   RetryConfig  `yaml:"retry"`
	Log     LogConfig    `yaml:"log"`

	Commit    string `yaml:"-"`
	BuildTime string `yaml:"-"`
}

const devSecret = "gatepass-dev-secret"

func Default() Config {
	return Config{
		Addr:       ":8080",
		SQLitePath: "data/gatepass.db",
		JWTSecret:  devSecret,
		TokenTTL:   60 * time.Minute,
		Event: EventConfig{
			Code:       "HACK25",
			Name:       "Internal Hackathon",
			Domain:     "mynwu.ac.za",
			SenderName: "Hackathon Team",
		},
		Tickets: TicketConfig{Format: "pdf", Dir: "tickets", BaseURL: "http://127.0.0.1:8080"},
		Blob:    BlobConfig{Backend: "local"},
		SMTP:    SMTPConfig{Port: 587},
		Retry:   RetryConfig{Attempts: 3, Timeout: 15 * time.Second},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads .env from the working directory if present, then the YAML
// file at path (or $GATEPASS_CONFIG), then environment overrides.
func Load(path string) (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}
	cfg := Default()
	if path == "" {
		path = os.Getenv("GATEPASS_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SafeEnv returns the environment variable value for key, or fallback if empty.
func SafeEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func firstEnv(fallback string, keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return fallback
}

func applyEnv(cfg *Config) error {
	cfg.Addr = SafeEnv("GATEPASS_ADDR", cfg.Addr)
	cfg.SQLitePath = SafeEnv("GATEPASS_SQLITE_PATH", cfg.SQLitePath)
	cfg.MigrationsDir = SafeEnv("GATEPASS_MIGRATIONS_DIR", cfg.MigrationsDir)
	cfg.StaticDir = SafeEnv("GATEPASS_STATIC_DIR", cfg.StaticDir)
	cfg.JWTSecret = firstEnv(cfg.JWTSecret, "GATEPASS_JWT_SECRET", "SECRET_KEY")

	cfg.Event.Code = SafeEnv("EVENT_CODE", cfg.Event.Code)
	cfg.Event.Name = SafeEnv("EVENT_NAME", cfg.Event.Name)
	cfg.Event.Date = SafeEnv("EVENT_DATE", cfg.Event.Date)
	cfg.Event.SenderName = SafeEnv("SENDER_NAME", cfg.Event.SenderName)
	cfg.Event.Domain = SafeEnv("GATEPASS_INSTITUTION_DOMAIN", cfg.Event.Domain)

	cfg.Tickets.Format = SafeEnv("GATEPASS_TICKET_FORMAT", cfg.Tickets.Format)
	cfg.Tickets.Dir = SafeEnv("TICKETS_DIR", cfg.Tickets.Dir)
	cfg.Tickets.BaseURL = SafeEnv("BASE_URL", cfg.Tickets.BaseURL)

	cfg.Blob.Backend = SafeEnv("GATEPASS_BLOB_BACKEND", cfg.Blob.Backend)
	cfg.Blob.Bucket = SafeEnv("QR_BUCKET", cfg.Blob.Bucket)
	cfg.Blob.CredentialsFile = SafeEnv("GATEPASS_GCS_CREDENTIALS", cfg.Blob.CredentialsFile)

	cfg.SMTP.Host = SafeEnv("SMTP_SERVER", cfg.SMTP.Host)
	cfg.SMTP.From = firstEnv(cfg.SMTP.From, "SMTP_EMAIL", "EMAIL_USER")
	cfg.SMTP.Username = firstEnv(cfg.SMTP.Username, "GATEPASS_SMTP_USERNAME", "SMTP_EMAIL", "EMAIL_USER")
	cfg.SMTP.Password = firstEnv(cfg.SMTP.Password, "SMTP_PASSWORD", "EMAIL_PASS")

	cfg.Log.Level = SafeEnv("GATEPASS_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = SafeEnv("GATEPASS_LOG_FORMAT", cfg.Log.Format)
	cfg.Commit = os.Getenv("GATEPASS_COMMIT")
	cfg.BuildTime = os.Getenv("GATEPASS_BUILD_TIME")

	if v := os.Getenv("GATEPASS_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}

	var errs []error
	if v := os.Getenv("SMTP_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, wrapEnv("SMTP_PORT", err))
		cfg.SMTP.Port = n
	}
	if v := os.Getenv("ACCESS_TOKEN_EXPIRE_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, wrapEnv("ACCESS_TOKEN_EXPIRE_MINUTES", err))
		cfg.TokenTTL = time.Duration(n) * time.Minute
	}
	if v := os.Getenv("GATEPASS_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		errs = append(errs, wrapEnv("GATEPASS_TOKEN_TTL", err))
		cfg.TokenTTL = d
	}
	if v := os.Getenv("GATEPASS_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, wrapEnv("GATEPASS_RETRY_ATTEMPTS", err))
		cfg.Retry.Attempts = n
	}
	if v := os.Getenv("GATEPASS_RETRY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		errs = append(errs, wrapEnv("GATEPASS_RETRY_TIMEOUT", err))
		cfg.Retry.Timeout = d
	}
	if v := os.Getenv("GATEPASS_DEV_ROUTES"); v != "" {
		b, err := strconv.ParseBool(v)
		errs = append(errs, wrapEnv("GATEPASS_DEV_ROUTES", err))
		cfg.DevRoutes = b
	}
	if v := os.Getenv("GATEPASS_STRICT_ROLES"); v != "" {
		b, err := strconv.ParseBool(v)
		errs = append(errs, wrapEnv("GATEPASS_STRICT_ROLES", err))
		cfg.StrictRoles = b
	}
	return errors.Join(errs...)
}

func wrapEnv(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", key, err)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports settings that would make the service misbehave.
func (c Config) Validate() error {
	var errs []error
	if c.Event.Code == "" {
		errs = append(errs, errors.New("event code is required"))
	}
	if c.Event.Domain == "" {
		errs = append(errs, errors.New("institution domain is required"))
	}
	switch strings.ToLower(c.Tickets.Format) {
	case "pdf", "png":
	default:
		errs = append(errs, fmt.Errorf("ticket format %q must be pdf or png", c.Tickets.Format))
	}
	switch c.Blob.Backend {
	case "local":
		if c.Tickets.Dir == "" {
			errs = append(errs, errors.New("tickets dir is required for the local blob backend"))
		}
	case "gcs":
		if c.Blob.Bucket == "" {
			errs = append(errs, errors.New("bucket is required for the gcs blob backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob backend %q must be local or gcs", c.Blob.Backend))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token ttl must be positive"))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, errors.New("retry attempts must be at least 1"))
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		errs = append(errs, errors.New("smtp sender address is required when a relay is set"))
	}
	return errors.Join(errs...)
}

// UsingDevSecret reports whether tokens are signed with the built-in key.
func (c Config) UsingDevSecret() bool {
	return c.JWTSecret == devSecret || c.JWTSecret == "change_me_in_prod"
}
