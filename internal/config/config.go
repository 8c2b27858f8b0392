// Package config loads process settings for the binaries: a .env file,
// then an optional YAML file, then environment variables, each layer
// overriding the previous one.
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

type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	MetricsAddr    string   `yaml:"metrics_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	SecureCookies  bool     `yaml:"secure_cookies"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Embedded starts an in-process miniredis instead of dialing Addr.
	Embedded bool `yaml:"embedded"`
}

type DatabaseConfig struct {
	DSN         string `yaml:"dsn"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type SessionConfig struct {
	SigningKeyHex string        `yaml:"signing_key"`
	TTL           time.Duration `yaml:"ttl"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	CookieDomain  string        `yaml:"cookie_domain"`
}

type BackupCodeConfig struct {
	KeyID         string `yaml:"key_id"`
	KeyHex        string `yaml:"key"`
	KMSCiphertext string `yaml:"kms_ciphertext"`
	AWSRegion     string `yaml:"aws_region"`
	// Previous maps retired key ids to hex keys.
	Previous map[string]string `yaml:"previous"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuditConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

type Config struct {
	Env            string           `yaml:"env"`
	ProductionMode bool             `yaml:"production_mode"`
	HTTP           HTTPConfig       `yaml:"http"`
	Redis          RedisConfig      `yaml:"redis"`
	Database       DatabaseConfig   `yaml:"database"`
	SMTP           SMTPConfig       `yaml:"smtp"`
	Session        SessionConfig    `yaml:"session"`
	BackupCodes    BackupCodeConfig `yaml:"backup_codes"`
	Log            LogConfig        `yaml:"log"`
	Audit          AuditConfig      `yaml:"audit"`
}

func Default() Config {
	return Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:        ":8080",
			MetricsAddr: ":9090",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		Session: SessionConfig{
			TTL:    30 * 24 * time.Hour,
			Issuer: "rdp-website",
		},
		BackupCodes: BackupCodeConfig{
			KeyID: "k1",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Audit: AuditConfig{
			KafkaTopic: "signin-audit",
		},
	}
}

// Load builds a Config from defaults, envFile (ignored when missing),
// yamlPath (skipped when empty) and the process environment.
func Load(envFile, yamlPath string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	if yamlPath == "" {
		yamlPath = os.Getenv("CONFIG_FILE")
	}
	if yamlPath != "" {
		f, err := os.Open(yamlPath)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Env, "APP_ENV")
	setString(&cfg.HTTP.Addr, "HTTP_ADDR")
	setString(&cfg.HTTP.MetricsAddr, "METRICS_ADDR")
	setList(&cfg.HTTP.AllowedOrigins, "CORS_ALLOWED_ORIGINS")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Database.DSN, "DATABASE_URL")
	setString(&cfg.SMTP.Host, "SMTP_HOST")
	setString(&cfg.SMTP.Username, "SMTP_USER")
	setString(&cfg.SMTP.Password, "SMTP_PASSWORD")
	setString(&cfg.SMTP.From, "SMTP_FROM")
	setString(&cfg.Session.SigningKeyHex, "SESSION_SIGNING_KEY")
	setString(&cfg.Session.Issuer, "SESSION_ISSUER")
	setString(&cfg.Session.Audience, "SESSION_AUDIENCE")
	setString(&cfg.Session.CookieDomain, "SESSION_COOKIE_DOMAIN")
	setString(&cfg.BackupCodes.KeyID, "BACKUP_CODE_KEY_ID")
	setString(&cfg.BackupCodes.KeyHex, "BACKUP_CODE_KEY")
	setString(&cfg.BackupCodes.KMSCiphertext, "BACKUP_CODE_KEY_KMS")
	setString(&cfg.BackupCodes.AWSRegion, "AWS_REGION")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setList(&cfg.Audit.KafkaBrokers, "KAFKA_BROKERS")
	setString(&cfg.Audit.KafkaTopic, "KAFKA_AUDIT_TOPIC")

	if err := setBool(&cfg.ProductionMode, "PRODUCTION_MODE"); err != nil {
		return err
	}
	if err := setBool(&cfg.HTTP.SecureCookies, "SECURE_COOKIES"); err != nil {
		return err
	}
	if err := setBool(&cfg.Redis.Embedded, "REDIS_EMBEDDED"); err != nil {
		return err
	}
	if err := setBool(&cfg.Database.AutoMigrate, "DATABASE_AUTO_MIGRATE"); err != nil {
		return err
	}
	if err := setInt(&cfg.Redis.DB, "REDIS_DB"); err != nil {
		return err
	}
	if err := setInt(&cfg.SMTP.Port, "SMTP_PORT"); err != nil {
		return err
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SESSION_TTL: %w", err)
		}
		cfg.Session.TTL = d
	}
	return nil
}

// Validate checks what the server needs before it starts.
func (c Config) Validate() error {
	if c.Session.SigningKeyHex == "" {
		return errors.New("SESSION_SIGNING_KEY is required")
	}
	if c.BackupCodes.KeyHex == "" && c.BackupCodes.KMSCiphertext == "" {
		return errors.New("BACKUP_CODE_KEY or BACKUP_CODE_KEY_KMS is required")
	}
	if c.ProductionMode {
		if c.Database.DSN == "" {
			return errors.New("DATABASE_URL is required in production mode")
		}
		if c.Redis.Embedded {
			return errors.New("embedded redis is not allowed in production mode")
		}
		if !c.HTTP.SecureCookies {
			return errors.New("secure cookies are required in production mode")
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = strings.TrimSpace(v)
	}
}

func setList(dst *[]string, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
