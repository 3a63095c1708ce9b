package model

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config is read from config.toml and may be overridden by CRM_* environment
// variables (a .env file in the working directory is honored).
type Config struct {
	Mode        string `envconfig:"MODE"`
	Port        int    `envconfig:"PORT"`
	AutoMigrate bool   `split_words:"true"`
	LogLevel    string `split_words:"true"`
	LogFormat   string `split_words:"true"`
	// RateLimit is the number of API requests per minute and IP, 0 disables the limiter.
	RateLimit int               `split_words:"true"`
	Notify    NotifyConfig      `envconfig:"NOTIFY"`
	Servers   map[string]server `ignored:"true"`
}

// NotifyConfig holds the credentials of the outgoing notification channels.
type NotifyConfig struct {
	MailAPIKey           string `split_words:"true"`
	MailSecret           string `split_words:"true"`
	MailFrom             string `split_words:"true"`
	MailFromName         string `split_words:"true"`
	SMSGatewayURL        string `envconfig:"SMS_GATEWAY_URL"`
	SMSGatewayToken      string `envconfig:"SMS_GATEWAY_TOKEN"`
	WhatsAppGatewayURL   string `envconfig:"WHATSAPP_GATEWAY_URL"`
	WhatsAppGatewayToken string `envconfig:"WHATSAPP_GATEWAY_TOKEN"`
}

type server struct {
	Database   string
	DBName     string
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     int
	DBLogger   string
}

// Server returns the database settings for the active mode.
func (cfg *Config) Server() (server, error) {
	svr, ok := cfg.Servers[cfg.Mode]
	if !ok {
		return server{}, fmt.Errorf("no [servers.%s] section in configuration", cfg.Mode)
	}
	return svr, nil
}

// LoadConfig reads the TOML file at path, then applies environment overrides.
// A missing file is not an error as long as the environment provides enough.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err = toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}
	if err = envconfig.Process("crm", cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Mode == "" {
		cfg.Mode = "development"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.LogFormat == "" {
		if cfg.Mode == "development" {
			cfg.LogFormat = "text"
		} else {
			cfg.LogFormat = "json"
		}
	}
	if cfg.Servers == nil {
		cfg.Servers = map[string]server{}
	}
	if _, ok := cfg.Servers[cfg.Mode]; !ok && cfg.Mode == "development" {
		cfg.Servers[cfg.Mode] = server{Database: "sqlite3", DBName: "crm.db"}
	}
}
