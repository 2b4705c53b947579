// Package config loads service configuration from defaults, an optional YAML
// file, a .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Sources.
const (
	SourceNovaPoshta = "novaposhta"
	SourceReplay     = "replay"
)

// Config holds everything cmd/api needs to assemble a runtime.
type Config struct {
	APIKey      string        `yaml:"apiKey" env:"NOVA_POSHTA_API_KEY"`
	BaseURL     string        `yaml:"baseURL" env:"NOVA_POSHTA_BASE_URL"`
	Source      string        `yaml:"source" env:"SOURCE"`
	ReplayFile  string        `yaml:"replayFile" env:"REPLAY_FILE"`
	HTTPTimeout time.Duration `yaml:"httpTimeout" env:"HTTP_TIMEOUT"`

	RefreshInterval time.Duration `yaml:"refreshInterval" env:"REFRESH_INTERVAL"`
	FailureBackoff  time.Duration `yaml:"failureBackoff" env:"FAILURE_BACKOFF"`
	HistoryDays     int           `yaml:"historyDays" env:"HISTORY_DAYS"`
	PageLimit       int           `yaml:"pageLimit" env:"PAGE_LIMIT"`
	MaxPages        int           `yaml:"maxPages" env:"MAX_PAGES"`

	Port        int    `yaml:"port" env:"PORT"`
	DatabaseURL string `yaml:"databaseURL" env:"DATABASE_URL"`

	RedisURL     string   `yaml:"redisURL" env:"REDIS_URL"`
	RedisChannel string   `yaml:"redisChannel" env:"REDIS_CHANNEL"`
	KafkaBrokers []string `yaml:"kafkaBrokers" env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `yaml:"kafkaTopic" env:"KAFKA_TOPIC"`

	MQTT MQTT `yaml:"mqtt"`

	WebhookMaxAttempts  int           `yaml:"webhookMaxAttempts" env:"WEBHOOK_MAX_ATTEMPTS"`
	WebhookPollInterval time.Duration `yaml:"webhookPollInterval" env:"WEBHOOK_POLL_INTERVAL"`

	AuthMode       string `yaml:"authMode" env:"AUTH_MODE"`
	AuthHMACSecret string `yaml:"-" env:"AUTH_HMAC_SECRET"`
	AuthJWKSURL    string `yaml:"authJWKSURL" env:"AUTH_JWKS_URL"`
	AuthRoleClaim  string `yaml:"authRoleClaim" env:"AUTH_ROLE_CLAIM"`

	RefreshRPS   float64 `yaml:"refreshRPS" env:"REFRESH_RPS"`
	RefreshBurst int     `yaml:"refreshBurst" env:"REFRESH_BURST"`

	OTelEndpoint string `yaml:"otelEndpoint" env:"OTEL_ENDPOINT"`
}

type MQTT struct {
	Broker          string `yaml:"broker" env:"MQTT_BROKER"`
	ClientID        string `yaml:"clientID" env:"MQTT_CLIENT_ID"`
	Username        string `yaml:"username" env:"MQTT_USERNAME"`
	Password        string `yaml:"-" env:"MQTT_PASSWORD"`
	DiscoveryPrefix string `yaml:"discoveryPrefix" env:"MQTT_DISCOVERY_PREFIX"`
	BaseTopic       string `yaml:"baseTopic" env:"MQTT_BASE_TOPIC"`
}

func Default() Config {
	return Config{
		BaseURL:             "https://api.novaposhta.ua",
		Source:              SourceNovaPoshta,
		ReplayFile:          "testdata/incoming.json",
		HTTPTimeout:         15 * time.Second,
		RefreshInterval:     5 * time.Minute,
		FailureBackoff:      30 * time.Second,
		HistoryDays:         180,
		PageLimit:           100,
		MaxPages:            1,
		Port:                8080,
		RedisChannel:        "parcelwatch.poll",
		KafkaTopic:          "parcelwatch.poll",
		MQTT:                MQTT{ClientID: "parcelwatch", DiscoveryPrefix: "homeassistant", BaseTopic: "parcelwatch"},
		WebhookMaxAttempts:  10,
		WebhookPollInterval: time.Second,
		AuthMode:            "dev",
		AuthRoleClaim:       "role",
		RefreshRPS:          0.2,
		RefreshBurst:        1,
	}
}

// Load builds a Config. configFile may be empty; CONFIG_FILE is used then.
// A missing .env is not an error.
func Load(configFile string) (Config, error) {
	cfg, err := load(configFile)
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func load(configFile string) (Config, error) {
	cfg := Default()
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}
	if configFile != "" {
		if err := loadYAML(configFile, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// ParseFlags loads the config and applies command-line overrides on top.
func ParseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	var file string
	fs.StringVar(&file, "config", "", "YAML config file")
	port := fs.Int("port", 0, "HTTP listen port")
	source := fs.String("source", "", "shipment source: novaposhta or replay")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg, err := load(file)
	if err != nil {
		return Config{}, err
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *source != "" {
		cfg.Source = *source
	}
	return cfg, cfg.Validate()
}

func loadYAML(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.APIKey) == "" {
		errs = append(errs, errors.New("NOVA_POSHTA_API_KEY is required"))
	}
	switch c.Source {
	case SourceNovaPoshta, SourceReplay:
	default:
		errs = append(errs, fmt.Errorf("SOURCE must be %s or %s, got %q", SourceNovaPoshta, SourceReplay, c.Source))
	}
	if c.Source == SourceReplay && c.ReplayFile == "" {
		errs = append(errs, errors.New("REPLAY_FILE is required for the replay source"))
	}
	if c.RefreshInterval <= 0 {
		errs = append(errs, errors.New("REFRESH_INTERVAL must be positive"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("HTTP_TIMEOUT must be positive"))
	}
	if c.FailureBackoff < 0 {
		errs = append(errs, errors.New("FAILURE_BACKOFF must not be negative"))
	}
	if c.HistoryDays <= 0 || c.PageLimit <= 0 || c.MaxPages <= 0 {
		errs = append(errs, errors.New("HISTORY_DAYS, PAGE_LIMIT and MAX_PAGES must be positive"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	switch c.AuthMode {
	case "dev", "hmac", "jwks":
	default:
		errs = append(errs, fmt.Errorf("AUTH_MODE must be dev, hmac or jwks, got %q", c.AuthMode))
	}
	if c.AuthMode == "hmac" && c.AuthHMACSecret == "" {
		errs = append(errs, errors.New("AUTH_HMAC_SECRET is required in hmac mode"))
	}
	if c.AuthMode == "jwks" && c.AuthJWKSURL == "" {
		errs = append(errs, errors.New("AUTH_JWKS_URL is required in jwks mode"))
	}
	return errors.Join(errs...)
}

// InsecureAuth reports whether bearer tokens are taken at face value. In dev
// mode "Bearer anyone:admin" is an admin.
func (c Config) InsecureAuth() bool { return c.AuthMode == "dev" }

// Redacted is the config view served on /debug.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"source":          c.Source,
		"baseURL":         c.BaseURL,
		"refreshInterval": c.RefreshInterval.String(),
		"failureBackoff":  c.FailureBackoff.String(),
		"historyDays":     c.HistoryDays,
		"pageLimit":       c.PageLimit,
		"maxPages":        c.MaxPages,
		"store":           storeKind(c.DatabaseURL),
		"redis":           c.RedisURL != "",
		"kafka":           len(c.KafkaBrokers) > 0,
		"mqtt":            c.MQTT.Broker != "",
		"authMode":        c.AuthMode,
		"tracing":         c.OTelEndpoint != "",
	}
}

func storeKind(dsn string) string {
	switch {
	case dsn == "":
		return "memory"
	case strings.HasPrefix(dsn, "postgres"):
		return "postgres"
	default:
		return "sqlite"
	}
}
