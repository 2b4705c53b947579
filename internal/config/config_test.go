package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("NOVA_POSHTA_API_KEY", "k")
	t.Setenv("REFRESH_INTERVAL", "90s")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("MQTT_BROKER", "tcp://mqtt:1883")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RefreshInterval != 90*time.Second {
		t.Fatalf("interval = %v", cfg.RefreshInterval)
	}
	if cfg.HTTPTimeout != 15*time.Second || cfg.HistoryDays != 180 || cfg.PageLimit != 100 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
	if cfg.MQTT.Broker != "tcp://mqtt:1883" || cfg.MQTT.DiscoveryPrefix != "homeassistant" {
		t.Fatalf("mqtt = %+v", cfg.MQTT)
	}
}

func TestLoadYAMLBelowEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parcelwatch.yaml")
	body := "apiKey: from-file\nsource: replay\nreplayFile: /tmp/in.json\nrefreshInterval: 2m\nport: 9000\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NOVA_POSHTA_API_KEY", "")
	os.Unsetenv("NOVA_POSHTA_API_KEY")
	t.Setenv("PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIKey != "from-file" || cfg.Source != SourceReplay || cfg.RefreshInterval != 2*time.Minute {
		t.Fatalf("yaml not applied: %+v", cfg)
	}
	if cfg.Port != 9100 {
		t.Fatalf("env should win over file, port = %d", cfg.Port)
	}
}

func TestParseFlagsOverride(t *testing.T) {
	t.Setenv("NOVA_POSHTA_API_KEY", "k")
	t.Setenv("PORT", "9100")
	fs := flag.NewFlagSet("api", flag.ContinueOnError)
	cfg, err := ParseFlags(fs, []string{"-port", "9200", "-source", "replay"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Port != 9200 || cfg.Source != SourceReplay {
		t.Fatalf("flags not applied: port=%d source=%s", cfg.Port, cfg.Source)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"missing key", func(c *Config) { c.APIKey = "" }, "NOVA_POSHTA_API_KEY"},
		{"bad source", func(c *Config) { c.Source = "ftp" }, "SOURCE"},
		{"zero interval", func(c *Config) { c.RefreshInterval = 0 }, "REFRESH_INTERVAL"},
		{"hmac without secret", func(c *Config) { c.AuthMode = "hmac" }, "AUTH_HMAC_SECRET"},
		{"jwks without url", func(c *Config) { c.AuthMode = "jwks" }, "AUTH_JWKS_URL"},
		{"bad port", func(c *Config) { c.Port = 70000 }, "PORT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.APIKey = "k"
			tc.mut(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %s", err, tc.want)
			}
		})
	}
	cfg := Default()
	cfg.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestInsecureAuth(t *testing.T) {
	cfg := Default()
	if !cfg.InsecureAuth() {
		t.Fatalf("default auth mode %q should be reported insecure", cfg.AuthMode)
	}
	cfg.AuthMode = "hmac"
	if cfg.InsecureAuth() {
		t.Fatalf("hmac reported insecure")
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("NOVA_POSHTA_API_KEY", "k")
	t.Setenv("HISTORY_DAYS", "many")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "parse env") {
		t.Fatalf("err = %v", err)
	}
}
