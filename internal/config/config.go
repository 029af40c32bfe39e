// Package config loads settings for lorawatch and nodeapi from defaults, an
// optional YAML file and LORAWATCH_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	LogLevel     string `mapstructure:"log_level"`
	LogFormat    string `mapstructure:"log_format"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	Server  ServerConfig  `mapstructure:"server"`
	Backend BackendConfig `mapstructure:"backend"`
	Poll    PollConfig    `mapstructure:"poll"`
	Map     MapConfig     `mapstructure:"map"`
	Alerts  AlertsConfig  `mapstructure:"alerts"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	NodeAPI NodeAPIConfig `mapstructure:"nodeapi"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type BackendConfig struct {
	URL        string `mapstructure:"url"`
	LatestPath string `mapstructure:"latest_path"`
	// Token is a static bearer token. PrivateKeyPath signs service tokens
	// instead when set.
	Token          string        `mapstructure:"token"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	Subject        string        `mapstructure:"subject"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type MapConfig struct {
	FallbackLat float64 `mapstructure:"fallback_lat"`
	FallbackLon float64 `mapstructure:"fallback_lon"`
}

type AlertsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	TempThresholdC float64       `mapstructure:"temp_threshold_c"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	RedisURL       string        `mapstructure:"redis_url"`
	MQTTPrefix     string        `mapstructure:"mqtt_prefix"`
	SMTP           SMTPConfig    `mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

type MQTTConfig struct {
	BrokerURL string `mapstructure:"broker_url"`
	ClientID  string `mapstructure:"client_id"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

type NodeAPIConfig struct {
	Addr          string        `mapstructure:"addr"`
	DBDriver      string        `mapstructure:"db_driver"`
	DSN           string        `mapstructure:"dsn"`
	PublicKeyPath string        `mapstructure:"public_key_path"`
	IngestPrefix  string        `mapstructure:"ingest_prefix"`
	Retention     time.Duration `mapstructure:"retention"`
	PruneSchedule string        `mapstructure:"prune_schedule"`
}

var defaults = map[string]any{
	"log_level":     "info",
	"log_format":    "text",
	"otlp_endpoint": "",

	"server.addr":            ":8095",
	"server.allowed_origins": []string{"*"},

	"backend.url":              "http://localhost:8000",
	"backend.latest_path":      "/latest",
	"backend.token":            "",
	"backend.private_key_path": "",
	"backend.subject":          "lorawatch",
	"backend.token_ttl":        time.Hour,
	"backend.timeout":          10 * time.Second,

	"poll.interval": 3 * time.Second,

	"map.fallback_lat": 44.5646,
	"map.fallback_lon": -123.262,

	"alerts.enabled":          false,
	"alerts.temp_threshold_c": 60.0,
	"alerts.cooldown":         5 * time.Minute,
	"alerts.redis_url":        "",
	"alerts.mqtt_prefix":      "lorawatch/alerts",
	"alerts.smtp.host":        "",
	"alerts.smtp.port":        465,
	"alerts.smtp.username":    "",
	"alerts.smtp.password":    "",
	"alerts.smtp.from":        "",
	"alerts.smtp.to":          []string{},

	"mqtt.broker_url": "",
	"mqtt.client_id":  "",
	"mqtt.username":   "",
	"mqtt.password":   "",

	"nodeapi.addr":            ":8000",
	"nodeapi.db_driver":       "sqlite",
	"nodeapi.dsn":             "file:nodeapi.db?cache=shared",
	"nodeapi.public_key_path": "",
	"nodeapi.ingest_prefix":   "lorawatch/uplink",
	"nodeapi.retention":       30 * 24 * time.Hour,
	"nodeapi.prune_schedule":  "@hourly",
}

// Load reads configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("LORAWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("log_level", "LORAWATCH_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("log_format", "LORAWATCH_LOG_FORMAT", "LOG_FORMAT")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slog.Debug("config loaded", "file", path, "backend", cfg.Backend.URL, "poll_interval", cfg.Poll.Interval)
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive, got %s", c.Poll.Interval)
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	switch c.NodeAPI.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("nodeapi.db_driver must be sqlite or postgres, got %q", c.NodeAPI.DBDriver)
	}
	return nil
}
