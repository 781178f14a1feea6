package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode        string   `mapstructure:"mode"`
	Port        int      `mapstructure:"port"`
	LogLevel    string   `mapstructure:"log_level"`
	Secret      string   `mapstructure:"secret"`
	CORSOrigins []string `mapstructure:"cors_origins"`

	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Search   SearchConfig   `mapstructure:"search"`
	Push     PushConfig     `mapstructure:"push"`
	WS       WSConfig       `mapstructure:"ws"`
	Seed     SeedConfig     `mapstructure:"seed"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// DatabaseConfig selects PostgreSQL when URL is set; otherwise data lives in memory.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisConfig enables the cross-node relay and the push queue.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type SearchConfig struct {
	MeiliURL string `mapstructure:"meili_url"`
	MeiliKey string `mapstructure:"meili_key"`
}

type PushConfig struct {
	VAPIDPublicKey  string        `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string        `mapstructure:"vapid_private_key"`
	Subject         string        `mapstructure:"subject"`
	TTL             time.Duration `mapstructure:"ttl"`
}

func (p PushConfig) Enabled() bool {
	return p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != ""
}

type WSConfig struct {
	ReadLimit       int64         `mapstructure:"read_limit"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	MessageRate     int           `mapstructure:"message_rate"`
	MessageInterval time.Duration `mapstructure:"message_interval"`
	// SlowPolicy is "kick" or "drop" for sessions whose send buffer is full.
	SlowPolicy string `mapstructure:"slow_policy"`
}

type SeedConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	AdminEmail    string `mapstructure:"admin_email"`
	AdminPassword string `mapstructure:"admin_password"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "change-me")
	v.SetDefault("cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("auth.jwt_secret", "change-me")
	v.SetDefault("auth.token_ttl", "168h")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("redis.url", "")

	v.SetDefault("search.meili_url", "")
	v.SetDefault("search.meili_key", "")

	v.SetDefault("push.vapid_public_key", "")
	v.SetDefault("push.vapid_private_key", "")
	v.SetDefault("push.subject", "admin@faculty.com")
	v.SetDefault("push.ttl", "24h")

	v.SetDefault("ws.read_limit", 32768)
	v.SetDefault("ws.ping_period", "54s")
	v.SetDefault("ws.send_buffer", 64)
	v.SetDefault("ws.message_rate", 20)
	v.SetDefault("ws.message_interval", "10s")
	v.SetDefault("ws.slow_policy", "kick")

	v.SetDefault("seed.enabled", true)
	v.SetDefault("seed.admin_email", "admin@faculty.com")
	v.SetDefault("seed.admin_password", "admin123")
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) and applies
// CAMPUS_* environment overrides, e.g. CAMPUS_DATABASE_URL.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("campus")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret must not be empty")
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Bool("postgres", cfg.Database.URL != "").Bool("redis", cfg.Redis.URL != "").
		Bool("search", cfg.Search.MeiliURL != "").Bool("push", cfg.Push.Enabled()).Msg("config")
	return &cfg, nil
}
