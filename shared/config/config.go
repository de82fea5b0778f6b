package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "AURA"

// Get returns an environment variable or default value.
func Get(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	OTel      OTelConfig      `mapstructure:"otel"`
}

type ServiceConfig struct {
	Name string `mapstructure:"name"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // postgres|memory
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type StreamConfig struct {
	Transport string `mapstructure:"transport"` // memory|redis|kafka
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type AuthConfig struct {
	Issuer        string        `mapstructure:"issuer"`
	PublicKeyPEM  string        `mapstructure:"public_key_pem"`
	PrivateKeyPEM string        `mapstructure:"private_key_pem"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	BypassPaths   []string      `mapstructure:"bypass_paths"`
}

type RateLimitConfig struct {
	RPM   int `mapstructure:"rpm"`
	Burst int `mapstructure:"burst"`
}

type OTelConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// Defaults returns the built-in value of every configuration key.
func Defaults() map[string]any {
	return map[string]any{
		"service.name":            "auraaudit",
		"http.addr":               ":8080",
		"http.shutdown_timeout":   "15s",
		"log.level":               "info",
		"log.format":              "json",
		"store.driver":            "memory",
		"database.host":           "localhost",
		"database.port":           5432,
		"database.user":           "auraaudit",
		"database.password":       "",
		"database.name":           "auraaudit",
		"database.sslmode":        "disable",
		"database.max_open_conns": 25,
		"redis.addr":              "",
		"redis.password":          "",
		"redis.db":                0,
		"stream.transport":        "memory",
		"kafka.brokers":           []string{},
		"kafka.topic":             "audit-findings",
		"auth.issuer":             "auraaudit",
		"auth.public_key_pem":     "",
		"auth.private_key_pem":    "",
		"auth.token_ttl":          "15m",
		"auth.bypass_paths":       []string{"/health", "/metrics"},
		"ratelimit.rpm":           120,
		"ratelimit.burst":         20,
		"otel.endpoint":           "",
	}
}

// Load merges defaults, the optional config file at path and AURA_* environment
// variables, in that order of increasing precedence.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read configuration: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("store.driver: unsupported value %q", c.Store.Driver)
	}
	switch c.Stream.Transport {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("stream.transport=redis requires redis.addr")
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("stream.transport=kafka requires kafka.brokers and kafka.topic")
		}
	default:
		return fmt.Errorf("stream.transport: unsupported value %q", c.Stream.Transport)
	}
	if c.RateLimit.RPM < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit: rpm and burst must be non-negative")
	}
	return nil
}
