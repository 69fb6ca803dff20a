package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type WebServerConfig struct {
	Port            string `mapstructure:"port"`
	IP              string `mapstructure:"ip"`
	ReadTimeout     int    `mapstructure:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
	AllowedOrigin   string `mapstructure:"allowed_origin"`
}

type RedisConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Address          string `mapstructure:"address"`
	Password         string `mapstructure:"password"`
	DB               int    `mapstructure:"db"`
	PoolSize         int    `mapstructure:"pool_size"`
	MinIdleConns     int    `mapstructure:"min_idle_conns"`
	OperationTimeout int    `mapstructure:"operation_timeout"`
}

// LimitConfig is one sliding-window policy
type LimitConfig struct {
	WindowMinutes int `mapstructure:"window_minutes"`
	Max           int `mapstructure:"max"`
}

// Window returns the window length
func (l LimitConfig) Window() time.Duration {
	return time.Duration(l.WindowMinutes) * time.Minute
}

type RateLimitConfig struct {
	Store             string                 `mapstructure:"store"` // memory or redis
	RequestsPerSecond float64                `mapstructure:"requests_per_second"`
	Burst             int                    `mapstructure:"burst"`
	Limits            map[string]LimitConfig `mapstructure:"limits"`
}

type QuotaConfig struct {
	Limit        int    `mapstructure:"limit"`
	WarnWithin   int    `mapstructure:"warn_within"`
	ContactEmail string `mapstructure:"contact_email"`
}

type StorageConfig struct {
	DataDir              string `mapstructure:"data_dir"`
	MirrorToRedis        bool   `mapstructure:"mirror_to_redis"`
	FlushEveryAdmissions int    `mapstructure:"flush_every_admissions"`
	FlushIntervalSeconds int    `mapstructure:"flush_interval_seconds"`
	ActivityMemoryLimit  int    `mapstructure:"activity_memory_limit"`
}

type CacheConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MaxSizeMB   int  `mapstructure:"max_size_mb"`
	TTLSeconds  int  `mapstructure:"ttl_seconds"`
	CounterSize int  `mapstructure:"counter_size"`
}

type LLMConfig struct {
	APIKey          string `mapstructure:"api_key"`
	Model           string `mapstructure:"model"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	MaxOutputTokens int    `mapstructure:"max_output_tokens"`
}

type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// UserCredential is one configured login (bcrypt hash)
type UserCredential struct {
	Email        string `mapstructure:"email"`
	PasswordHash string `mapstructure:"password_hash"`
}

type AuthConfig struct {
	Users []UserCredential `mapstructure:"users"`
}

// EmailConfig configures SMTP quota alerts to quota.contact_email
type EmailConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	SMTPHost  string `mapstructure:"smtp_host"`
	SMTPPort  string `mapstructure:"smtp_port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type Config struct {
	WebServer WebServerConfig `mapstructure:"webserver"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Cache     CacheConfig     `mapstructure:"cache"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Email     EmailConfig     `mapstructure:"email"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

func LoadConfig() (Config, error) {
	var config Config

	// A missing .env is normal outside development
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	v := viper.New()
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("AIRIVU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("Error reading config file: %v", err)
			return config, err
		}
		log.Println("No config file found, using defaults and environment")
	}

	if err := v.Unmarshal(&config); err != nil {
		log.Printf("Unable to decode into struct: %v", err)
		return config, err
	}

	if err := config.Validate(); err != nil {
		return config, err
	}

	return config, nil
}

func MustLoadConfig() Config {
	config, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	return config
}

// Validate rejects limits and quotas that cannot be enforced
func (c Config) Validate() error {
	for name, l := range c.RateLimit.Limits {
		if l.WindowMinutes <= 0 {
			return fmt.Errorf("ratelimit.limits.%s.window_minutes must be > 0", name)
		}
		if l.WindowMinutes > 24*60 {
			return fmt.Errorf("ratelimit.limits.%s.window_minutes exceeds the 24h retention ceiling", name)
		}
		if l.Max <= 0 {
			return fmt.Errorf("ratelimit.limits.%s.max must be > 0", name)
		}
	}
	if c.Quota.Limit <= 0 {
		return fmt.Errorf("quota.limit must be > 0")
	}
	if c.Quota.WarnWithin < 0 {
		return fmt.Errorf("quota.warn_within must be >= 0")
	}
	if c.RateLimit.Store != "memory" && c.RateLimit.Store != "redis" {
		return fmt.Errorf("ratelimit.store must be memory or redis, got %q", c.RateLimit.Store)
	}
	if c.RateLimit.Store == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("ratelimit.store=redis requires redis.enabled")
	}
	if c.Storage.FlushEveryAdmissions <= 0 {
		return fmt.Errorf("storage.flush_every_admissions must be > 0")
	}
	return nil
}

// Defaults returns a Config populated only from defaults. Used by tests.
func Defaults() Config {
	var config Config
	v := viper.New()
	setDefaults(v)
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Unable to decode defaults: %v", err)
	}
	return config
}

func setDefaults(v *viper.Viper) {
	// WebServer defaults
	v.SetDefault("webserver.port", "8080")
	v.SetDefault("webserver.ip", "127.0.0.1")
	v.SetDefault("webserver.read_timeout", 15)
	v.SetDefault("webserver.write_timeout", 90)
	v.SetDefault("webserver.shutdown_timeout", 30)
	v.SetDefault("webserver.allowed_origin", "*")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.operation_timeout", 5)

	// RateLimit defaults
	v.SetDefault("ratelimit.store", "memory")
	v.SetDefault("ratelimit.requests_per_second", 10.0)
	v.SetDefault("ratelimit.burst", 20)
	v.SetDefault("ratelimit.limits", map[string]interface{}{
		"login":     map[string]interface{}{"window_minutes": 15, "max": 8},
		"generate":  map[string]interface{}{"window_minutes": 15, "max": 15},
		"download":  map[string]interface{}{"window_minutes": 5, "max": 30},
		"anonymous": map[string]interface{}{"window_minutes": 15, "max": 200},
	})

	// Quota defaults
	v.SetDefault("quota.limit", 20)
	v.SetDefault("quota.warn_within", 2)
	v.SetDefault("quota.contact_email", "support@airivu.com")

	// Storage defaults
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.mirror_to_redis", false)
	v.SetDefault("storage.flush_every_admissions", 10)
	v.SetDefault("storage.flush_interval_seconds", 60)
	v.SetDefault("storage.activity_memory_limit", 10000)

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.max_size_mb", 16)
	v.SetDefault("cache.ttl_seconds", 30)
	v.SetDefault("cache.counter_size", 10000)

	// LLM defaults
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("llm.max_output_tokens", 8192)

	// Admin defaults
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.api_key", "")

	// Email defaults
	v.SetDefault("email.enabled", false)
	v.SetDefault("email.smtp_host", "")
	v.SetDefault("email.smtp_port", "587")
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from_email", "noreply@airivu.com")
	v.SetDefault("email.from_name", "AI Rivu")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", true)
}
