package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Passes      PassesConfig
	Overtime    OvertimeConfig
	Constraints ConstraintsConfig
	Broadcast   BroadcastConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds the verification settings for tokens minted by the auth service.
type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// PassesConfig tunes admission control.
type PassesConfig struct {
	DailyLimit       int
	Timezone         string
	DefaultTimeLimit int
	MaxTimeLimit     int
	LockTimeout      time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
}

// TimeLocation resolves the school's time zone, falling back to UTC.
func (c PassesConfig) TimeLocation() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// OvertimeConfig controls the background overtime sweep.
type OvertimeConfig struct {
	Enabled  bool
	Interval time.Duration
}

// ConstraintsConfig controls how often the constraint snapshot is reloaded.
type ConstraintsConfig struct {
	RefreshInterval time.Duration
	CacheTTL        time.Duration
}

// BroadcastConfig sizes the realtime pipeline.
type BroadcastConfig struct {
	Channel          string
	QueueBuffer      int
	SubscriberBuffer int
	RelayRetries     int
	RelayRetryDelay  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Passes = PassesConfig{
		DailyLimit:       nonNegative(v.GetInt("PASSES_DAILY_LIMIT")),
		Timezone:         v.GetString("PASSES_TIMEZONE"),
		DefaultTimeLimit: positiveOr(v.GetInt("PASSES_DEFAULT_TIME_LIMIT"), 5),
		MaxTimeLimit:     positiveOr(v.GetInt("PASSES_MAX_TIME_LIMIT"), 30),
		LockTimeout:      parseDuration(v.GetString("PASSES_LOCK_TIMEOUT"), 3*time.Second),
		MaxRetries:       nonNegative(v.GetInt("PASSES_MAX_RETRIES")),
		RetryBackoff:     parseDuration(v.GetString("PASSES_RETRY_BACKOFF"), 50*time.Millisecond),
	}

	cfg.Overtime = OvertimeConfig{
		Enabled:  v.GetBool("OVERTIME_ENABLED"),
		Interval: parseDuration(v.GetString("OVERTIME_INTERVAL"), 30*time.Second),
	}

	cfg.Constraints = ConstraintsConfig{
		RefreshInterval: parseDuration(v.GetString("CONSTRAINTS_REFRESH_INTERVAL"), 30*time.Second),
		CacheTTL:        parseDuration(v.GetString("CONSTRAINTS_CACHE_TTL"), time.Minute),
	}

	cfg.Broadcast = BroadcastConfig{
		Channel:          v.GetString("BROADCAST_CHANNEL"),
		QueueBuffer:      positiveOr(v.GetInt("BROADCAST_BUFFER"), 256),
		SubscriberBuffer: positiveOr(v.GetInt("BROADCAST_SUBSCRIBER_BUFFER"), 32),
		RelayRetries:     positiveOr(v.GetInt("BROADCAST_RELAY_RETRIES"), 3),
		RelayRetryDelay:  parseDuration(v.GetString("BROADCAST_RELAY_RETRY_DELAY"), 500*time.Millisecond),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "hallpass")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("PASSES_DAILY_LIMIT", 0)
	v.SetDefault("PASSES_TIMEZONE", "UTC")
	v.SetDefault("PASSES_DEFAULT_TIME_LIMIT", 5)
	v.SetDefault("PASSES_MAX_TIME_LIMIT", 30)
	v.SetDefault("PASSES_LOCK_TIMEOUT", "3s")
	v.SetDefault("PASSES_MAX_RETRIES", 3)
	v.SetDefault("PASSES_RETRY_BACKOFF", "50ms")

	v.SetDefault("OVERTIME_ENABLED", true)
	v.SetDefault("OVERTIME_INTERVAL", "30s")

	v.SetDefault("CONSTRAINTS_REFRESH_INTERVAL", "30s")
	v.SetDefault("CONSTRAINTS_CACHE_TTL", "1m")

	v.SetDefault("BROADCAST_CHANNEL", "hallpass:events")
	v.SetDefault("BROADCAST_BUFFER", 256)
	v.SetDefault("BROADCAST_SUBSCRIBER_BUFFER", 32)
	v.SetDefault("BROADCAST_RELAY_RETRIES", 3)
	v.SetDefault("BROADCAST_RELAY_RETRY_DELAY", "500ms")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}

	return d
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func nonNegative(value int) int {
	if value < 0 {
		return 0
	}
	return value
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
