/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - github.com/sirupsen/logrus: Warnings about coerced values.
 */

package config

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	defaultRateLimitPrefix       = "filpass:rate_limit"
	defaultTxMaxWaitMs           = 5000
	defaultTxTimeoutMs           = 10000
	defaultOutboxPollIntervalMs  = 1200
	defaultOutboxBatchSize       = 50
	defaultOutboxRetentionHours  = 168
	defaultReviewRateLimitPerMin = 60
	defaultDBMaxConns            = 100
)

// Config holds all the configuration variables for the disbursement service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	DBMaxConns               int32  `mapstructure:"DB_MAX_CONNS"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	EventsExchange           string `mapstructure:"EVENTS_EXCHANGE"`
	EventQueue               string `mapstructure:"EVENT_QUEUE"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	ReviewRateLimitPerMinute int    `mapstructure:"REVIEW_RATE_LIMIT_PER_MINUTE"`
	JWTSecret                string `mapstructure:"JWT_SECRET"`
	CORSAllowedOrigins       string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	EncryptionKey            string `mapstructure:"ENCRYPTION_KEY"`
	PIIEncryptionKey         string `mapstructure:"PII_ENCRYPTION_KEY"`
	ComplianceServiceURL     string `mapstructure:"COMPLIANCE_SERVICE_URL"`
	FileServiceURL           string `mapstructure:"FILE_SERVICE_URL"`
	InternalAPIKey           string `mapstructure:"INTERNAL_API_KEY"`
	TxMaxWaitMs              int    `mapstructure:"TX_MAX_WAIT_MS"`
	TxTimeoutMs              int    `mapstructure:"TX_TIMEOUT_MS"`
	OutboxPollIntervalMs     int    `mapstructure:"OUTBOX_POLL_INTERVAL_MS"`
	OutboxBatchSize          int    `mapstructure:"OUTBOX_BATCH_SIZE"`
	OutboxRetentionHours     int    `mapstructure:"OUTBOX_RETENTION_HOURS"`
	OutboxCleanupSchedule    string `mapstructure:"OUTBOX_CLEANUP_SCHEDULE"`
	LogLevel                 string `mapstructure:"LOG_LEVEL"`
	LogFormat                string `mapstructure:"LOG_FORMAT"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DB_MAX_CONNS", defaultDBMaxConns)
	viper.SetDefault("EVENTS_EXCHANGE", "disbursement.events")
	viper.SetDefault("EVENT_QUEUE", "disbursement_service.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("REVIEW_RATE_LIMIT_PER_MINUTE", defaultReviewRateLimitPerMin)
	viper.SetDefault("TX_MAX_WAIT_MS", defaultTxMaxWaitMs)
	viper.SetDefault("TX_TIMEOUT_MS", defaultTxTimeoutMs)
	viper.SetDefault("OUTBOX_POLL_INTERVAL_MS", defaultOutboxPollIntervalMs)
	viper.SetDefault("OUTBOX_BATCH_SIZE", defaultOutboxBatchSize)
	viper.SetDefault("OUTBOX_RETENTION_HOURS", defaultOutboxRetentionHours)
	viper.SetDefault("OUTBOX_CLEANUP_SCHEDULE", "@every 1h")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("DB_MAX_CONNS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("EVENT_QUEUE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("REVIEW_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("ENCRYPTION_KEY")
	_ = viper.BindEnv("PII_ENCRYPTION_KEY")
	_ = viper.BindEnv("COMPLIANCE_SERVICE_URL")
	_ = viper.BindEnv("FILE_SERVICE_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("TX_MAX_WAIT_MS")
	_ = viper.BindEnv("TX_TIMEOUT_MS")
	_ = viper.BindEnv("OUTBOX_POLL_INTERVAL_MS")
	_ = viper.BindEnv("OUTBOX_BATCH_SIZE")
	_ = viper.BindEnv("OUTBOX_RETENTION_HOURS")
	_ = viper.BindEnv("OUTBOX_CLEANUP_SCHEDULE")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("LOG_FORMAT")

	log := logrus.WithField("component", "config")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.WithError(err).Warn("failed to read config file; using environment values")
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.ComplianceServiceURL = strings.TrimRight(strings.TrimSpace(config.ComplianceServiceURL), "/")
	config.FileServiceURL = strings.TrimRight(strings.TrimSpace(config.FileServiceURL), "/")
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	config.LogLevel = strings.ToLower(strings.TrimSpace(config.LogLevel))
	config.LogFormat = strings.ToLower(strings.TrimSpace(config.LogFormat))

	if config.DBMaxConns <= 0 {
		config.DBMaxConns = defaultDBMaxConns
	}
	if config.TxMaxWaitMs <= 0 {
		log.WithField("value", config.TxMaxWaitMs).Warn("invalid TX_MAX_WAIT_MS; using default")
		config.TxMaxWaitMs = defaultTxMaxWaitMs
	}
	if config.TxTimeoutMs <= 0 {
		log.WithField("value", config.TxTimeoutMs).Warn("invalid TX_TIMEOUT_MS; using default")
		config.TxTimeoutMs = defaultTxTimeoutMs
	}
	if config.OutboxPollIntervalMs < 100 {
		config.OutboxPollIntervalMs = defaultOutboxPollIntervalMs
	}
	if config.OutboxBatchSize <= 0 {
		config.OutboxBatchSize = defaultOutboxBatchSize
	}
	if config.OutboxBatchSize > 500 {
		log.WithField("value", config.OutboxBatchSize).Warn("outbox batch size too high; capping at 500")
		config.OutboxBatchSize = 500
	}
	if config.OutboxRetentionHours <= 0 {
		config.OutboxRetentionHours = defaultOutboxRetentionHours
	}
	if config.ReviewRateLimitPerMinute < 0 {
		config.ReviewRateLimitPerMinute = 0
	}

	return
}

func (c Config) TxMaxWait() time.Duration {
	return time.Duration(c.TxMaxWaitMs) * time.Millisecond
}

func (c Config) TxTimeout() time.Duration {
	return time.Duration(c.TxTimeoutMs) * time.Millisecond
}

func (c Config) OutboxPollInterval() time.Duration {
	return time.Duration(c.OutboxPollIntervalMs) * time.Millisecond
}

func (c Config) OutboxRetention() time.Duration {
	return time.Duration(c.OutboxRetentionHours) * time.Hour
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas. Empty means any origin.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
