/**
 * @description
 * Configuration management for the VPN subscription service. Settings are read from
 * environment variables through Viper, with an optional .env file for local runs.
 *
 * @dependencies
 * - github.com/spf13/viper: environment binding and defaults.
 */
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all configuration for the service.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	TelegramBotToken      string  `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramBotUsername   string  `mapstructure:"TELEGRAM_BOT_USERNAME"`
	TelegramWebhookSecret string  `mapstructure:"TELEGRAM_WEBHOOK_SECRET"`
	TelegramRateLimit     float64 `mapstructure:"TELEGRAM_RATE_LIMIT"`
	TelegramPolling       bool    `mapstructure:"TELEGRAM_POLLING"`
	SupportURL            string  `mapstructure:"SUPPORT_URL"`

	MarzbanURL             string `mapstructure:"MARZBAN_URL"`
	MarzbanUsername        string `mapstructure:"MARZBAN_USERNAME"`
	MarzbanPassword        string `mapstructure:"MARZBAN_PASSWORD"`
	MarzbanInboundProtocol string `mapstructure:"MARZBAN_INBOUND_PROTOCOL"`
	MarzbanInsecureTLS     bool   `mapstructure:"MARZBAN_INSECURE_TLS"`
	MarzbanTokenTTLMinutes int    `mapstructure:"MARZBAN_TOKEN_TTL"`

	YooKassaShopID       string `mapstructure:"YOOKASSA_SHOP_ID"`
	YooKassaSecretKey    string `mapstructure:"YOOKASSA_SECRET_KEY"`
	YooKassaReturnURL    string `mapstructure:"YOOKASSA_RETURN_URL"`
	YooKassaReceiptEmail string `mapstructure:"YOOKASSA_RECEIPT_EMAIL"`

	SweepSchedule           string `mapstructure:"SWEEP_SCHEDULE"`
	SweepBatchSize          int    `mapstructure:"SWEEP_BATCH_SIZE"`
	SweepLookaheadDays      int    `mapstructure:"SWEEP_LOOKAHEAD_DAYS"`
	SweepExpiredGraceHours  int    `mapstructure:"SWEEP_EXPIRED_GRACE_HOURS"`
	SweepUserTimeoutSeconds int    `mapstructure:"SWEEP_USER_TIMEOUT_SECONDS"`
	InactivityReclaimDays   int    `mapstructure:"INACTIVITY_RECLAIM_DAYS"`
	ReferralBonusDays       int    `mapstructure:"REFERRAL_BONUS_DAYS"`
	ExpiryWarningDays       int    `mapstructure:"EXPIRY_WARNING_DAYS"`
	DisplayTimezone         string `mapstructure:"DISPLAY_TIMEZONE"`
}

var envKeys = []string{
	"SERVER_PORT",
	"DATABASE_URL",
	"REDIS_URL",
	"RABBITMQ_URL",
	"STORE_DRIVER",
	"LOG_LEVEL",
	"TELEGRAM_BOT_TOKEN",
	"TELEGRAM_BOT_USERNAME",
	"TELEGRAM_WEBHOOK_SECRET",
	"TELEGRAM_RATE_LIMIT",
	"TELEGRAM_POLLING",
	"SUPPORT_URL",
	"MARZBAN_URL",
	"MARZBAN_USERNAME",
	"MARZBAN_PASSWORD",
	"MARZBAN_INBOUND_PROTOCOL",
	"MARZBAN_INSECURE_TLS",
	"MARZBAN_TOKEN_TTL",
	"YOOKASSA_SHOP_ID",
	"YOOKASSA_SECRET_KEY",
	"YOOKASSA_RETURN_URL",
	"YOOKASSA_RECEIPT_EMAIL",
	"SWEEP_SCHEDULE",
	"SWEEP_BATCH_SIZE",
	"SWEEP_LOOKAHEAD_DAYS",
	"SWEEP_EXPIRED_GRACE_HOURS",
	"SWEEP_USER_TIMEOUT_SECONDS",
	"INACTIVITY_RECLAIM_DAYS",
	"REFERRAL_BONUS_DAYS",
	"EXPIRY_WARNING_DAYS",
	"DISPLAY_TIMEZONE",
}

// LoadConfig reads configuration from environment variables and an optional .env
// file located in path.
func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("TELEGRAM_RATE_LIMIT", 20)
	viper.SetDefault("TELEGRAM_POLLING", false)
	viper.SetDefault("SUPPORT_URL", "tg://resolve?domain=teso001")
	viper.SetDefault("MARZBAN_INBOUND_PROTOCOL", "vless")
	viper.SetDefault("MARZBAN_INSECURE_TLS", false)
	viper.SetDefault("MARZBAN_TOKEN_TTL", 60)
	viper.SetDefault("YOOKASSA_RETURN_URL", "https://t.me")
	viper.SetDefault("SWEEP_SCHEDULE", "@every 20m")
	viper.SetDefault("SWEEP_BATCH_SIZE", 50)
	viper.SetDefault("SWEEP_LOOKAHEAD_DAYS", 7)
	viper.SetDefault("SWEEP_EXPIRED_GRACE_HOURS", 24)
	viper.SetDefault("SWEEP_USER_TIMEOUT_SECONDS", 30)
	viper.SetDefault("INACTIVITY_RECLAIM_DAYS", 15)
	viper.SetDefault("REFERRAL_BONUS_DAYS", 3)
	viper.SetDefault("EXPIRY_WARNING_DAYS", 3)
	viper.SetDefault("DISPLAY_TIMEZONE", "Europe/Moscow")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" && os.Getenv("SERVER_PORT") == "" {
		config.ServerPort = port
	}
	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	config.TelegramBotUsername = strings.TrimPrefix(strings.TrimSpace(config.TelegramBotUsername), "@")
	config.MarzbanURL = strings.TrimSpace(config.MarzbanURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)

	if config.TelegramRateLimit <= 0 {
		config.TelegramRateLimit = 20
	}
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = 50
	}
	if config.SweepUserTimeoutSeconds <= 0 {
		config.SweepUserTimeoutSeconds = 30
	}
	if config.MarzbanTokenTTLMinutes <= 0 {
		config.MarzbanTokenTTLMinutes = 60
	}
	if config.ReferralBonusDays <= 0 {
		config.ReferralBonusDays = 3
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}

	required := map[string]string{
		"TELEGRAM_BOT_TOKEN":    c.TelegramBotToken,
		"TELEGRAM_BOT_USERNAME": c.TelegramBotUsername,
		"MARZBAN_URL":           c.MarzbanURL,
		"MARZBAN_USERNAME":      c.MarzbanUsername,
		"MARZBAN_PASSWORD":      c.MarzbanPassword,
		"YOOKASSA_SHOP_ID":      c.YooKassaShopID,
		"YOOKASSA_SECRET_KEY":   c.YooKassaSecretKey,
	}
	if c.StoreDriver == StoreDriverPostgres {
		required["DATABASE_URL"] = c.DatabaseURL
	}
	for _, key := range envKeys {
		value, ok := required[key]
		if ok && strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s is required", key)
		}
	}

	if c.SweepLookaheadDays < 0 || c.SweepExpiredGraceHours < 0 {
		return fmt.Errorf("SWEEP_LOOKAHEAD_DAYS and SWEEP_EXPIRED_GRACE_HOURS must not be negative")
	}
	return nil
}

// DisplayLocation resolves DISPLAY_TIMEZONE, falling back to UTC when the zone
// database does not know it.
func (c *Config) DisplayLocation() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		log.Printf("level=warn component=config msg=\"unknown display timezone; using UTC\" zone=%q err=%v", c.DisplayTimezone, err)
		return time.UTC
	}
	return loc
}

// MarzbanTokenTTL is the lifetime assumed for a cached panel token.
func (c *Config) MarzbanTokenTTL() time.Duration {
	return time.Duration(c.MarzbanTokenTTLMinutes) * time.Minute
}

// SweepUserTimeout bounds the reconciliation of a single user.
func (c *Config) SweepUserTimeout() time.Duration {
	return time.Duration(c.SweepUserTimeoutSeconds) * time.Second
}
