package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	DBUser          string
	DBPassword      string
	DBName          string
	DBHost          string
	DBPort          string
	RedisHost       string
	RedisPort       string
	RedisPassword   string
	BotToken        string
	AdminID         int64
	ChannelID       string // "@username" or numeric chat id
	ChannelLink     string
	PaymentLink     string
	PaymentDetails  string
	UnitPrice       int
	GrantDays       int
	ReminderDays    int
	InviteTTL       time.Duration
	DailySweepSpec  string
	WeeklySweepSpec string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, using system environment variables")
	}

	return &Config{
		DBUser:          getEnv("DB_USER", "postgres"),
		DBPassword:      getEnv("DB_PASSWORD", "postgres"),
		DBName:          getEnv("DB_NAME", "antow_bot"),
		DBHost:          getEnv("DB_HOST", "localhost"),
		DBPort:          getEnv("DB_PORT", "5432"),
		RedisHost:       getEnv("REDIS_HOST", "localhost"),
		RedisPort:       getEnv("REDIS_PORT", "6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		BotToken:        getEnv("TELEGRAM_BOT_TOKEN", ""),
		AdminID:         getEnvInt64("ADMIN_ID", 0),
		ChannelID:       getEnv("CHANNEL_ID", ""),
		ChannelLink:     getEnv("CHANNEL_LINK", ""),
		PaymentLink:     getEnv("PAYMENT_LINK", "https://example.com/payment"),
		PaymentDetails:  getEnv("PAYMENT_DETAILS", ""),
		UnitPrice:       getEnvInt("UNIT_PRICE", 500),
		GrantDays:       getEnvInt("GRANT_DAYS", 30),
		ReminderDays:    getEnvInt("REMINDER_DAYS", 3),
		InviteTTL:       time.Duration(getEnvInt("INVITE_TTL_HOURS", 24)) * time.Hour,
		DailySweepSpec:  getEnv("DAILY_SWEEP_SPEC", "0 12 * * *"),
		WeeklySweepSpec: getEnv("WEEKLY_SWEEP_SPEC", "0 10 * * 0"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Warn().Str("key", key).Int("default", fallback).Msg("Invalid integer in environment")
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
		log.Warn().Str("key", key).Int64("default", fallback).Msg("Invalid integer in environment")
	}
	return fallback
}
