package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort       string
	AppMode       string
	DBHost        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBPort        string
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Channel integration
	ChannelEnabled             bool
	ChannelBaseURL             string
	ChannelWebhookSecret       string
	ChannelAllowedIPs          []string
	ChannelReplayWindowSeconds int
	ChannelRateLimitPerMinute  int
	ChannelSyncDays            int
	ChannelMaxPayloadBytes     int

	// Outbox worker
	WorkerPollSeconds    int
	WorkerBatchSize      int
	WorkerMaxAttempts    int
	WorkerBackoffSeconds int
	WorkerBackoffCapSecs int
	WorkerStaleSeconds   int

	// Endpoint rate limiting (per source IP, sliding window)
	WebhookRateLimit  int
	WebhookRateWindow int

	WebhookMaxBodyBytes int
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:       getEnv("APP_PORT", "8080"),
		AppMode:       getEnv("APP_MODE", "debug"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "staysync"),
		DBPort:        getEnv("DB_PORT", "5432"),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		ChannelEnabled:             getEnvAsBool("CHANNEL_ENABLED", true),
		ChannelBaseURL:             getEnv("CHANNEL_BASE_URL", "https://staging.channex.io/api/v1"),
		ChannelWebhookSecret:       getEnv("CHANNEL_WEBHOOK_SECRET", ""),
		ChannelAllowedIPs:          getEnvAsList("CHANNEL_ALLOWED_IPS"),
		ChannelReplayWindowSeconds: getEnvAsInt("CHANNEL_REPLAY_WINDOW_SECONDS", 300),
		ChannelRateLimitPerMinute:  getEnvAsInt("CHANNEL_RATE_LIMIT_PER_MINUTE", 10),
		ChannelSyncDays:            getEnvAsInt("CHANNEL_SYNC_DAYS", 30),
		ChannelMaxPayloadBytes:     getEnvAsInt("CHANNEL_MAX_PAYLOAD_BYTES", 51200),

		WorkerPollSeconds:    getEnvAsInt("WORKER_POLL_SECONDS", 5),
		WorkerBatchSize:      getEnvAsInt("WORKER_BATCH_SIZE", 50),
		WorkerMaxAttempts:    getEnvAsInt("WORKER_MAX_ATTEMPTS", 5),
		WorkerBackoffSeconds: getEnvAsInt("WORKER_BACKOFF_SECONDS", 60),
		WorkerBackoffCapSecs: getEnvAsInt("WORKER_BACKOFF_CAP_SECONDS", 3600),
		WorkerStaleSeconds:   getEnvAsInt("WORKER_STALE_SECONDS", 600),

		WebhookRateLimit:  getEnvAsInt("WEBHOOK_RATE_LIMIT", 120),
		WebhookRateWindow: getEnvAsInt("WEBHOOK_RATE_WINDOW_SECONDS", 60),

		WebhookMaxBodyBytes: getEnvAsInt("WEBHOOK_MAX_BODY_BYTES", 1<<20),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
