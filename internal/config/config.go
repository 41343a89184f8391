package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int
	DatabaseURL    string
	AdminJWTSecret string
	Timezone       string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	InboundQueueURL     string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// WhatsApp Cloud API
	WhatsAppAccessToken   string
	WhatsAppPhoneNumberID string
	WhatsAppAppSecret     string
	WhatsAppVerifyToken   string
	WhatsAppGraphBaseURL  string
	WhatsAppTenantMapJSON string
	DefaultTenantID       string

	// Conversation engine
	LockTTL                time.Duration
	LockWait               time.Duration
	TurnTimeout            time.Duration
	PendingFlowTTL         time.Duration
	DirectoryRetryAttempts int
	SendMaxAttempts        int
	SendBaseDelay          time.Duration
	MaxDeliveryAttempts    int
	TranscriptCacheTTL     time.Duration

	// Webhook requests per second per IP; zero disables limiting.
	WebhookRateLimit float64
	WebhookBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		Timezone:       getEnv("TIMEZONE", "UTC"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		InboundQueueURL:     getEnv("INBOUND_QUEUE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		WhatsAppAccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppPhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppAppSecret:     getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppVerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppGraphBaseURL:  getEnv("WHATSAPP_GRAPH_BASE_URL", ""),
		WhatsAppTenantMapJSON: getEnv("WHATSAPP_TENANT_MAP_JSON", ""),
		DefaultTenantID:       strings.TrimSpace(getEnv("DEFAULT_TENANT_ID", "")),

		LockTTL:                getEnvAsDuration("LOCK_TTL", 30*time.Second),
		LockWait:               getEnvAsDuration("LOCK_WAIT", 5*time.Second),
		TurnTimeout:            getEnvAsDuration("TURN_TIMEOUT", 15*time.Second),
		PendingFlowTTL:         getEnvAsDuration("PENDING_FLOW_TTL", 10*time.Minute),
		DirectoryRetryAttempts: getEnvAsInt("DIRECTORY_RETRY_ATTEMPTS", 3),
		SendMaxAttempts:        getEnvAsInt("SEND_MAX_ATTEMPTS", 3),
		SendBaseDelay:          getEnvAsDuration("SEND_BASE_DELAY", 250*time.Millisecond),
		MaxDeliveryAttempts:    getEnvAsInt("MAX_DELIVERY_ATTEMPTS", 5),
		TranscriptCacheTTL:     getEnvAsDuration("TRANSCRIPT_CACHE_TTL", 10*time.Minute),

		WebhookRateLimit: getEnvAsFloat("WEBHOOK_RATE_LIMIT", 20),
		WebhookBurst:     getEnvAsInt("WEBHOOK_RATE_BURST", 40),
	}
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
