package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion           string
	AWSEndpointOverride string

	// Decision routing thresholds.
	CertaintyThreshold    float64
	SignificanceThreshold float64

	// Token budget, per scope. Zero means unbounded.
	DailyTokenLimitProactive int64
	DailyTokenLimitReactive  int64
	MinimumViableTokens      int64

	// Proactive scheduler cadence.
	MinInterval time.Duration
	MaxInterval time.Duration

	// Reactive job worker.
	JobPollInterval time.Duration
	JobBatchSize    int

	// Media pipeline.
	MediaPollInterval time.Duration
	MediaBatchSize    int
	MediaMaxAttempts  int
	MediaBucket       string

	// Approval flow.
	ApprovalTimeout            time.Duration
	ApprovalTimeoutDisposition string // "abandon" or "reject"

	// Cycle memory.
	MemoryRetentionCount int

	// Inbound event queue.
	EventQueueURL string

	// Decision model.
	LLMProvider      string // "bedrock" or "gemini"
	BedrockModelID   string
	GeminiAPIKey     string
	GeminiModelID    string
	DecisionMaxToken int

	// Operator notifications.
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	OperatorEmail     string

	AdminJWTSecret string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		CertaintyThreshold:    getEnvAsFloat("CERTAINTY_THRESHOLD", 0.8),
		SignificanceThreshold: getEnvAsFloat("SIGNIFICANCE_THRESHOLD", 0.8),

		DailyTokenLimitProactive: int64(getEnvAsInt("DAILY_TOKEN_LIMIT_PROACTIVE", 200000)),
		DailyTokenLimitReactive:  int64(getEnvAsInt("DAILY_TOKEN_LIMIT_REACTIVE", 0)),
		MinimumViableTokens:      int64(getEnvAsInt("MINIMUM_VIABLE_TOKENS", 2000)),

		MinInterval: getEnvAsDuration("MIN_INTERVAL", 5*time.Minute),
		MaxInterval: getEnvAsDuration("MAX_INTERVAL", 2*time.Hour),

		JobPollInterval: getEnvAsDuration("JOB_POLL_INTERVAL", 2*time.Second),
		JobBatchSize:    getEnvAsInt("JOB_BATCH_SIZE", 5),

		MediaPollInterval: getEnvAsDuration("MEDIA_POLL_INTERVAL", 5*time.Second),
		MediaBatchSize:    getEnvAsInt("MEDIA_BATCH_SIZE", 10),
		MediaMaxAttempts:  getEnvAsInt("MEDIA_MAX_ATTEMPTS", 3),
		MediaBucket:       getEnv("MEDIA_BUCKET", ""),

		ApprovalTimeout:            getEnvAsDuration("APPROVAL_TIMEOUT", 10*time.Minute),
		ApprovalTimeoutDisposition: strings.ToLower(strings.TrimSpace(getEnv("APPROVAL_TIMEOUT_DISPOSITION", "abandon"))),

		MemoryRetentionCount: getEnvAsInt("MEMORY_RETENTION_COUNT", 50),

		EventQueueURL: getEnv("EVENT_QUEUE_URL", ""),

		LLMProvider:      strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "bedrock"))),
		BedrockModelID:   getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:    getEnv("GEMINI_MODEL_ID", ""),
		DecisionMaxToken: getEnvAsInt("DECISION_MAX_TOKENS", 1024),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Attache"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		OperatorEmail:     getEnv("OPERATOR_EMAIL", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
	}
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

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
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
