// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID.
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Stores
	DatabaseURL string
	RedisURL    string

	// API auth: shared secret accepted as bearer token, API key header,
	// or as the HS256 signing key of a service JWT.
	APISecret string

	// OpenAI
	OpenAIAPIKey   string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeout     time.Duration

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleTopicName    string

	// OAuth - Microsoft
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftTenantID     string
	MicrosoftWebhookURL   string
	MicrosoftClientState  string

	// Worker
	WorkerID        string
	WorkerMin       int
	WorkerMax       int
	WorkerQueueSize int

	// Pipeline
	ProcessingLockTTL time.Duration
	ProviderTimeout   time.Duration
	ColdEmailLabel    string

	// AssistantAlias is the plus-tag routed to the assistant for
	// accounts without an explicit alias address.
	AssistantAlias string

	// Digest
	DigestBatchSize int
	DigestSchedule  time.Duration

	// Consumer (Redis streams)
	ConsumerBatchSize  int
	ConsumerBlock      time.Duration
	ConsumerMaxRetries int
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		APISecret: getEnv("API_SECRET", ""),

		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 2048),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
		LLMTimeout:     time.Duration(getEnvInt("LLM_TIMEOUT_SEC", 30)) * time.Second,

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleTopicName:    getEnv("GOOGLE_PUBSUB_TOPIC", ""),

		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftTenantID:     getEnv("MICROSOFT_TENANT_ID", "common"),
		MicrosoftWebhookURL:   getEnv("MICROSOFT_WEBHOOK_URL", ""),
		MicrosoftClientState:  getEnv("MICROSOFT_CLIENT_STATE", ""),

		WorkerID:        getEnv("WORKER_ID", generateWorkerID()),
		WorkerMin:       getEnvInt("WORKER_MIN", 2),
		WorkerMax:       getEnvInt("WORKER_MAX", 16),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 1000),

		ProcessingLockTTL: time.Duration(getEnvInt("PROCESSING_LOCK_TTL_SEC", 300)) * time.Second,
		ProviderTimeout:   time.Duration(getEnvInt("PROVIDER_TIMEOUT_SEC", 30)) * time.Second,
		ColdEmailLabel:    getEnv("COLD_EMAIL_LABEL", "Cold Email"),
		AssistantAlias:    getEnv("ASSISTANT_ALIAS", "assistant"),

		DigestBatchSize: getEnvInt("DIGEST_BATCH_SIZE", 50),
		DigestSchedule:  time.Duration(getEnvInt("DIGEST_SCHEDULE_MIN", 1440)) * time.Minute,

		ConsumerBatchSize:  getEnvInt("CONSUMER_BATCH_SIZE", 10),
		ConsumerBlock:      time.Duration(getEnvInt("CONSUMER_BLOCK_MS", 5000)) * time.Millisecond,
		ConsumerMaxRetries: getEnvInt("CONSUMER_MAX_RETRIES", 3),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
