package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/carelinkhq/carecall-voice-service/pkg/redis"
)

// Config is the env-driven service configuration.
type Config struct {
	Port string
	Env  string

	// PublicBaseURL is the externally reachable base URL, used to build
	// the media-stream WebSocket URL in TwiML and to validate Twilio
	// webhook signatures.
	PublicBaseURL string

	// InstanceID identifies this pod in multi-pod session monitoring.
	InstanceID string

	// Twilio
	TwilioAccountSID string
	TwilioAuthToken  string

	// ElevenLabs
	ElevenLabsAPIKey        string
	ElevenLabsAgentID       string
	ElevenLabsPhoneNumberID string
	ElevenLabsAPIBaseURL    string
	ElevenLabsWSBaseURL     string

	// WebhookSecret signs post-call termination webhooks.
	WebhookSecret string

	// WebhookTolerance is the termination webhook replay window.
	WebhookTolerance time.Duration

	// Relay tuning
	RelayQueueLimit   int
	RelayDrainTimeout time.Duration

	// Outbound initiation rate limit
	OutboundRPS   float64
	OutboundBurst int

	// SessionReapInterval and SessionReapAge bound how long terminal
	// sessions linger waiting for a late termination webhook.
	SessionReapInterval time.Duration
	SessionReapAge      time.Duration

	// ProfileCacheTTL bounds staleness of cached care profiles.
	ProfileCacheTTL time.Duration

	// OpsAPISecret signs the JWT keys protecting ops endpoints. Empty
	// disables auth (development only).
	OpsAPISecret string

	// Redis is nil when REDIS_HOST is unset.
	Redis *redis.Config

	// DatabaseEnabled turns persistence off for stateless deployments.
	DatabaseEnabled bool
}

// LoadFromEnv builds the configuration from environment variables.
func LoadFromEnv() *Config {
	cfg := &Config{
		Port:          getEnvOrDefault("PORT", "8082"),
		Env:           getEnvOrDefault("LOG_ENV", "development"),
		PublicBaseURL: getEnvOrDefault("PUBLIC_BASE_URL", ""),
		InstanceID:    getDynamicInstanceID(),

		TwilioAccountSID: getEnvOrDefault("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnvOrDefault("TWILIO_AUTH_TOKEN", ""),

		ElevenLabsAPIKey:        getEnvOrDefault("ELEVENLABS_API_KEY", ""),
		ElevenLabsAgentID:       getEnvOrDefault("ELEVENLABS_AGENT_ID", ""),
		ElevenLabsPhoneNumberID: getEnvOrDefault("ELEVENLABS_PHONE_NUMBER_ID", ""),
		ElevenLabsAPIBaseURL:    getEnvOrDefault("ELEVENLABS_API_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsWSBaseURL:     getEnvOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),

		WebhookSecret:    getEnvOrDefault("ELEVENLABS_WEBHOOK_SECRET", ""),
		WebhookTolerance: getEnvDurationOrDefault("WEBHOOK_TOLERANCE", 30*time.Minute),

		RelayQueueLimit:   getEnvIntOrDefault("RELAY_QUEUE_LIMIT", 128),
		RelayDrainTimeout: getEnvDurationOrDefault("RELAY_DRAIN_TIMEOUT", 3*time.Second),

		OutboundRPS:   getEnvFloatOrDefault("OUTBOUND_CALLS_PER_SECOND", 1),
		OutboundBurst: getEnvIntOrDefault("OUTBOUND_CALL_BURST", 3),

		SessionReapInterval: getEnvDurationOrDefault("SESSION_REAP_INTERVAL", time.Minute),
		SessionReapAge:      getEnvDurationOrDefault("SESSION_REAP_AGE", time.Hour),

		ProfileCacheTTL: getEnvDurationOrDefault("PROFILE_CACHE_TTL", 5*time.Minute),

		OpsAPISecret: getEnvOrDefault("OPS_API_SECRET", ""),

		DatabaseEnabled: getEnvBoolOrDefault("DATABASE_ENABLED", true),
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.Redis = &redis.Config{
			Host:     host,
			Port:     getEnvOrDefault("REDIS_PORT", "6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvIntOrDefault("REDIS_DB", 0),
		}
	}

	return cfg
}

// MediaStreamURL is the public WebSocket URL Twilio connects to.
func (c *Config) MediaStreamURL() string {
	base := c.PublicBaseURL
	if base == "" {
		base = "http://localhost:" + c.Port
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/media-stream"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/media-stream"
	default:
		return base + "/media-stream"
	}
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault gets environment variable as int or returns default
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloatOrDefault gets environment variable as float or returns default
func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBoolOrDefault gets environment variable as bool or returns default
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault gets environment variable as duration or returns default
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getDynamicInstanceID generates a unique identifier for this service instance.
// It first tries the system hostname (pod name in K8s), then falls back to a
// timestamp-based ID.
func getDynamicInstanceID() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return fmt.Sprintf("carecall-voice-%d", time.Now().UnixNano())
}
