package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends understood by bootstrap.BuildStore.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendDynamo   = "dynamodb"
)

// Email providers understood by bootstrap.BuildNotifier.
const (
	EmailProviderStub     = "stub"
	EmailProviderSendGrid = "sendgrid"
	EmailProviderSES      = "ses"
)

// Config holds application configuration
type Config struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string

	// Help Scout
	HelpScoutSecret      string
	HelpScoutAppID       string
	HelpScoutAppSecret   string
	HelpScoutAPIBaseURL  string
	HelpScoutHTTPTimeout time.Duration

	// Webhook ingestion
	WebhookRequireSignature bool
	WebhookMaxBodyBytes     int64
	CommandTimezone         string

	// Schedule store
	StoreBackend   string
	StoreKeyPrefix string
	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	DatabaseURL    string
	DynamoTable    string

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Reconciliation
	ReconcileSchedule       string
	ReconcileTimeout        time.Duration
	ReconcileConcurrency    int
	ReconcileMaxAttempts    int
	ReconcileRetryBaseDelay time.Duration
	ReconcileRunOnStart     bool

	// Admin API
	AdminJWTSecret string
	AdminRateLimit float64
	AdminRateBurst int

	// Abandonment alerts
	AlertEmailTo   string
	EmailProvider  string
	EmailFrom      string
	EmailFromName  string
	SendGridAPIKey string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:      getEnv("PORT", "8080"),
		Env:       getEnv("ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		HelpScoutSecret:      getEnv("HS_SECRET", ""),
		HelpScoutAppID:       getEnv("HS_APP_ID", ""),
		HelpScoutAppSecret:   getEnv("HS_APP_SECRET", ""),
		HelpScoutAPIBaseURL:  getEnv("HS_API_BASE_URL", "https://api.helpscout.net"),
		HelpScoutHTTPTimeout: getEnvAsDuration("HS_HTTP_TIMEOUT", 30*time.Second),

		WebhookRequireSignature: getEnvAsBool("WEBHOOK_REQUIRE_SIGNATURE", true),
		WebhookMaxBodyBytes:     int64(getEnvAsInt("WEBHOOK_MAX_BODY_BYTES", 1<<20)),
		CommandTimezone:         getEnv("COMMAND_TIMEZONE", "UTC"),

		StoreBackend:   strings.ToLower(strings.TrimSpace(getEnv("STORE_BACKEND", BackendMemory))),
		StoreKeyPrefix: getEnv("STORE_KEY_PREFIX", "helpscout:"),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DynamoTable:    getEnv("DYNAMO_TABLE", "scheduled_reopens"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		ReconcileSchedule:       getEnv("RECONCILE_SCHEDULE", "0 */3 * * *"),
		ReconcileTimeout:        getEnvAsDuration("RECONCILE_TIMEOUT", 5*time.Minute),
		ReconcileConcurrency:    getEnvAsInt("RECONCILE_CONCURRENCY", 4),
		ReconcileMaxAttempts:    getEnvAsInt("RECONCILE_MAX_ATTEMPTS", 5),
		ReconcileRetryBaseDelay: getEnvAsDuration("RECONCILE_RETRY_BASE_DELAY", 15*time.Minute),
		ReconcileRunOnStart:     getEnvAsBool("RECONCILE_RUN_ON_START", false),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		AdminRateLimit: getEnvAsFloat("ADMIN_RATE_LIMIT", 5),
		AdminRateBurst: getEnvAsInt("ADMIN_RATE_BURST", 10),

		AlertEmailTo:   getEnv("ALERT_EMAIL_TO", ""),
		EmailProvider:  strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", EmailProviderStub))),
		EmailFrom:      getEnv("EMAIL_FROM", ""),
		EmailFromName:  getEnv("EMAIL_FROM_NAME", "Help Scout Automation"),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
	}
}

// Validate performs presence checks on values the service cannot run without.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil config")
	}
	var errs []error
	if c.WebhookRequireSignature && strings.TrimSpace(c.HelpScoutSecret) == "" {
		errs = append(errs, errors.New("HS_SECRET is required when WEBHOOK_REQUIRE_SIGNATURE is enabled"))
	}
	if strings.TrimSpace(c.HelpScoutAppID) == "" {
		errs = append(errs, errors.New("HS_APP_ID is required"))
	}
	if strings.TrimSpace(c.HelpScoutAppSecret) == "" {
		errs = append(errs, errors.New("HS_APP_SECRET is required"))
	}
	if _, err := time.LoadLocation(c.CommandTimezone); err != nil {
		errs = append(errs, fmt.Errorf("COMMAND_TIMEZONE %q: %w", c.CommandTimezone, err))
	}

	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis store"))
		}
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case BackendDynamo:
		if strings.TrimSpace(c.DynamoTable) == "" {
			errs = append(errs, errors.New("DYNAMO_TABLE is required for the dynamodb store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.EmailProvider {
	case EmailProviderStub:
	case EmailProviderSendGrid:
		if strings.TrimSpace(c.SendGridAPIKey) == "" {
			errs = append(errs, errors.New("SENDGRID_API_KEY is required for the sendgrid email provider"))
		}
		if strings.TrimSpace(c.EmailFrom) == "" {
			errs = append(errs, errors.New("EMAIL_FROM is required for the sendgrid email provider"))
		}
	case EmailProviderSES:
		if strings.TrimSpace(c.EmailFrom) == "" {
			errs = append(errs, errors.New("EMAIL_FROM is required for the ses email provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EMAIL_PROVIDER %q", c.EmailProvider))
	}

	if c.ReconcileConcurrency <= 0 {
		errs = append(errs, errors.New("RECONCILE_CONCURRENCY must be positive"))
	}
	if c.ReconcileMaxAttempts <= 0 {
		errs = append(errs, errors.New("RECONCILE_MAX_ATTEMPTS must be positive"))
	}
	if c.ReconcileRetryBaseDelay > maxRetryBaseDelay {
		errs = append(errs, fmt.Errorf("RECONCILE_RETRY_BASE_DELAY must not exceed %s", maxRetryBaseDelay))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// maxRetryBaseDelay matches the reconcile job's retry ceiling.
const maxRetryBaseDelay = 24 * time.Hour

// Location returns the timezone used to interpret command dates.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.CommandTimezone)
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
