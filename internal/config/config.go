package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// GitHub
	GitHubToken string
	GitHubOwner string
	GitHubRepo  string

	// Storage
	StorageType string // "sqlite" or "postgres"
	SQLitePath  string
	PostgresURL string

	// API Server
	APIPort string
	APIHost string

	// CLI
	APIEndpoint string

	// Scheduler
	MetricsCron          string
	CleanupCron          string
	RetentionDays        int
	MaxRetries           int
	RetryDelaySeconds    int
	BackoffMultiplier    int
	ErrorThreshold       int
	NotificationsEnabled bool

	// Cache TTLs per data category, in minutes
	MetadataTTLMinutes int
	ActivityTTLMinutes int
	MetricsTTLMinutes  int

	// GitHub client pagination and timeouts
	MaxPages              int
	PageSize              int
	RequestTimeoutSeconds int

	// Logging
	LogLevel string
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	return &Config{
		GitHubToken: getEnv("GITHUB_TOKEN", ""),
		GitHubOwner: getEnv("GITHUB_OWNER", ""),
		GitHubRepo:  getEnv("GITHUB_REPO", ""),

		StorageType: getEnv("STORAGE_TYPE", "sqlite"),
		SQLitePath:  getEnv("SQLITE_PATH", "./metrics.db"),
		PostgresURL: getEnv("POSTGRES_URL", ""),

		APIPort:     getEnv("API_PORT", "8080"),
		APIHost:     getEnv("API_HOST", "localhost"),
		APIEndpoint: getEnv("API_ENDPOINT", "http://localhost:8080"),

		MetricsCron:          getEnv("METRICS_CRON", "0 */6 * * *"),
		CleanupCron:          getEnv("CLEANUP_CRON", "0 3 * * 0"),
		RetentionDays:        getEnvInt("RETENTION_DAYS", 365),
		MaxRetries:           getEnvInt("MAX_RETRIES", 3),
		RetryDelaySeconds:    getEnvInt("RETRY_DELAY_SECONDS", 5),
		BackoffMultiplier:    getEnvInt("BACKOFF_MULTIPLIER", 2),
		ErrorThreshold:       getEnvInt("ERROR_THRESHOLD", 5),
		NotificationsEnabled: getEnvBool("NOTIFICATIONS_ENABLED", false),

		MetadataTTLMinutes: getEnvInt("CACHE_METADATA_TTL_MINUTES", 30),
		ActivityTTLMinutes: getEnvInt("CACHE_ACTIVITY_TTL_MINUTES", 5),
		MetricsTTLMinutes:  getEnvInt("CACHE_METRICS_TTL_MINUTES", 1),

		MaxPages:              getEnvInt("MAX_PAGES", 10),
		PageSize:              getEnvInt("PAGE_SIZE", 100),
		RequestTimeoutSeconds: getEnvInt("REQUEST_TIMEOUT_SECONDS", 30),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.GitHubToken == "" {
		return &ConfigError{Field: "GITHUB_TOKEN", Message: "GitHub token is required"}
	}
	if c.GitHubOwner == "" {
		return &ConfigError{Field: "GITHUB_OWNER", Message: "repository owner is required"}
	}
	if c.GitHubRepo == "" {
		return &ConfigError{Field: "GITHUB_REPO", Message: "repository name is required"}
	}
	if c.StorageType != "sqlite" && c.StorageType != "postgres" {
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite' or 'postgres'"}
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
	}
	if c.MaxRetries < 1 {
		return &ConfigError{Field: "MAX_RETRIES", Message: "must be at least 1"}
	}
	if c.RetryDelaySeconds < 1 {
		return &ConfigError{Field: "RETRY_DELAY_SECONDS", Message: "must be at least 1"}
	}
	if c.BackoffMultiplier < 1 {
		return &ConfigError{Field: "BACKOFF_MULTIPLIER", Message: "must be at least 1"}
	}
	if c.RetentionDays < 1 {
		return &ConfigError{Field: "RETENTION_DAYS", Message: "must be at least 1"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
