package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort int
	Database   DatabaseConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Lockout    LockoutConfig
	Alerts     AlertsConfig
	Archive    ArchiveConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

// AuthConfig holds token and password-hashing settings.
type AuthConfig struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
}

// RateLimitConfig holds per-endpoint-class sliding window settings.
type RateLimitConfig struct {
	AdminMax      int
	AdminWindow   time.Duration
	AuthMax       int
	AuthWindow    time.Duration
	DefaultMax    int
	DefaultWindow time.Duration
	SweepInterval time.Duration
}

// LockoutConfig holds failed-login tracking settings. The same duration
// serves as both the failure-counting window and the lockout length.
type LockoutConfig struct {
	MaxAttempts int
	Duration    time.Duration
}

// AlertsConfig selects the security-event fan-out backend. An empty Backend
// disables publishing.
type AlertsConfig struct {
	Backend  string // "", "rabbitmq" or "pubsub"
	Channel  string
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

// ArchiveConfig selects the object-store backend for export archival. An
// empty Backend disables archival.
type ArchiveConfig struct {
	Backend string // "", "minio" or "gcs"
	Minio   MinioConfig
	GCS     GCSConfig
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "jdauth"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "jdauth_db"),
		UseSSL:   getEnvBool("DB_USE_SSL", false),
	}

	return Config{
		ServerPort: getEnvInt("SERVER_PORT", 8080),
		Database:   dbConfig,
		Auth: AuthConfig{
			JWTSecret:  getEnv("JWT_SECRET", ""),
			TokenTTL:   getEnvMinutes("ACCESS_TOKEN_EXPIRE_MINUTES", 30),
			BcryptCost: getEnvInt("BCRYPT_COST", 10),
		},
		RateLimit: RateLimitConfig{
			AdminMax:      getEnvInt("RATE_LIMIT_ADMIN_MAX", 30),
			AdminWindow:   getEnvSeconds("RATE_LIMIT_ADMIN_WINDOW_SECONDS", 60),
			AuthMax:       getEnvInt("RATE_LIMIT_AUTH_MAX", 10),
			AuthWindow:    getEnvSeconds("RATE_LIMIT_AUTH_WINDOW_SECONDS", 60),
			DefaultMax:    getEnvInt("RATE_LIMIT_DEFAULT_MAX", 60),
			DefaultWindow: getEnvSeconds("RATE_LIMIT_DEFAULT_WINDOW_SECONDS", 60),
			SweepInterval: getEnvMinutes("RATE_LIMIT_SWEEP_MINUTES", 10),
		},
		Lockout: LockoutConfig{
			MaxAttempts: getEnvInt("LOCKOUT_MAX_ATTEMPTS", 5),
			Duration:    getEnvMinutes("LOCKOUT_DURATION_MINUTES", 30),
		},
		Alerts: AlertsConfig{
			Backend: getEnv("ALERTS_BACKEND", ""),
			Channel: getEnv("ALERTS_CHANNEL", "security-events"),
			RabbitMQ: RabbitMQConfig{
				URL:             getEnv("RABBITMQ_URL", ""),
				QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
				QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
				PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH_COUNT", 0),
			},
			PubSub: PubSubConfig{
				ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
				CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
				SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
			},
		},
		Archive: ArchiveConfig{
			Backend: getEnv("ARCHIVE_BACKEND", ""),
			Minio: MinioConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", ""),
				AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MINIO_SECRET_KEY", ""),
				Bucket:    getEnv("MINIO_BUCKET", "jdauth-exports"),
				UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			},
			GCS: GCSConfig{
				Bucket:          getEnv("GCS_BUCKET", ""),
				ProjectID:       getEnv("GCS_PROJECT_ID", ""),
				CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
			},
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		if _, err := fmt.Sscanf(valueStr, "%d", &value); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		switch valueStr {
		case "1", "true", "TRUE", "True", "yes":
			return true
		case "0", "false", "FALSE", "False", "no":
			return false
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Second
}

func getEnvMinutes(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Minute
}
