// --- File: apnsservice/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RetryConfig bounds per-token redelivery.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// APNSConfig holds the gateway credentials and tuning.
type APNSConfig struct {
	Sandbox  bool
	Endpoint string
	Topic    string

	// Token authentication. AuthKey is the PEM content of the .p8 file and
	// wins over AuthKeyFile.
	KeyID       string
	TeamID      string
	AuthKey     string
	AuthKeyFile string

	// Certificate authentication.
	CertFile     string
	CertPassword string

	Connections    int
	EagerConnect   bool
	RequestTimeout time.Duration
	IdleTimeout    time.Duration

	MaxConcurrency int
	Retry          RetryConfig
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	Insecure     bool
	SampleRate   float64
	Environment  string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	IdentityServiceURL     string
	InvalidTokenCollection string

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	APNS       APNSConfig
	Telemetry  TelemetryConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// PipelineEnabled reports whether Pub/Sub ingestion is configured.
func (c *Config) PipelineEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	setString := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			*dst = val
		}
	}

	setString("PROJECT_ID", &cfg.ProjectID)
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	setString("TOPIC_ID", &cfg.TopicID)
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	setString("SUBSCRIPTION_DLQ_TOPIC_ID", &cfg.SubscriptionDLQTopicID)
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}
	setString("IDENTITY_SERVICE_URL", &cfg.IdentityServiceURL)
	setString("INVALID_TOKEN_COLLECTION", &cfg.InvalidTokenCollection)

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// APNs Overrides (secrets are expected here rather than in YAML)
	setString("APNS_KEY_ID", &cfg.APNS.KeyID)
	setString("APNS_TEAM_ID", &cfg.APNS.TeamID)
	setString("APNS_AUTH_KEY", &cfg.APNS.AuthKey)
	setString("APNS_AUTH_KEY_FILE", &cfg.APNS.AuthKeyFile)
	setString("APNS_CERT_FILE", &cfg.APNS.CertFile)
	setString("APNS_CERT_PASSWORD", &cfg.APNS.CertPassword)
	setString("APNS_TOPIC", &cfg.APNS.Topic)
	setString("APNS_ENDPOINT", &cfg.APNS.Endpoint)
	if val := os.Getenv("APNS_SANDBOX"); val != "" {
		sandbox, _ := strconv.ParseBool(val)
		cfg.APNS.Sandbox = sandbox
	}
	if val := os.Getenv("APNS_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.APNS.Connections = n
		}
	}

	// Telemetry Overrides
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		logger.Debug("Overriding config value", "key", "OTEL_EXPORTER_OTLP_ENDPOINT", "source", "env")
		cfg.Telemetry.OTLPEndpoint = val
		cfg.Telemetry.Enabled = true
	}
	if val := os.Getenv("TRACING_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Telemetry.Enabled = enabled
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.APNS.AuthKey == "" && cfg.APNS.AuthKeyFile == "" && cfg.APNS.CertFile == "" {
		// Not fatal: the client stores the error and rejects every batch with it.
		logger.Warn("No APNs credentials configured; every send will fail until APNS_AUTH_KEY or APNS_CERT_FILE is set")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.IdentityServiceURL == "" {
		cfg.IdentityServiceURL = "http://localhost:3000"
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = time.Hour
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
