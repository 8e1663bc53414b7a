// --- File: apnsservice/config/yaml_config.go ---
package config

import (
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Enabled  bool          `yaml:"enabled"`
	TTL      time.Duration `yaml:"ttl"`
}

type YamlRetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time"`
}

// YamlAPNSConfig carries only non-secret settings; credentials come from the
// environment.
type YamlAPNSConfig struct {
	Sandbox        bool            `yaml:"sandbox"`
	Endpoint       string          `yaml:"endpoint"`
	Topic          string          `yaml:"topic"`
	KeyID          string          `yaml:"key_id"`
	TeamID         string          `yaml:"team_id"`
	AuthKeyFile    string          `yaml:"auth_key_file"`
	CertFile       string          `yaml:"cert_file"`
	Connections    int             `yaml:"connections"`
	EagerConnect   bool            `yaml:"eager_connect"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	IdleTimeout    time.Duration   `yaml:"idle_timeout"`
	MaxConcurrency int             `yaml:"max_concurrency"`
	Retry          YamlRetryConfig `yaml:"retry"`
}

type YamlTelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SampleRate   float64 `yaml:"sample_rate"`
	Environment  string  `yaml:"environment"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string              `yaml:"project_id"`
	ListenAddr             string              `yaml:"listen_addr"`
	TopicID                string              `yaml:"topic_id"`
	SubscriptionID         string              `yaml:"subscription_id"`
	SubscriptionDLQTopicID string              `yaml:"subscription_dlq_topic_id"`
	IdentityServiceURL     string              `yaml:"identity_service_url"`
	InvalidTokenCollection string              `yaml:"invalid_token_collection"`
	CorsConfig             YamlCorsConfig      `yaml:"cors"`
	RedisConfig            YamlRedisConfig     `yaml:"redis"`
	APNSConfig             YamlAPNSConfig      `yaml:"apns"`
	TelemetryConfig        YamlTelemetryConfig `yaml:"telemetry"`
	NumPipelineWorkers     int                 `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	a := baseCfg.APNSConfig
	cfg := &Config{
		ProjectID:              baseCfg.ProjectID,
		ListenAddr:             baseCfg.ListenAddr,
		TopicID:                baseCfg.TopicID,
		SubscriptionID:         baseCfg.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
		IdentityServiceURL:     baseCfg.IdentityServiceURL,
		InvalidTokenCollection: baseCfg.InvalidTokenCollection,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      baseCfg.RedisConfig.TTL,
		},
		APNS: APNSConfig{
			Sandbox:        a.Sandbox,
			Endpoint:       a.Endpoint,
			Topic:          a.Topic,
			KeyID:          a.KeyID,
			TeamID:         a.TeamID,
			AuthKeyFile:    a.AuthKeyFile,
			CertFile:       a.CertFile,
			Connections:    a.Connections,
			EagerConnect:   a.EagerConnect,
			RequestTimeout: a.RequestTimeout,
			IdleTimeout:    a.IdleTimeout,
			MaxConcurrency: a.MaxConcurrency,
			Retry: RetryConfig{
				InitialInterval: a.Retry.InitialInterval,
				MaxInterval:     a.Retry.MaxInterval,
				MaxElapsedTime:  a.Retry.MaxElapsedTime,
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:      baseCfg.TelemetryConfig.Enabled,
			OTLPEndpoint: baseCfg.TelemetryConfig.OTLPEndpoint,
			Insecure:     baseCfg.TelemetryConfig.Insecure,
			SampleRate:   baseCfg.TelemetryConfig.SampleRate,
			Environment:  baseCfg.TelemetryConfig.Environment,
		},
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"apns_sandbox", cfg.APNS.Sandbox,
	)

	return cfg, nil
}
