package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName string
	HTTPPort    string
	PostgresDSN string

	WebhookSecret string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	ShutdownTimeout  time.Duration

	ReconcilerStartBlock uint64
	OutboxPollInterval   time.Duration
	OutboxBatchSize      int
}

// Load reads platefund.yaml from the working directory or /etc/platefund,
// then lets environment variables override file values. A missing config
// file is not an error; environment-only deployments are supported.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("platefund")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/platefund")

	v.SetDefault("service_name", "platefund")
	v.SetDefault("http_port", "8080")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("webhook_secret", "")
	v.SetDefault("http_read_timeout", "10s")
	v.SetDefault("http_write_timeout", "30s")
	v.SetDefault("shutdown_timeout", "15s")
	v.SetDefault("reconciler_start_block", 0)
	v.SetDefault("outbox_poll_interval", "2s")
	v.SetDefault("outbox_batch_size", 100)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}

	return Config{
		ServiceName:          v.GetString("service_name"),
		HTTPPort:             v.GetString("http_port"),
		PostgresDSN:          v.GetString("postgres_dsn"),
		WebhookSecret:        v.GetString("webhook_secret"),
		HTTPReadTimeout:      v.GetDuration("http_read_timeout"),
		HTTPWriteTimeout:     v.GetDuration("http_write_timeout"),
		ShutdownTimeout:      v.GetDuration("shutdown_timeout"),
		ReconcilerStartBlock: v.GetUint64("reconciler_start_block"),
		OutboxPollInterval:   v.GetDuration("outbox_poll_interval"),
		OutboxBatchSize:      v.GetInt("outbox_batch_size"),
	}, nil
}
