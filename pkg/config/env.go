package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "AGROPULSE"

// envOverrides lists the settings that deployments override from the environment.
type envOverrides struct {
	Environment            string   `envconfig:"ENVIRONMENT"`
	ServerPort             int      `envconfig:"SERVER_PORT"`
	LogLevel               string   `envconfig:"LOG_LEVEL"`
	KafkaEnabled           *bool    `envconfig:"KAFKA_ENABLED"`
	KafkaBrokers           []string `envconfig:"KAFKA_BROKERS"`
	KafkaObservationsTopic string   `envconfig:"KAFKA_OBSERVATIONS_TOPIC"`
	KafkaAlertsTopic       string   `envconfig:"KAFKA_ALERTS_TOPIC"`
	ClickHouseHost         string   `envconfig:"CLICKHOUSE_HOST"`
	ClickHousePassword     string   `envconfig:"CLICKHOUSE_PASSWORD"`
	RedisEnabled           *bool    `envconfig:"REDIS_ENABLED"`
	RedisHost              string   `envconfig:"REDIS_HOST"`
	RedisPassword          string   `envconfig:"REDIS_PASSWORD"`
	MinHistory             int      `envconfig:"MIN_HISTORY"`
	RefreshSpec            string   `envconfig:"REFRESH_SPEC"`
	WebhookURL             string   `envconfig:"WEBHOOK_URL"`
}

func applyEnv(c *Config) error {
	var o envOverrides
	if err := envconfig.Process(envPrefix, &o); err != nil {
		return fmt.Errorf("read env: %w", err)
	}

	if o.Environment != "" {
		c.Environment = o.Environment
	}
	if o.ServerPort != 0 {
		c.Server.Port = o.ServerPort
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.KafkaEnabled != nil {
		c.Kafka.Enabled = *o.KafkaEnabled
	}
	if len(o.KafkaBrokers) > 0 {
		c.Kafka.Brokers = o.KafkaBrokers
	}
	if o.KafkaObservationsTopic != "" {
		c.Kafka.ObservationsTopic = o.KafkaObservationsTopic
	}
	if o.KafkaAlertsTopic != "" {
		c.Kafka.AlertsTopic = o.KafkaAlertsTopic
	}
	if o.ClickHouseHost != "" {
		c.ClickHouse.Host = o.ClickHouseHost
	}
	if o.ClickHousePassword != "" {
		c.ClickHouse.Password = o.ClickHousePassword
	}
	if o.RedisEnabled != nil {
		c.Redis.Enabled = *o.RedisEnabled
	}
	if o.RedisHost != "" {
		c.Redis.Host = o.RedisHost
	}
	if o.RedisPassword != "" {
		c.Redis.Password = o.RedisPassword
	}
	if o.MinHistory != 0 {
		c.Engine.MinHistory = o.MinHistory
	}
	if o.RefreshSpec != "" {
		c.Scheduler.RefreshSpec = o.RefreshSpec
	}
	if o.WebhookURL != "" {
		c.Webhook.URL = o.WebhookURL
	}
	return nil
}
