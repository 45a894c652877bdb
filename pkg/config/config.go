package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required,oneof=development test staging production"`
	Server      struct {
		Port                 int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout          time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout         time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout      time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SlowRequestThreshold time.Duration `yaml:"slow_request_threshold" default:"2s"`
		CORSOrigins          []string      `yaml:"cors_origins"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Logging struct {
		Level      string        `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format     string        `yaml:"format" default:"console" validate:"oneof=console json"`
		Output     string        `yaml:"output" default:"stdout"`
		Collect    bool          `yaml:"collect"`
		FlushEvery time.Duration `yaml:"flush_every" default:"30s"`
		FlushCount int           `yaml:"flush_count" default:"100"`
	} `yaml:"logging"`
	Engine EngineConfig `yaml:"engine"`
	Kafka  struct {
		Enabled           bool     `yaml:"enabled"`
		Brokers           []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
		ObservationsTopic string   `yaml:"observations_topic" default:"agropulse.observations"`
		AlertsTopic       string   `yaml:"alerts_topic" default:"agropulse.alerts"`
		LogsTopic         string   `yaml:"logs_topic" default:"agropulse.logs"`
		RequiredAcks      int      `yaml:"required_acks" default:"-1"`
		Compression       string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Producer          struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"200ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"agropulse-engine"`
			Workers    int           `yaml:"workers" default:"2" validate:"gte=1"`
			BufferSize int           `yaml:"buffer_size" default:"64"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"agropulse.observations.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
		Breaker struct {
			MaxFailures uint32        `yaml:"max_failures" default:"5"`
			OpenTimeout time.Duration `yaml:"open_timeout" default:"30s"`
		} `yaml:"breaker"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"agropulse"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		WarmLoadDays     int           `yaml:"warm_load_days" default:"365" validate:"gte=0"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"agropulse"`
	} `yaml:"redis"`
	Cache struct {
		TTL           time.Duration `yaml:"ttl" default:"5m"`
		MemoryMaxSize int           `yaml:"memory_max_size" default:"1000" validate:"gte=1"`
	} `yaml:"cache"`
	Scheduler struct {
		Enabled     bool          `yaml:"enabled" default:"true"`
		RefreshSpec string        `yaml:"refresh_spec" default:"0 0 2 * * *"`
		RunOnStart  bool          `yaml:"run_on_start" default:"true"`
		LockTTL     time.Duration `yaml:"lock_ttl" default:"10m"`
	} `yaml:"scheduler"`
	Webhook struct {
		URL     string        `yaml:"url" validate:"omitempty,url"`
		Timeout time.Duration `yaml:"timeout" default:"5s" validate:"gt=0"`
	} `yaml:"webhook"`
	RateLimit struct {
		Enabled bool    `yaml:"enabled" default:"true"`
		RPS     float64 `yaml:"rps" default:"20" validate:"gt=0"`
		Burst   int     `yaml:"burst" default:"40" validate:"gte=1"`
	} `yaml:"ratelimit"`
}

// EngineConfig is handed by value to the engine at construction and never mutated afterwards.
type EngineConfig struct {
	ShortWindow              int              `yaml:"short_window" default:"7" validate:"gte=2"`
	LongWindow               int              `yaml:"long_window" default:"30" validate:"gtfield=ShortWindow"`
	MinHistory               int              `yaml:"min_history" default:"30" validate:"gtefield=LongWindow"`
	StalenessThreshold       time.Duration    `yaml:"staleness_threshold" default:"24h" validate:"gt=0"`
	RetrainAfterObservations int              `yaml:"retrain_after_observations" default:"7" validate:"gte=0"`
	HoldoutFraction          float64          `yaml:"holdout_fraction" default:"0.2" validate:"gt=0,lt=1"`
	BandK                    float64          `yaml:"band_k" default:"1.5" validate:"gt=0"`
	RidgeLambda              float64          `yaml:"ridge_lambda" default:"0.000001" validate:"gte=0"`
	MaxHorizon               int              `yaml:"max_horizon" default:"30" validate:"gte=1,lte=30"`
	TrainTimeout             time.Duration    `yaml:"train_timeout" default:"5s" validate:"gt=0"`
	AnomalyWindow            int              `yaml:"anomaly_window" default:"30" validate:"gte=3"`
	AnomalyMADFloor          float64          `yaml:"anomaly_mad_floor" default:"0.005" validate:"gt=0,lt=1"`
	Workers                  int              `yaml:"workers" default:"4" validate:"gte=1"`
	ForecastHorizon          int              `yaml:"forecast_horizon" default:"7" validate:"gte=1,ltefield=MaxHorizon"`
	Cluster                  ClusterConfig    `yaml:"cluster"`
	Elasticity               ElasticityConfig `yaml:"elasticity"`
	Alerts                   AlertConfig      `yaml:"alerts"`
}

type ClusterConfig struct {
	K        int           `yaml:"k" validate:"gte=0"`
	KMin     int           `yaml:"k_min" default:"2" validate:"gte=2"`
	KMax     int           `yaml:"k_max" default:"8" validate:"gtefield=KMin"`
	Seed     int64         `yaml:"seed" default:"42"`
	Restarts int           `yaml:"restarts" default:"5" validate:"gte=1"`
	MaxIter  int           `yaml:"max_iter" default:"100" validate:"gte=1"`
	Timeout  time.Duration `yaml:"timeout" default:"5s" validate:"gt=0"`
}

type ElasticityConfig struct {
	WindowDays int `yaml:"window_days" default:"30" validate:"gte=2"`
	MinPairs   int `yaml:"min_pairs" default:"5" validate:"gte=3"`
}

type AlertConfig struct {
	ForecastDeviationPct     float64       `yaml:"forecast_deviation_pct" default:"10" validate:"gt=0"`
	AnomalyMinSeverity       string        `yaml:"anomaly_min_severity" default:"medium" validate:"oneof=low medium high"`
	ElasticityShiftThreshold float64       `yaml:"elasticity_shift_threshold" default:"0.2" validate:"gt=0"`
	PriceChangePct           float64       `yaml:"price_change_pct" default:"20" validate:"gt=0"`
	SuppressionWindow        time.Duration `yaml:"suppression_window" default:"24h" validate:"gt=0"`
	Retention                time.Duration `yaml:"retention" default:"168h" validate:"gtfield=SuppressionWindow"`
}

var validate = validator.New()

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	defaults.MustSet(&c)
	return &c
}

// DefaultEngine returns the default engine configuration.
func DefaultEngine() EngineConfig {
	return Default().Engine
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with AGROPULSE_* environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Engine.Cluster.K == 1 {
		return fmt.Errorf("engine.cluster.k must be 0 (auto) or >= 2")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Kafka.Enabled && c.Kafka.ObservationsTopic == "" {
		return fmt.Errorf("kafka.observations_topic is required when kafka is enabled")
	}
	return nil
}

// ValidateEngine checks an engine configuration on its own.
func ValidateEngine(e EngineConfig) error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	if e.Cluster.K == 1 {
		return fmt.Errorf("engine config: cluster.k must be 0 (auto) or >= 2")
	}
	return nil
}
