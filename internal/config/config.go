// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all configuration for our application.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	EtcdEndpoints  []string      `mapstructure:"etcd_endpoints" validate:"required,min=1,dive,required"`
	EtcdTimeout    time.Duration `mapstructure:"etcd_timeout" validate:"gt=0"`
	HttpListenAddr string        `mapstructure:"http_listen_addr" validate:"required"`
	// MetricsListenAddr is where a worker process exposes /metrics.
	MetricsListenAddr string `mapstructure:"metrics_listen_addr" validate:"required"`
	// TraceOutput selects where spans are exported: stdout, stderr or none.
	TraceOutput string `mapstructure:"trace_output" validate:"oneof=stdout stderr none"`
	// WorkerLeaseTTL is how long a worker registration survives without keep-alives.
	WorkerLeaseTTL time.Duration `mapstructure:"worker_lease_ttl" validate:"gte=1s"`
	Queues         []string      `mapstructure:"queues" validate:"required,min=1,dive,required"`
	// DefaultResultTTL applies to jobs submitted without an explicit result TTL.
	DefaultResultTTL time.Duration `mapstructure:"default_result_ttl"`
	DefaultJobTTL    time.Duration `mapstructure:"default_job_ttl" validate:"gte=0"`
	// MaintenanceSchedule is a cron spec, descriptors such as "@every 1m" included.
	MaintenanceSchedule    string        `mapstructure:"maintenance_schedule" validate:"required,cronspec"`
	MaintenanceConcurrency int           `mapstructure:"maintenance_concurrency" validate:"gte=1,lte=64"`
	PollInterval           time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		// No config file: defaults and env vars are enough.
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("etcd_endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd_timeout", "5s")
	v.SetDefault("http_listen_addr", ":8080")
	v.SetDefault("metrics_listen_addr", ":9091")
	v.SetDefault("trace_output", "stderr")
	v.SetDefault("worker_lease_ttl", "10s")
	v.SetDefault("queues", []string{"default"})
	v.SetDefault("default_result_ttl", "500s")
	v.SetDefault("default_job_ttl", "0s")
	v.SetDefault("maintenance_schedule", "@every 1m")
	v.SetDefault("maintenance_concurrency", 4)
	v.SetDefault("poll_interval", "1s")
}

func fromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags of cfg.
func Validate(cfg *Config) error {
	validate := validator.New()
	_ = validate.RegisterValidation("cronspec", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
