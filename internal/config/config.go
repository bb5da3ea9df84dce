package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the agent configuration, read from YAML with environment overrides
type Config struct {
	Env          string             `yaml:"env" env:"FIELDSYNC_ENV" env-default:"local"`
	Log          LogConfig          `yaml:"log"`
	Storage      StorageConfig      `yaml:"storage"`
	Device       DeviceConfig       `yaml:"device"`
	Backend      BackendConfig      `yaml:"backend"`
	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Location     LocationConfig     `yaml:"location"`
	Server       ServerConfig       `yaml:"server"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"FIELDSYNC_LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"FIELDSYNC_LOG_FORMAT" env-default:"json" validate:"oneof=json console"`
}

type StorageConfig struct {
	Driver    string        `yaml:"driver" env:"FIELDSYNC_STORAGE_DRIVER" env-default:"sqlite" validate:"oneof=sqlite badger"`
	Path      string        `yaml:"path" env:"FIELDSYNC_STORAGE_PATH" env-default:"data/fieldsync.db" validate:"required"`
	Retention time.Duration `yaml:"retention" env:"FIELDSYNC_STORAGE_RETENTION" env-default:"168h" validate:"gt=0"`
}

type DeviceConfig struct {
	ID   string `yaml:"id" env:"FIELDSYNC_DEVICE_ID"`
	Name string `yaml:"name" env:"FIELDSYNC_DEVICE_NAME"`
}

type BackendConfig struct {
	BaseURL     string        `yaml:"base_url" env:"FIELDSYNC_BACKEND_URL" env-default:"http://localhost:8080" validate:"required,url"`
	APIKey      string        `yaml:"api_key" env:"FIELDSYNC_BACKEND_API_KEY"`
	DeviceToken string        `yaml:"device_token" env:"FIELDSYNC_DEVICE_TOKEN"`
	Timeout     time.Duration `yaml:"timeout" env:"FIELDSYNC_BACKEND_TIMEOUT" env-default:"15s" validate:"gt=0"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold" env:"FIELDSYNC_BREAKER_FAILURES" env-default:"5" validate:"gt=0"`
	OpenTimeout      time.Duration `yaml:"open_timeout" env:"FIELDSYNC_BREAKER_OPEN_TIMEOUT" env-default:"60s" validate:"gt=0"`
}

type SyncConfig struct {
	DeliveryTimeout time.Duration `yaml:"delivery_timeout" env:"FIELDSYNC_DELIVERY_TIMEOUT" env-default:"20s" validate:"gt=0"`
	AutoRetryLimit  int           `yaml:"auto_retry_limit" env:"FIELDSYNC_AUTO_RETRY_LIMIT" env-default:"5" validate:"gt=0"`
	MaxAttempts     int           `yaml:"max_attempts" env:"FIELDSYNC_MAX_ATTEMPTS" env-default:"20" validate:"gtefield=AutoRetryLimit"`
	BackoffBase     time.Duration `yaml:"backoff_base" env:"FIELDSYNC_BACKOFF_BASE" env-default:"2s" validate:"gt=0"`
	BackoffMax      time.Duration `yaml:"backoff_max" env:"FIELDSYNC_BACKOFF_MAX" env-default:"5m" validate:"gtefield=BackoffBase"`
	BackoffJitter   float64       `yaml:"backoff_jitter" env:"FIELDSYNC_BACKOFF_JITTER" env-default:"0.2" validate:"gte=0,lte=1"`
	PruneInterval   time.Duration `yaml:"prune_interval" env:"FIELDSYNC_PRUNE_INTERVAL" env-default:"1h" validate:"gt=0"`
}

type ConnectivityConfig struct {
	Probe         string        `yaml:"probe" env:"FIELDSYNC_CONNECTIVITY_PROBE" env-default:"backend" validate:"oneof=backend interface"`
	PollInterval  time.Duration `yaml:"poll_interval" env:"FIELDSYNC_CONNECTIVITY_POLL" env-default:"10s" validate:"gt=0"`
	Stabilization time.Duration `yaml:"stabilization" env:"FIELDSYNC_CONNECTIVITY_STABILIZATION" env-default:"20s" validate:"gte=0"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" env:"FIELDSYNC_CONNECTIVITY_PROBE_TIMEOUT" env-default:"5s" validate:"gt=0"`
}

type LocationConfig struct {
	Provider       string        `yaml:"provider" env:"FIELDSYNC_LOCATION_PROVIDER" env-default:"gpsd" validate:"oneof=gpsd static none"`
	GPSDAddr       string        `yaml:"gpsd_addr" env:"FIELDSYNC_GPSD_ADDR" env-default:"localhost:2947"`
	Timeout        time.Duration `yaml:"timeout" env:"FIELDSYNC_LOCATION_TIMEOUT" env-default:"5s" validate:"gt=0"`
	Accuracy       string        `yaml:"accuracy" env:"FIELDSYNC_LOCATION_ACCURACY" env-default:"high" validate:"oneof=high coarse"`
	StaticLat      float64       `yaml:"static_latitude" env:"FIELDSYNC_STATIC_LATITUDE" validate:"latitude"`
	StaticLon      float64       `yaml:"static_longitude" env:"FIELDSYNC_STATIC_LONGITUDE" validate:"longitude"`
	StaticAccuracy float64       `yaml:"static_accuracy" env:"FIELDSYNC_STATIC_ACCURACY" env-default:"500" validate:"gte=0"`
}

type ServerConfig struct {
	Enabled bool `yaml:"enabled" env:"FIELDSYNC_SERVER_ENABLED"`
	Port    int  `yaml:"port" env:"FIELDSYNC_SERVER_PORT" env-default:"8765" validate:"gte=1,lte=65535"`
}

// LoadConfig reads the YAML file at path and applies environment overrides.
// An empty path reads the environment only.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
