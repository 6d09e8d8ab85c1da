package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the runtime configuration for the telemetry server.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	DatabaseURL string `yaml:"database_url"`
	Version     string `yaml:"version"`

	OfflineThreshold time.Duration `yaml:"offline_threshold"`
	CleanupThreshold time.Duration `yaml:"cleanup_threshold"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`

	FlushInterval time.Duration `yaml:"flush_interval"`
	QueueCapacity int           `yaml:"queue_capacity"`
	DrainBatchCap int           `yaml:"drain_batch_cap"`
	BatchMaxItems int           `yaml:"batch_max_items"`

	MonitorInterval  time.Duration `yaml:"monitor_interval"`
	DispatcherBuffer int           `yaml:"dispatcher_buffer"`

	AlarmWebhookURL         string        `yaml:"alarm_webhook_url"`
	AlarmNotifyTemplate     string        `yaml:"alarm_notify_template"`
	AlarmNotifyMinLevel     int           `yaml:"alarm_notify_min_level"`
	AlarmNotifyCooldown     time.Duration `yaml:"alarm_notify_cooldown"`
	AlarmNotifyDedupeWindow time.Duration `yaml:"alarm_notify_dedupe_window"`
	AlarmNotifyTimeout      time.Duration `yaml:"alarm_notify_timeout"`
}

// Load builds the configuration from the environment, with an optional yaml
// overlay selected by BATTMON_CONFIG. A .env file is honored when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:         getenvDefault("HTTP_ADDR", ":8080"),
		DatabaseURL:      getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		Version:          getenvDefault("BATTMON_VERSION", "1.0.0"),
		OfflineThreshold: getenvDuration("OFFLINE_THRESHOLD", 5*time.Minute),
		CleanupThreshold: getenvDuration("CLEANUP_THRESHOLD", 10*time.Minute),
		SweepInterval:    getenvDuration("SWEEP_INTERVAL", time.Minute),
		FlushInterval:    getenvDuration("FLUSH_INTERVAL", 5*time.Second),
		QueueCapacity:    getenvIntDefault("QUEUE_CAPACITY", 10000),
		DrainBatchCap:    getenvIntDefault("DRAIN_BATCH_CAP", 1000),
		BatchMaxItems:    getenvIntDefault("BATCH_MAX_ITEMS", 1000),
		MonitorInterval:  getenvDuration("MONITOR_INTERVAL", 5*time.Second),
		DispatcherBuffer: getenvIntDefault("DISPATCHER_BUFFER", 1024),

		AlarmWebhookURL:         getenvDefault("ALARM_WEBHOOK_URL", ""),
		AlarmNotifyTemplate:     getenvDefault("ALARM_NOTIFY_TEMPLATE", ""),
		AlarmNotifyMinLevel:     getenvIntDefault("ALARM_NOTIFY_MIN_LEVEL", 1),
		AlarmNotifyCooldown:     getenvDuration("ALARM_NOTIFY_COOLDOWN", 0),
		AlarmNotifyDedupeWindow: getenvDuration("ALARM_NOTIFY_DEDUP_WINDOW", 0),
		AlarmNotifyTimeout:      getenvDuration("ALARM_NOTIFY_TIMEOUT", 5*time.Second),
	}

	if path := os.Getenv("BATTMON_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
