// Package config loads application configuration and builds the logger.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("database.path", "./data/uptimo.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("metrics.listen", "")

	// Scheduler defaults
	v.SetDefault("scheduler.max_concurrent_checks", 16)
	v.SetDefault("scheduler.default_timeout", "30s")

	// Checker defaults
	v.SetDefault("checker.domain_cache_ttl", "24h")
	v.SetDefault("checker.whois_rate_per_minute", 10)

	// Notification defaults
	v.SetDefault("notify.escalation_sweep_interval", "1m")
	v.SetDefault("notify.send_timeout", "10s")

	// Retention defaults
	v.SetDefault("retention.run_at", "03:30")
	v.SetDefault("retention.batch_size", 1000)
	v.SetDefault("retention.check_results_days", 365)
	v.SetDefault("retention.incidents_days", 730)
	v.SetDefault("retention.notification_logs_days", 90)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("uptimo")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/uptimo")
	}

	// Environment variable support: UPTIMO_DATABASE_PATH=/var/lib/uptimo.db
	v.SetEnvPrefix("UPTIMO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Missing config file is fine; defaults and env apply.
	}

	return v, nil
}
