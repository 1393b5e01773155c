package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("base_dir", defaultBaseDir())

	// Database defaults (empty path = <base_dir>/data/mantyx.db)
	v.SetDefault("database.path", "")

	// Ingest defaults
	v.SetDefault("ingest.max_upload_size_mb", 100)
	v.SetDefault("ingest.backup_retention", 5)

	// Supervisor defaults
	v.SetDefault("supervisor.monitor_interval_seconds", 10)
	v.SetDefault("supervisor.stop_timeout_seconds", 10)
	v.SetDefault("supervisor.restart_delay_seconds", 1)
	v.SetDefault("supervisor.restart_window_seconds", 300)

	// Trigger engine defaults
	v.SetDefault("trigger.workers", 4)
	v.SetDefault("trigger.tick_interval_seconds", 1)
	v.SetDefault("trigger.timezone", systemTimezone())
	v.SetDefault("trigger.drain_timeout_seconds", 30)

	// Dependency-environment defaults
	v.SetDefault("envs.python", "python3")
	v.SetDefault("envs.pip_timeout_seconds", 300)
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/srv/mantyx"
	}
	return filepath.Join(home, ".mantyx")
}

// systemTimezone detects the host timezone for cron evaluation.
// Falls back to UTC when detection fails.
func systemTimezone() string {
	// /etc/timezone holds the IANA name directly on Debian-style systems
	if data, err := os.ReadFile("/etc/timezone"); err == nil {
		if tz := strings.TrimSpace(string(data)); tz != "" {
			return tz
		}
	}

	// Otherwise resolve the /etc/localtime symlink
	if target, err := os.Readlink("/etc/localtime"); err == nil {
		if idx := strings.Index(target, "zoneinfo/"); idx >= 0 {
			return target[idx+len("zoneinfo/"):]
		}
	}

	return "UTC"
}
