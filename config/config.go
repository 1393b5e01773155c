// Package config holds the mantyx orchestrator configuration.
package config

import "path/filepath"

// Config represents the core mantyx configuration
type Config struct {
	BaseDir    string           `mapstructure:"base_dir"` // root for apps, envs, logs, backups, data
	Database   DatabaseConfig   `mapstructure:"database"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Trigger    TriggerConfig    `mapstructure:"trigger"`
	Envs       EnvsConfig       `mapstructure:"envs"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"` // empty = <base_dir>/data/mantyx.db
}

// IngestConfig configures source ingestion
type IngestConfig struct {
	MaxUploadSizeMB int `mapstructure:"max_upload_size_mb"` // reject larger archives
	BackupRetention int `mapstructure:"backup_retention"`   // backups kept per workload
}

// SupervisorConfig configures the process supervisor
type SupervisorConfig struct {
	MonitorIntervalSeconds int `mapstructure:"monitor_interval_seconds"` // liveness sweep period
	StopTimeoutSeconds     int `mapstructure:"stop_timeout_seconds"`     // graceful stop before SIGKILL
	RestartDelaySeconds    int `mapstructure:"restart_delay_seconds"`    // pause before a crash-triggered restart
	RestartWindowSeconds   int `mapstructure:"restart_window_seconds"`   // default restart-counting window
}

// TriggerConfig configures the trigger engine
type TriggerConfig struct {
	Workers             int    `mapstructure:"workers"`               // bounded dispatch pool size
	TickIntervalSeconds int    `mapstructure:"tick_interval_seconds"` // how often due triggers are checked
	Timezone            string `mapstructure:"timezone"`              // engine-wide cron evaluation timezone
	DrainTimeoutSeconds int    `mapstructure:"drain_timeout_seconds"` // shutdown budget for in-flight jobs
}

// EnvsConfig configures the dependency-environment provider
type EnvsConfig struct {
	Python            string `mapstructure:"python"`              // interpreter used to create environments
	PipTimeoutSeconds int    `mapstructure:"pip_timeout_seconds"` // dependency installation timeout
}

// AppsDir is the directory containing workload installations.
func (c *Config) AppsDir() string { return filepath.Join(c.BaseDir, "apps") }

// EnvsDir is the directory containing isolated runtime environments.
func (c *Config) EnvsDir() string { return filepath.Join(c.BaseDir, "envs") }

// LogsDir is the directory containing per-execution workload logs.
func (c *Config) LogsDir() string { return filepath.Join(c.BaseDir, "logs") }

// BackupsDir is the directory containing pre-update source snapshots.
func (c *Config) BackupsDir() string { return filepath.Join(c.BaseDir, "backups") }

// DataDir is the directory containing the database and persistent data.
func (c *Config) DataDir() string { return filepath.Join(c.BaseDir, "data") }

// TempDir is the directory for staged extractions during upload/update.
func (c *Config) TempDir() string { return filepath.Join(c.BaseDir, "temp") }

// DatabasePath resolves the SQLite file location.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.DataDir(), "mantyx.db")
}

// MaxUploadSizeBytes converts the upload limit to bytes.
func (c *Config) MaxUploadSizeBytes() int64 {
	return int64(c.Ingest.MaxUploadSizeMB) * 1024 * 1024
}
