package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", nil) are replaced with defaults; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyContainerDefaults(&cfg.Container)
	applyImageDefaults(&cfg.Image)
	applyPortDefaults(cfg)
	applyStorageDefaults(&cfg.Storage)
	applyDatabaseDefaults(&cfg.Database)
	applyApplicationDefaults(&cfg.Application)
	applyReadinessDefaults(&cfg.Readiness)

	if cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:8088"
	}
}

// GetDefaultConfig returns a complete configuration with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyContainerDefaults(cfg *ContainerConfig) {
	if cfg.Name == "" {
		cfg.Name = "lighthouse"
	}
	if cfg.Hostname == "" {
		cfg.Hostname = cfg.Name
	}
	if cfg.RestartPolicy == "" {
		cfg.RestartPolicy = "unless-stopped"
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 30 * time.Second
	}
}

func applyImageDefaults(cfg *ImageConfig) {
	if cfg.Name == "" {
		cfg.Name = "ghcr.io/lighthouse/appliance:latest"
	}
	if cfg.BuildRepo != "" && cfg.BuildRef == "" {
		cfg.BuildRef = "main"
	}
}

func applyPortDefaults(cfg *Config) {
	if cfg.Ports.Web == 0 {
		cfg.Ports.Web = 2053
	}
	if cfg.Ports.ProtocolA == 0 {
		cfg.Ports.ProtocolA = 443
	}
	if cfg.Ports.ProtocolB == 0 {
		cfg.Ports.ProtocolB = 443
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.DataRoot == "" {
		cfg.DataRoot = "/opt/lighthouse/data"
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = "/opt/lighthouse/backups"
	}
	if cfg.Retention == 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.LockFile == "" {
		cfg.LockFile = "/opt/lighthouse/lighthouse.lock"
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.Schema == "" {
		cfg.Schema = "panel"
	}
	if len(cfg.KeyTables) == 0 {
		cfg.KeyTables = []string{"users"}
	}
	if cfg.ServiceAccount == "" {
		cfg.ServiceAccount = "mysql"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "/var/lib/mysql"
	}
	if cfg.RunDir == "" {
		cfg.RunDir = "/var/run/mysqld"
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "/var/log/mysql"
	}
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	if len(cfg.ProcessNames) == 0 {
		cfg.ProcessNames = []string{"mysqld", "mariadbd"}
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mysql"
	}
	if len(cfg.PingCommand) == 0 {
		cfg.PingCommand = []string{"mysqladmin", "ping", "-h", "localhost", "--silent"}
	}
	if len(cfg.ClientCommand) == 0 {
		cfg.ClientCommand = []string{"mysql", "-N", "-B", "-h", "localhost"}
	}
	if len(cfg.BinaryPaths) == 0 {
		cfg.BinaryPaths = []string{
			"/usr/sbin/mysqld",
			"/usr/bin/mysqld",
			"/usr/local/mysql/bin/mysqld",
			"/usr/sbin/mariadbd",
			"/usr/bin/mariadbd",
		}
	}
	if len(cfg.SupervisorPaths) == 0 {
		cfg.SupervisorPaths = []string{
			"/usr/bin/mysqld_safe",
			"/usr/local/mysql/bin/mysqld_safe",
			"/usr/bin/mariadbd-safe",
		}
	}
}

func applyApplicationDefaults(cfg *ApplicationConfig) {
	if len(cfg.Command) == 0 {
		cfg.Command = []string{"panel"}
	}
	if cfg.ProxyProcess == "" {
		cfg.ProxyProcess = "xray"
	}
	if cfg.VerifyWait == 0 {
		cfg.VerifyWait = 5 * time.Second
	}
	if len(cfg.Shell) == 0 {
		cfg.Shell = []string{"/bin/bash", "/bin/sh"}
	}
}

func applyReadinessDefaults(cfg *ReadinessConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MaxTicks == 0 {
		cfg.MaxTicks = 90
	}
	if cfg.ManualStartAt == nil {
		cfg.ManualStartAt = IntPtr(15)
	}
	if cfg.DiagnosticsAt == nil {
		cfg.DiagnosticsAt = IntPtr(30)
	}
	if cfg.AttemptWait == 0 {
		cfg.AttemptWait = 5 * time.Second
	}
	if len(cfg.StartStrategies) == 0 {
		cfg.StartStrategies = []string{"service-manager", "direct-binary", "supervisor"}
	}
}

// IntPtr returns a pointer to an int value.
func IntPtr(v int) *int { return &v }
