package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/melih/lighthouse-appliance/internal/core/domain"
)

// DefaultConfigPath is where the orchestrator looks for its configuration file.
const DefaultConfigPath = "/etc/lighthouse/config.yaml"

// Config is the explicit configuration value threaded through every component.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (LIGHTHOUSE_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Container   ContainerConfig   `mapstructure:"container" yaml:"container"`
	Image       ImageConfig       `mapstructure:"image" yaml:"image"`
	Ports       domain.Ports      `mapstructure:"ports" yaml:"ports"`
	Storage     StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Application ApplicationConfig `mapstructure:"application" yaml:"application"`
	Readiness   ReadinessConfig   `mapstructure:"readiness" yaml:"readiness"`
	API         APIConfig         `mapstructure:"api" yaml:"api"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Valid values: DEBUG, INFO, WARN, ERROR (normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR" yaml:"level"`
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	// stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ContainerConfig describes the appliance container.
type ContainerConfig struct {
	Name          string        `mapstructure:"name" validate:"required" yaml:"name"`
	Hostname      string        `mapstructure:"hostname" yaml:"hostname"`
	RestartPolicy string        `mapstructure:"restart_policy" validate:"omitempty,oneof=no always unless-stopped on-failure" yaml:"restart_policy"`
	Privileged    bool          `mapstructure:"privileged" yaml:"privileged"`
	Env           []string      `mapstructure:"env" yaml:"env,omitempty"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
}

// ImageConfig selects where the appliance image comes from. When BuildRepo is set the
// image is built from that git repository instead of being pulled.
type ImageConfig struct {
	Name      string `mapstructure:"name" validate:"required" yaml:"name"`
	BuildRepo string `mapstructure:"build_repo" validate:"omitempty,url" yaml:"build_repo,omitempty"`
	BuildRef  string `mapstructure:"build_ref" yaml:"build_ref,omitempty"`
}

// StorageConfig locates the persisted state on the host.
type StorageConfig struct {
	// DataRoot holds one directory per volume category plus the init marker.
	DataRoot string `mapstructure:"data_root" validate:"required" yaml:"data_root"`
	// BackupDir receives backup archives. Must live outside DataRoot.
	BackupDir string `mapstructure:"backup_dir" validate:"required" yaml:"backup_dir"`
	// Retention is the archive age beyond which backups are pruned.
	Retention time.Duration `mapstructure:"retention" validate:"gt=0" yaml:"retention"`
	// LockFile guards against concurrent mutating runs.
	LockFile string `mapstructure:"lock_file" validate:"required" yaml:"lock_file"`
}

// DatabaseConfig describes the embedded database inside the appliance.
type DatabaseConfig struct {
	Schema         string   `mapstructure:"schema" validate:"required" yaml:"schema"`
	KeyTables      []string `mapstructure:"key_tables" validate:"required,min=1,dive,required" yaml:"key_tables"`
	ServiceAccount string   `mapstructure:"service_account" validate:"required" yaml:"service_account"`
	DataDir        string   `mapstructure:"data_dir" validate:"required" yaml:"data_dir"`
	RunDir         string   `mapstructure:"run_dir" validate:"required" yaml:"run_dir"`
	LogDir         string   `mapstructure:"log_dir" validate:"required" yaml:"log_dir"`
	Port           int      `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`
	ProcessNames   []string `mapstructure:"process_names" validate:"required,min=1" yaml:"process_names"`
	ServiceName    string   `mapstructure:"service_name" validate:"required" yaml:"service_name"`
	// PingCommand is the administrative ping run inside the container.
	PingCommand []string `mapstructure:"ping_command" validate:"required,min=1" yaml:"ping_command"`
	// ClientCommand is prefixed to every schema query (the SQL goes after "-e").
	ClientCommand []string `mapstructure:"client_command" validate:"required,min=1" yaml:"client_command"`
	// BinaryPaths are searched in order for the database daemon.
	BinaryPaths []string `mapstructure:"binary_paths" yaml:"binary_paths"`
	// SupervisorPaths are searched in order for the daemon supervisor wrapper.
	SupervisorPaths []string `mapstructure:"supervisor_paths" yaml:"supervisor_paths"`
}

// ApplicationConfig describes the web panel's remote command surface.
type ApplicationConfig struct {
	// Command is the panel CLI inside the container; "service start|stop|init" is appended.
	Command      []string      `mapstructure:"command" validate:"required,min=1" yaml:"command"`
	ProxyProcess string        `mapstructure:"proxy_process" validate:"required" yaml:"proxy_process"`
	VerifyWait   time.Duration `mapstructure:"verify_wait" yaml:"verify_wait"`
	Shell        []string      `mapstructure:"shell" yaml:"shell"`
}

// ReadinessConfig is the database wait policy.
type ReadinessConfig struct {
	Interval        time.Duration `mapstructure:"interval" validate:"gt=0" yaml:"interval"`
	MaxTicks        int           `mapstructure:"max_ticks" validate:"min=1" yaml:"max_ticks"`
	// ManualStartAt and DiagnosticsAt are escalation ticks; an explicit 0 disables them.
	ManualStartAt   *int          `mapstructure:"manual_start_at" validate:"required,min=0" yaml:"manual_start_at"`
	DiagnosticsAt   *int          `mapstructure:"diagnostics_at" validate:"required,min=0" yaml:"diagnostics_at"`
	AttemptWait     time.Duration `mapstructure:"attempt_wait" yaml:"attempt_wait"`
	StartStrategies []string      `mapstructure:"start_strategies" validate:"dive,oneof=service-manager direct-binary supervisor" yaml:"start_strategies"`
}

// APIConfig configures the read-only status API served by "lighthouse serve".
type APIConfig struct {
	Listen string `mapstructure:"listen" validate:"required,hostname_port" yaml:"listen"`
}

// Load reads configuration from file, environment and defaults. A missing file is not
// an error: the defaults describe a complete appliance.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	ports := map[string]int{"web": cfg.Ports.Web, "protocol_a": cfg.Ports.ProtocolA, "protocol_b": cfg.Ports.ProtocolB}
	for name, p := range ports {
		if p < 1 || p > 65535 {
			return fmt.Errorf("ports.%s: %d is not a valid port", name, p)
		}
	}
	if cfg.Ports.Web == cfg.Ports.ProtocolA {
		return fmt.Errorf("ports.web and ports.protocol_a must differ (both %d/tcp)", cfg.Ports.Web)
	}

	root := filepath.Clean(cfg.Storage.DataRoot)
	backups := filepath.Clean(cfg.Storage.BackupDir)
	if backups == root || strings.HasPrefix(backups, root+string(filepath.Separator)) {
		return fmt.Errorf("storage.backup_dir %q must be outside storage.data_root %q", backups, root)
	}
	return nil
}

// SaveConfig writes the configuration as YAML.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: LIGHTHOUSE_PORTS_WEB=8443
	v.SetEnvPrefix("LIGHTHOUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if configPath == "" {
		configPath = DefaultConfigPath
	}
	v.SetConfigFile(configPath)
}

// bindEnvKeys makes every scalar key visible to AutomaticEnv even when the config
// file does not mention it; viper only consults the environment for known keys.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"container.name", "container.hostname", "container.restart_policy",
		"image.name", "image.build_repo", "image.build_ref",
		"ports.web", "ports.protocol_a", "ports.protocol_b",
		"storage.data_root", "storage.backup_dir", "storage.retention", "storage.lock_file",
		"database.schema",
		"readiness.interval", "readiness.max_ticks",
		"api.listen",
	} {
		_ = v.BindEnv(key)
	}
}
