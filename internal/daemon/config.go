package daemon

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/plexsphere/pcpd/internal/mapping"
	"github.com/plexsphere/pcpd/internal/server"
)

const (
	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "info"

	// DefaultDataDir is the default data directory.
	DefaultDataDir = "/var/lib/pcpd"

	// DefaultPIDFile is the default PID file path.
	DefaultPIDFile = "/var/run/pcpd.pid"
)

// Config is the top-level configuration for the pcpd daemon. It aggregates
// all subsystem configurations and is populated from a YAML configuration
// file via ParseConfig.
type Config struct {
	// LogLevel is the log level: "debug", "info", "warn", "error".
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// LogFile is an optional log file path. When set, logs are written
	// there with rotation instead of stderr.
	LogFile string `yaml:"log_file"`

	// DataDir is the directory for persistent daemon state.
	// Default: /var/lib/pcpd
	DataDir string `yaml:"data_dir"`

	// OutputPath is the target file for state dumps triggered by SIGUSR1.
	// Empty means stdout.
	OutputPath string `yaml:"output_path"`

	// PIDFile is where the daemon records its process ID. Empty disables
	// the PID file.
	// Default: /var/run/pcpd.pid
	PIDFile string `yaml:"pid_file"`

	// MaxMappingID caps mapping index allocation.
	// Default: math.MaxInt32
	MaxMappingID int `yaml:"max_mapping_id"`

	Server server.Config `yaml:"server"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.PIDFile == "" {
		c.PIDFile = DefaultPIDFile
	}
	if c.MaxMappingID == 0 {
		c.MaxMappingID = mapping.DefaultMaxIndex
	}
	c.Server.ApplyDefaults()
}

// Validate checks that required fields are set and values are acceptable.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("daemon: config: invalid log_level %q", c.LogLevel)
	}
	if c.MaxMappingID < 10 {
		return fmt.Errorf("daemon: config: max_mapping_id %d below minimum 10", c.MaxMappingID)
	}
	return c.Server.Validate()
}

// ParseConfig reads a YAML configuration file and returns a Config. It
// applies defaults and validates the configuration. A missing file yields
// the defaults.
func ParseConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("daemon: config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("daemon: config: parse %s: %w", path, err)
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
