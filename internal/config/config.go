// Package config loads the root configuration file and the three
// newline-delimited target lists.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

// Duration wraps time.Duration with YAML support for "5m" style values.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration. Every field has a default; a missing
// config file is not an error.
type Config struct {
	PathsFile    string `yaml:"paths_file"`
	AppsFile     string `yaml:"apps_file"`
	DomainsFile  string `yaml:"domains_file"`
	ScheduleFile string `yaml:"schedule_file"`

	LogFile  string `yaml:"log_file"`
	StateDir string `yaml:"state_dir"`

	PFAnchor     string `yaml:"pf_anchor"`
	PFConf       string `yaml:"pf_conf"`
	PFAnchorFile string `yaml:"pf_anchor_file"`

	ReconcileInterval Duration `yaml:"reconcile_interval"`
	GuardInterval     Duration `yaml:"guard_interval"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	home, _ := os.UserHomeDir()
	confDir := filepath.Join(home, ".config", "workblocker")

	return &Config{
		PathsFile:    filepath.Join(confDir, "work_paths.txt"),
		AppsFile:     filepath.Join(confDir, "work_drop.txt"),
		DomainsFile:  filepath.Join(confDir, "work_domains.txt"),
		ScheduleFile: filepath.Join(confDir, "workblocker_schedule.json"),

		LogFile:  filepath.Join(home, "Library", "Logs", "workblocker", "work_access_control.log"),
		StateDir: filepath.Join(home, ".workblocker"),

		PFAnchor:     "workblocker",
		PFConf:       "/etc/pf.conf",
		PFAnchorFile: "/etc/pf.anchors/workblocker",

		ReconcileInterval: Duration(5 * time.Minute),
		GuardInterval:     Duration(15 * time.Second),
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "workblocker", "workblocker.yaml")
}

// Load reads the config file at path on top of defaults. A missing file
// yields defaults; a malformed file is a ConfigError.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, &domain.ConfigError{Reason: "read config " + path, Err: err}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &domain.ConfigError{Reason: "parse config " + path, Err: err}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ReconcileInterval <= 0 {
		return domain.NewConfigError("reconcile_interval must be positive")
	}
	if c.GuardInterval <= 0 {
		return domain.NewConfigError("guard_interval must be positive")
	}
	if c.PFAnchor == "" {
		return domain.NewConfigError("pf_anchor must not be empty")
	}
	return nil
}
