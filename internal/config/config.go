// Package config holds kaubo's application configuration. Values come from
// viper: defaults registered by SetDefaults, the YAML file at ConfigFile,
// and KAUBO_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BuildTypePlaceholder is replaced by LibraryConfig.BuildType in library
// directories.
const BuildTypePlaceholder = "{build_type}"

// Config is the complete application configuration.
type Config struct {
	Library LibraryConfig `mapstructure:"library"`
	Task    TaskConfig    `mapstructure:"task"`
	Logging LoggingConfig `mapstructure:"logging"`
	Watch   WatchConfig   `mapstructure:"watch"`
}

// LibraryConfig controls where workers look for the native library.
type LibraryConfig struct {
	// BaseName is the library name without prefix or extension (default: "kaubo_common")
	BaseName string `mapstructure:"base_name"`
	// BuildType selects the build output directory, "Release" or "Debug" (default: "Release")
	BuildType string `mapstructure:"build_type"`
	// Dirs are searched after the executable's directory. Relative entries
	// are resolved against the executable's directory and may use {build_type}.
	Dirs []string `mapstructure:"dirs"`
}

// SearchDirs returns Dirs with the build type substituted.
func (c *LibraryConfig) SearchDirs() []string {
	out := make([]string, 0, len(c.Dirs))
	for _, d := range c.Dirs {
		out = append(out, strings.ReplaceAll(d, BuildTypePlaceholder, c.BuildType))
	}
	return out
}

// TaskConfig controls how tasks are spawned and managed.
type TaskConfig struct {
	// Kind is the registered task kind workers run (default: "default")
	Kind string `mapstructure:"kind"`
	// JoinTimeout bounds each join; 0 waits indefinitely (default: 0)
	JoinTimeout time.Duration `mapstructure:"join_timeout"`
	// TerminateGrace is how long terminate waits for a killed worker (default: 2s)
	TerminateGrace time.Duration `mapstructure:"terminate_grace"`
}

// LoggingConfig controls worker and CLI logging.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir receives one log file per task; empty logs to stderr (default: "")
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// WatchConfig controls re-running tasks when sources change.
type WatchConfig struct {
	// DebounceMs collapses bursts of file events (default: 100)
	DebounceMs int `mapstructure:"debounce_ms"`
}

// Debounce returns DebounceMs as a time.Duration.
func (c *WatchConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Library: LibraryConfig{
			BaseName:  "kaubo_common",
			BuildType: "Release",
			Dirs:      []string{"../engine/build/" + BuildTypePlaceholder},
		},
		Task: TaskConfig{
			Kind:           "default",
			JoinTimeout:    0,
			TerminateGrace: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Watch: WatchConfig{
			DebounceMs: 100,
		},
	}
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("library.base_name", defaults.Library.BaseName)
	viper.SetDefault("library.build_type", defaults.Library.BuildType)
	viper.SetDefault("library.dirs", defaults.Library.Dirs)

	viper.SetDefault("task.kind", defaults.Task.Kind)
	viper.SetDefault("task.join_timeout", defaults.Task.JoinTimeout)
	viper.SetDefault("task.terminate_grace", defaults.Task.TerminateGrace)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	viper.SetDefault("watch.debounce_ms", defaults.Watch.DebounceMs)
}

// Load reads the configuration from viper and validates it.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v and validates it.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ConfigDir returns the user's kaubo config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kaubo")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kaubo"
	}
	return filepath.Join(home, ".config", "kaubo")
}

// ConfigFile returns the path to the config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
