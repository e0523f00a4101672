package cmd

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/kaubo/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify kaubo configuration",
	Long: `View or modify kaubo configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  kaubo config set library.build_type Debug
  kaubo config set task.join_timeout 30s
  kaubo config set logging.dir ~/.cache/kaubo/logs

Valid keys:
  library.base_name      - Native library name without prefix or extension
  library.build_type     - Substituted for {build_type} in library.dirs
                           Options: Debug, Release, RelWithDebInfo, MinSizeRel
  task.kind              - Task kind workers run
  task.join_timeout      - Join deadline, e.g. 30s (0 waits indefinitely)
  task.terminate_grace   - How long terminate waits for a killed worker
  logging.level          - debug, info, warn, error
  logging.dir            - Directory for per-task log files
  logging.max_size_mb    - Log size before rotation
  logging.max_backups    - Rotated log files to keep
  watch.debounce_ms      - Delay before re-running a changed program`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/kaubo/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintln(out)

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	printConfig(out, cfg)
	return nil
}

func printConfig(out io.Writer, cfg *config.Config) {
	fmt.Fprintln(out, "library:")
	fmt.Fprintf(out, "  base_name: %s\n", cfg.Library.BaseName)
	fmt.Fprintf(out, "  build_type: %s\n", cfg.Library.BuildType)
	fmt.Fprintln(out, "  dirs:")
	for _, d := range cfg.Library.SearchDirs() {
		fmt.Fprintf(out, "    - %s\n", d)
	}

	fmt.Fprintln(out, "task:")
	fmt.Fprintf(out, "  kind: %s\n", cfg.Task.Kind)
	fmt.Fprintf(out, "  join_timeout: %s\n", cfg.Task.JoinTimeout)
	fmt.Fprintf(out, "  terminate_grace: %s\n", cfg.Task.TerminateGrace)

	fmt.Fprintln(out, "logging:")
	fmt.Fprintf(out, "  level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  dir: %s\n", cfg.Logging.Dir)
	fmt.Fprintf(out, "  max_size_mb: %d\n", cfg.Logging.MaxSizeMB)
	fmt.Fprintf(out, "  max_backups: %d\n", cfg.Logging.MaxBackups)

	fmt.Fprintln(out, "watch:")
	fmt.Fprintf(out, "  debounce_ms: %d\n", cfg.Watch.DebounceMs)
}

// settableKeys maps each key accepted by 'config set' to its value type.
var settableKeys = map[string]string{
	"library.base_name":    "string",
	"library.build_type":   "build_type",
	"task.kind":            "string",
	"task.join_timeout":    "duration",
	"task.terminate_grace": "duration",
	"logging.level":        "level",
	"logging.dir":          "string",
	"logging.max_size_mb":  "int",
	"logging.max_backups":  "int",
	"watch.debounce_ms":    "int",
}

// parseConfigValue converts value to the type key expects.
func parseConfigValue(key, value string) (any, error) {
	keyType, ok := settableKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'kaubo config set --help' to see valid keys", key)
	}

	switch keyType {
	case "build_type":
		if !slices.Contains(config.ValidBuildTypes(), value) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidBuildTypes(), ", "))
		}
		return value, nil
	case "level":
		if !slices.Contains(config.ValidLogLevels(), strings.ToLower(value)) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidLogLevels(), ", "))
		}
		return strings.ToLower(value), nil
	case "duration":
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected a duration like 30s", key)
		}
		if d < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return d.String(), nil
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return intVal, nil
	default:
		return value, nil
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	typedValue, err := parseConfigValue(key, args[1])
	if err != nil {
		return err
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	viper.Set(key, typedValue)

	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

// defaultConfigContent is written by 'config init'.
const defaultConfigContent = `# kaubo configuration

# Where workers find the native engine library
library:
  # Library name without the platform prefix and extension
  base_name: kaubo_common
  # Substituted for {build_type} in dirs: Debug, Release, RelWithDebInfo, MinSizeRel
  build_type: Release
  # Searched after the executable's directory; relative entries are
  # resolved against the executable's directory
  dirs:
    - ../engine/build/{build_type}

task:
  # Task kind run by workers
  kind: default
  # How long to wait for a task before terminating it (0 waits indefinitely)
  join_timeout: 0s
  # How long terminate waits for a killed worker to be reaped
  terminate_grace: 2s

logging:
  # debug, info, warn, error
  level: info
  # Per-task log files are written here; empty logs to stderr
  dir: ""
  max_size_mb: 10
  max_backups: 3

watch:
  # Delay before re-running a changed program with 'kaubo run --watch'
  debounce_ms: 100
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'kaubo config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", config.ConfigFile())
	fmt.Fprintf(out, "  2. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: KAUBO_* (e.g., KAUBO_LIBRARY_BUILD_TYPE)")
	return nil
}
