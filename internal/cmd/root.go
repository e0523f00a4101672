package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"

	"github.com/Iron-Ham/kaubo/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "kaubo",
	Short: "Run Kaubo programs in isolated worker processes",
	Long: `Kaubo runs programs through the Kaubo engine's shared library, one worker
process per task, so a crash in native code never takes down the runner.

Single programs run with 'kaubo run'; suites of programs, optionally started
together, run with 'kaubo batch'.`,
	SilenceUsage: true,
}

// Execute runs the root command. An interrupt cancels the command's context,
// which terminates running workers.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/kaubo/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("KAUBO")
	// e.g., KAUBO_LIBRARY_BUILD_TYPE for library.build_type
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
