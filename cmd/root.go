// Package cmd provides the command-line interface for storewatch.
//
// Configuration System:
//
//	The CLI supports flexible configuration with clear precedence:
//	1. Command-line flags (--port, --origin, etc.) - highest priority
//	2. Individual environment variables (STOREWATCH_SERVER_PORT, etc.)
//	3. Configuration file (.storewatch.yml) - lowest priority
//
// Environment Variables:
//
//	STOREWATCH_SERVER_PORT: Override proxy port
//	STOREWATCH_STYLES_DISABLED: Disable style compilation
//	STOREWATCH_SCRIPTS_DISABLED: Disable script compilation
//	And so on following the STOREWATCH_<SECTION>_<OPTION> pattern.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "storewatch",
	Short: "A live-reload development proxy for storefront applications",
	Long: `Storewatch sits between your browser and a storefront application:
it watches stylesheets, scripts, templates and snippets, recompiles only
what changed, and pushes updates to the browser without a full page
navigation, while a reverse proxy keeps live assets resolving correctly.

Quick Start:
  storewatch serve                 Start the watching proxy
  storewatch config                Print the effective configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .storewatch.yml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig reads the configuration file and wires environment
// variable overrides with the STOREWATCH_ prefix.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(".storewatch")
		viper.SetConfigType("yml")
	}

	viper.SetEnvPrefix("STOREWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; everything has defaults.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "warning: cannot read config file: %v\n", err)
		}
	}
}
