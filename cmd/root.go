// Package cmd provides the command-line interface for excerpt.
//
// Configuration is read with the following precedence:
//  1. Command-line flags (--config, --log-level, --port, etc.)
//  2. EXCERPT_CONFIG_FILE environment variable naming a config file
//  3. Individual environment variables (EXCERPT_SERVER_PORT, EXCERPT_STORE_DRIVER, etc.)
//  4. The .excerpt.yml configuration file
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/excerpt/internal/config"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "excerpt",
	Short: "Reusable template Sources rendered into parameterized Includes",
	Long: `excerpt keeps reusable template Sources and renders them into Includes.
A Source carries {{variable}} placeholders and {{toggle:name}}...{{/toggle:name}}
regions. Each Include stores its own variable values, toggle states and custom
paragraphs, and caches its render until the Source changes and the change is
accepted.

Quick Start:
  excerpt import ./sources        Load Source files into the store
  excerpt render welcome.yml      Render a Source file
  excerpt serve                   Start the HTTP API
  excerpt status                  Show which Includes are stale`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .excerpt.yml, can also use EXCERPT_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig selects the configuration file and enables EXCERPT_
// environment overrides.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("EXCERPT_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".excerpt")
	}

	config.BindEnv(viper.GetViper())

	// A missing file falls back to defaults
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
