package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"touchminer/config"
	"touchminer/logger"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "touchminer",
	Short: "Count how often source files are touched across a repository's commit history",
	Long: `touchminer walks the commit history of a GitHub repository, expands every
commit into its changed files and records one touch per source file with the
commit's author and date.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultConfigFile, "path to a .env configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("repo", "", "repository as owner/name")

	rootCmd.AddCommand(mineCmd)
	rootCmd.AddCommand(topCmd)
}

// loadConfig reads the configuration for cmd and initializes the logger
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	if err := cfg.Load(cfgFile, cmd.Flags()); err != nil {
		return nil, err
	}
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}
