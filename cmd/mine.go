package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"touchminer/logger"
	"touchminer/service"
)

var mineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Mine the configured repository and write the touch reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		if err := cfg.RequireTokens(); err != nil {
			return err
		}

		ser, err := service.NewService(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := ser.Close(); err != nil {
				logger.Error("Error during service shutdown", zap.Error(err))
			}
		}()

		return ser.Start()
	},
}

func init() {
	mineCmd.Flags().String("output", "data", "directory for the CSV reports (empty disables them)")
	mineCmd.Flags().Int("workers", 4, "concurrent commit detail requests")
	mineCmd.Flags().Bool("strict", false, "abort the run when a commit detail cannot be fetched")
	mineCmd.Flags().String("cache", "", "bbolt file caching commit details")
}
