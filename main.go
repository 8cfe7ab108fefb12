package main

import (
	"os"

	"PChat/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		logger.Error("command failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pchat",
		Short:        "PChat realtime messaging gateway and delivery queue",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("PCHAT_CONFIG"),
		"YAML config file (env PCHAT_CONFIG); PCHAT_* env vars override it")
	root.AddCommand(buildServeCmd(), buildDLQCmd(), buildTokenCmd())
	return root
}
