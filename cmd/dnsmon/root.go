package main

import (
	"fmt"
	"os"

	"github.com/rsclarke/dnsmon/internal/config"
	"github.com/rsclarke/dnsmon/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var logger *zap.Logger

var rootFlags struct {
	configPath string
}

var rootCmd = &cobra.Command{
	Use:   "dnsmon",
	Short: "Supervise a local DNS daemon and watch its activity",
	Long: `dnsmon runs an encrypted DNS daemon, tails its log and shows which
applications resolve which names, and which names were blocked.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(logging.FromEnv())
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.configPath, "config", config.DefaultPath(), "path to config file")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
