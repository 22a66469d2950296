package cli

import (
	"fmt"
	"os"

	"github.com/sdko-org/analytics-dashboard/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfg    *config.Config
	logger *logrus.Logger

	logLevelFlag  string
	logFormatFlag string
)

var rootCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Analytics dashboard backed by a cached query layer",
	Long: `dashboard serves website analytics tables (events, pages, referrers and
traffic) from a remote API. Responses are cached per endpoint and parameters,
concurrent requests share one fetch, and stale fetches are discarded.

Configuration is read from the environment (API_BASE_URL, REFETCH_POLICY, ...).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if logLevelFlag != "" {
			cfg.LogLevel = logLevelFlag
		}
		if logFormatFlag != "" {
			cfg.LogFormat = logFormatFlag
		}
		logger, err = newLogger(cfg.LogLevel, cfg.LogFormat)
		return err
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Log format, text or json (overrides LOG_FORMAT)")
}
