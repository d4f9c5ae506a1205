package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"f1telemetryhub/pkg/config"
	"f1telemetryhub/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:   "f1telemetryhub",
	Short: "f1telemetryhub - live racing telemetry hub",
	Long: `f1telemetryhub ingests telemetry streamed by driver relays, stores every
session and fans samples out to live viewers, who can start with a replay of
the last seconds before switching to live data.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd, sessionsCmd, lapsCmd, relayCmd)
}

// setup loads the configuration and builds the process logger. Callers must
// close the returned logging manager.
func setup() (*config.Config, *logging.Manager, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	lm := logging.NewManager(logging.Config{
		Level:      cfg.LogLevel,
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   true,
	})
	logger := lm.NewLogger()
	slog.SetDefault(logger)
	return cfg, lm, logger, nil
}
