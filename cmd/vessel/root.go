package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/vessel-dashboard/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vessel",
		Short: "Vessel dashboard backend",
		Long: `vessel serves the Nanobot dashboard: PIN login, session handling, live stats over
WebSocket and periodic archival of old chat, usage and event rows.

Configuration is read from the environment (PORT, HTTPS_ENABLED, HTTPS_PORT, DATA_DIR, ...).

Examples:
  vessel serve                       # serve on :8090, or HTTPS on :8443 when HTTPS_ENABLED=yes
  vessel archive                     # run one archival pass and exit (for cron/systemd timers)`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd(), newArchiveCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// newLogger builds the process logger: JSON by default, console output in
// development, level from LOG_LEVEL.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(out).With().Timestamp().Logger()

	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out})
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	log.Logger = logger
	return logger
}

// setup loads the configuration and the logger every command needs.
func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, newLogger(cfg, os.Stdout), nil
}
