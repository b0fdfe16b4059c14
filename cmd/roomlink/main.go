package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "roomlink",
	Short:         "Videoroom client for a REST + long-poll media gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("mode", "release", "gin mode for the status API (debug|release)")
	flags.String("log-level", "info", "log level (trace|debug|info|warn|error)")
	flags.String("gateway-url", "http://127.0.0.1:8088/janus", "gateway REST base URL")
	flags.Duration("request-timeout", 0, "timeout for ordinary gateway requests")
	flags.Duration("long-poll-timeout", 0, "timeout for the long-poll request")

	rootCmd.AddCommand(newJoinCmd(), newInfoCmd())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("roomlink failed")
		os.Exit(1)
	}
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		log.Warn().Str("level", level).Msg("unknown log level, keeping info")
		return
	}
	zerolog.SetGlobalLevel(lvl)
}
