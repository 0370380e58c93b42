package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "gradascent",
	Short: "Adaptive step-size gradient ascent",
	Long: `gradascent maximizes functions of several variables with gradient ascent
and an adaptive step size, using a forward-difference gradient. Runs can be
traced, checkpointed, resumed and served over HTTP.`,
	// main reports the error once
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.SetDefault(newLogger(logLevel))
	},
}

// newLogger builds the JSON logger. Logs go to stderr; stdout carries the
// iteration dump and results.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: l}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}
