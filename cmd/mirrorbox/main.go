package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/edulab/mirrorbox/internal/version"
	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	cyan = color.New(color.FgHiCyan).SprintFunc()
	red  = color.New(color.FgHiRed, color.Bold).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "mirrorbox",
	Short:   "MirrorBox - mirrors a live workspace to a collector",
	Version: version.Detailed(),
}

func main() {
	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevel(),
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func logLevel() slog.Level {
	if os.Getenv("MIRRORBOX_DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
