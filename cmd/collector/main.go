package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/edulab/mirrorbox/internal/collector"
	"github.com/edulab/mirrorbox/internal/db"
	"github.com/edulab/mirrorbox/internal/version"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func main() {
	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr string
	var dbPath string
	var templateDir string

	rootCmd := &cobra.Command{
		Use:     "collector",
		Short:   "Reference collector for MirrorBox sessions",
		Version: version.Detailed(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			slog.Info("collector", "version", version.Short())

			sqliteDb, err := db.NewSqliteDb(db.WithPath(dbPath))
			if err != nil {
				return err
			}

			store, err := collector.NewStore(sqliteDb)
			if err != nil {
				sqliteDb.Close()
				return err
			}
			defer store.Close()

			server := collector.NewServer(addr, templateDir, store)

			defer slog.Info("Bye!")
			if err := server.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringVarP(&addr, "addr", "a", "localhost:8800", "Address to bind the collector")
	rootCmd.Flags().StringVarP(&dbPath, "db", "d", "events.db", "Path to the sqlite event log (:memory: for ephemeral)")
	rootCmd.Flags().StringVarP(&templateDir, "template", "t", "template", "Directory served as the workspace manifest")

	return rootCmd
}
