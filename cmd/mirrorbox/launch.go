package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/edulab/mirrorbox/internal/client"
	"github.com/edulab/mirrorbox/internal/client/session"
	"github.com/edulab/mirrorbox/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(newLaunchCmd())
}

func newLaunchCmd() *cobra.Command {
	var launchURI string

	launchCmd := &cobra.Command{
		Use:   "launch",
		Short: "Materialize a workspace from the collector and start mirroring it",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			v.SetEnvPrefix("MIRRORBOX")
			v.AutomaticEnv()
			v.BindPFlag("server", cmd.Flags().Lookup("server"))
			v.BindPFlag("sessions_root", cmd.Flags().Lookup("sessions-root"))
			v.BindPFlag("bridge_addr", cmd.Flags().Lookup("bridge-addr"))
			cmd.Flags().Set("server", v.GetString("server"))
			if sr := v.GetString("sessions_root"); sr != "" {
				cmd.Flags().Set("sessions-root", sr)
			}
			if ba := v.GetString("bridge_addr"); ba != "" {
				cmd.Flags().Set("bridge-addr", ba)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			server, _ := cmd.Flags().GetString("server")
			identity, _ := cmd.Flags().GetStringToString("id")
			sessionsRoot, _ := cmd.Flags().GetString("sessions-root")
			bridgeAddr, _ := cmd.Flags().GetString("bridge-addr")
			hint, _ := cmd.Flags().GetString("hint")
			openFolders, _ := cmd.Flags().GetStringSlice("open")

			cfg := &client.Config{
				CollectorURL:         server,
				Identity:             identity,
				SessionsRoot:         sessionsRoot,
				Hint:                 hint,
				BridgeAddr:           bridgeAddr,
				OpenWorkspaceFolders: openFolders,
			}

			if launchURI != "" {
				parsed, err := client.ParseLaunchURI(launchURI)
				if err != nil {
					return fmt.Errorf("parse launch uri: %w", err)
				}
				cfg.CollectorURL = parsed.CollectorURL
				cfg.Identity = parsed.Identity
			}

			slog.Info("mirrorbox", "version", version.Short())

			c, err := client.Launch(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			fmt.Println(cyan("session root: " + c.Root()))

			if err := c.Start(cmd.Context()); err != nil {
				if errors.Is(err, session.ErrSessionLocked) {
					fmt.Println(red("another mirrorbox is already mirroring this session"))
				}
				return err
			}
			return nil
		},
	}

	launchCmd.Flags().SortFlags = false
	launchCmd.Flags().StringP("server", "s", "", "Collector base URL")
	launchCmd.Flags().StringToString("id", nil, "Identity fields (key=value, repeatable)")
	launchCmd.Flags().String("sessions-root", session.DefaultSessionsRoot(), "Directory session roots live under")
	launchCmd.Flags().String("hint", "", "Human-readable hint for the session root name")
	launchCmd.Flags().String("bridge-addr", "localhost:7938", "Editor bridge bind address")
	launchCmd.Flags().StringSlice("open", nil, "Workspace folders currently open in the editor (never cleaned up)")
	launchCmd.Flags().StringVarP(&launchURI, "uri", "u", "", "Deep-link launch URI (overrides --server and --id)")

	return launchCmd
}
