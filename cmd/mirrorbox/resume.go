package main

import (
	"fmt"
	"log/slog"

	"github.com/edulab/mirrorbox/internal/client"
	"github.com/edulab/mirrorbox/internal/client/session"
	"github.com/edulab/mirrorbox/internal/version"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newResumeCmd())
}

func newResumeCmd() *cobra.Command {
	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume mirroring an existing session by its persisted marker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			root, _ := cmd.Flags().GetString("root")
			sessionsRoot, _ := cmd.Flags().GetString("sessions-root")
			bridgeAddr, _ := cmd.Flags().GetString("bridge-addr")

			slog.Info("mirrorbox", "version", version.Short())

			var c *client.Client
			var err error
			if root != "" {
				c, err = client.ResumeRoot(root, bridgeAddr)
			} else {
				c, err = client.Resume(&client.Config{
					SessionsRoot: sessionsRoot,
					BridgeAddr:   bridgeAddr,
				})
			}
			if err != nil {
				return err
			}

			fmt.Println(cyan("resuming session: " + c.Root()))
			return c.Start(cmd.Context())
		},
	}

	resumeCmd.Flags().SortFlags = false
	resumeCmd.Flags().String("root", "", "Specific session root to resume (default: newest marked session)")
	resumeCmd.Flags().String("sessions-root", session.DefaultSessionsRoot(), "Directory session roots live under")
	resumeCmd.Flags().String("bridge-addr", "localhost:7938", "Editor bridge bind address")

	return resumeCmd
}
