package main

import (
	"fmt"

	"github.com/edulab/mirrorbox/internal/version"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.DetailedWithApp())
		},
	})
}
