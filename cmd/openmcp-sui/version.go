package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			if gitCommit != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "openmcp-sui %s (%s)\n", version, gitCommit)
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "openmcp-sui %s\n", version)
		},
	}
}
