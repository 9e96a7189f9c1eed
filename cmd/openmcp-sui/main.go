package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	gitCommit = ""
)

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "openmcp-sui",
		Short: "Resolve natural-language requests into Sui transactions",
		Long: `openmcp-sui turns chat messages such as "send 1 SUI to mom" into
transaction descriptors for the Sui network. It can run as an HTTP daemon
or resolve a single message from the terminal.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("OPENMCP_CONFIG"),
		"path to the configuration file (YAML or JSON)")

	root.AddCommand(
		newServeCommand(&configPath),
		newChatCommand(&configPath),
		newVersionCommand(),
	)
	return root
}

// main 是 openmcp-sui 的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
