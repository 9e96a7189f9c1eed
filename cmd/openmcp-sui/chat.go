package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"OpenMCP-Sui/pkg/logger"
)

func newChatCommand(configPath *string) *cobra.Command {
	var (
		address string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Resolve a single message and print the outcome",
		Example: `  openmcp-sui chat --address 0x... "send 0.5 SUI to mom"
  openmcp-sui chat --json "what's my balance?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			outcome, err := a.resolver.Chat(cmd.Context(), strings.Join(args, " "), address)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(outcome)
			}
			fmt.Fprintln(out, outcome.Message)
			if outcome.ReadyToExecute && outcome.Descriptor != nil {
				fmt.Fprintf(out, "\naction: %s\n", outcome.Descriptor.Action)
				if outcome.Descriptor.Target != "" {
					fmt.Fprintf(out, "target: %s\n", outcome.Descriptor.Target)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&address, "address", "a", "", "Sui address of the user")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full outcome as JSON")
	return cmd
}
