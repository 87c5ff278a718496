package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
)

// toolsCmd represents the tools command
var toolsCmd = &cobra.Command{
	Use:   "tools [server]",
	Short: "List the tools servers advertise, and the configured workflows",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		host, err := newHost(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		defer host.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		servers := args
		if len(servers) == 0 {
			for name, desc := range host.Config().Servers {
				if desc.Enabled {
					servers = append(servers, name)
				}
			}
			sort.Strings(servers)
		}

		for _, server := range servers {
			tools, err := host.ListTools(ctx, server)
			if err != nil {
				fmt.Printf("%s: error: %v\n", server, err)
				continue
			}
			fmt.Printf("%s:\n", server)
			for _, tool := range tools {
				if tool.Description != "" {
					fmt.Printf("  %s - %s\n", tool.Name, tool.Description)
				} else {
					fmt.Printf("  %s\n", tool.Name)
				}
			}
		}

		workflows := host.Workflows()
		sort.Strings(workflows)
		if len(workflows) > 0 {
			fmt.Println("workflows:")
			for _, name := range workflows {
				fmt.Printf("  %s\n", name)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
