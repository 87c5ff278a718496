package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the configured servers and their state",
	Run: func(cmd *cobra.Command, args []string) {
		host, err := newHost(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		defer host.Close()

		status := host.Status()
		names := make([]string, 0, len(status))
		for name := range status {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			s := status[name]
			if s.Running {
				fmt.Printf("%-12s running  pid=%d uptime=%s\n", name, s.PID, s.Uptime.Round(time.Second))
			} else {
				fmt.Printf("%-12s stopped  retries=%d\n", name, s.Retries)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
