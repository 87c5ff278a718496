package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// callCmd represents the call command
var callCmd = &cobra.Command{
	Use:   "call <server> <tool>",
	Short: "Invoke a single tool through the gateway",
	Long: `Invokes one tool on one server, starting the server if necessary.
The result is printed as JSON. Cached responses are served without
touching the process.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		host, err := newHost(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		defer host.Close()

		toolArgs := map[string]any{}
		if argsJSON, _ := cmd.Flags().GetString("args"); argsJSON != "" {
			if err := json.Unmarshal([]byte(argsJSON), &toolArgs); err != nil {
				fmt.Printf("Error: invalid --args: %v\n", err)
				os.Exit(1)
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := host.CallTool(ctx, args[0], args[1], toolArgs)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Printf("Error encoding result: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
	},
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().StringP("args", "a", "", "Tool arguments as a JSON object")
}
