package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/toolbus/pkg/domain"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <workflow>",
	Short: "Run a workflow to completion and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		host, err := newHost(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		defer host.Close()

		task := domain.Task{Type: args[0], Input: map[string]any{}}

		if inputJSON, _ := cmd.Flags().GetString("input"); inputJSON != "" {
			if err := json.Unmarshal([]byte(inputJSON), &task.Input); err != nil {
				fmt.Printf("Error: invalid --input: %v\n", err)
				os.Exit(1)
			}
		}
		if mode, _ := cmd.Flags().GetString("synthesis"); mode != "" {
			task.Synthesis = &domain.Synthesis{Mode: mode}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := host.Run(ctx, task)
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
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("input", "i", "", "Task input as a JSON object")
	runCmd.Flags().String("synthesis", "", "Synthesis mode: default, select or merge")
}
