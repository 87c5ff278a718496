package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/aretw0/toolbus"
	"github.com/aretw0/toolbus/internal/worker"
	"github.com/spf13/cobra"
)

// workerCmd represents the hidden worker command. The supervisor
// re-invokes this binary as "toolbus worker <name>" for embedded
// servers; it is not meant to be run by hand.
var workerCmd = &cobra.Command{
	Use:    "worker <name>",
	Short:  "Run the embedded tool worker on stdin/stdout",
	Hidden: true,
	Args:   cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		// Ensure logs don't corrupt JSON-RPC on Stdout
		log.SetOutput(os.Stderr)
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		root, _ := cmd.Flags().GetString("root")

		srv := worker.New(args[0], toolbus.Version,
			worker.WithRoot(root),
			worker.WithLogger(logger),
		)
		if err := srv.ServeStdio(); err != nil {
			logger.Error("worker execution failed", "err", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().String("root", ".", "Directory the worker's tools operate on")
}
