package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpAdapter "github.com/aretw0/toolbus/internal/adapters/http"
	"github.com/aretw0/toolbus/internal/logging"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the host with its HTTP status surface",
	Long: `Starts every enabled server eagerly and keeps them supervised,
exposing /status, /tools/{server}, /metrics and /healthz over HTTP
until interrupted.`,
	Run: func(cmd *cobra.Command, args []string) {
		host, err := newHost(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		defer host.Close()

		addr, _ := cmd.Flags().GetString("addr")
		if !cmd.Flags().Changed("addr") && host.Config().HTTP.Addr != "" {
			addr = host.Config().HTTP.Addr
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := host.Initialize(ctx, nil); err != nil {
			fmt.Printf("Error starting servers: %v\n", err)
			os.Exit(1)
		}

		level, _ := cmd.Flags().GetString("log-level")
		if level == "" {
			level = host.Config().LogLevel
		}
		logger := logging.New(logging.ParseLevel(level))

		handler := httpAdapter.NewHandler(host, host.Registry(), logger)
		if err := httpAdapter.Serve(ctx, addr, handler, logger); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Toolbus stopped gracefully")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8085", "Address for the HTTP status surface")
}
