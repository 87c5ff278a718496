package main

import (
	"fmt"
	"os"

	"github.com/aretw0/toolbus"
	"github.com/aretw0/toolbus/internal/config"
	"github.com/aretw0/toolbus/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "toolbus",
	Short: "Toolbus is a host for external tool servers",
	Long: `Toolbus supervises tool server processes, talks to them over a
newline-delimited JSON-RPC stdio protocol, and runs declarative
workflows whose steps call their tools through a caching gateway.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultPath, "Path to the configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
}

// newHost builds a Host from the persistent flags. Every command that
// talks to servers goes through here.
func newHost(cmd *cobra.Command) (*toolbus.Host, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	var opts []toolbus.Option
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		opts = append(opts, toolbus.WithLogger(logging.New(logging.ParseLevel(level))))
	}
	return toolbus.New(cfg, opts...), nil
}
