package main

import (
	"fmt"

	"github.com/aretw0/toolbus"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of toolbus",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("toolbus version %s\n", toolbus.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
