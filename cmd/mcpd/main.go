// Package main implements mcpd, a standalone Model Context Protocol server.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "mcpd",
	Short:   "Model Context Protocol server runtime",
	Long:    `mcpd hosts tools, resources, and prompts behind the Model Context Protocol, speaking either newline-delimited stdio or HTTP+SSE.`,
	Version: version,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default ~/.config/mcpd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
