// Package main provides the CLI entry point for the mcpd MCP runtime.
//
// mcpd hosts Model Context Protocol sessions over stdio or HTTP, exposing
// a registry of tools, prompts and resources behind a prioritized tool
// authorization pipeline.
//
// # Basic Usage
//
// Serve over stdio (for clients that spawn the server as a child):
//
//	mcpd serve --config mcpd.yaml
//
// Serve the HTTP gateway:
//
//	mcpd serve --config mcpd.yaml --http
//
// Inspect a peer server:
//
//	mcpd tools -- npx some-mcp-server --flag
//	mcpd call search --args '{"query":"docs"}' -- npx some-mcp-server
//
// # Environment Variables
//
//   - MCPD_CONFIG: Path to configuration file (default: mcpd.yaml)
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "mcpd",
		Short:         "MCP server/client runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		buildServeCmd(),
		buildToolsCmd(),
		buildCallCmd(),
		buildVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// resolveConfigPath applies the flag > env > default precedence.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("MCPD_CONFIG"); env != "" {
		return env
	}
	return "mcpd.yaml"
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mcpd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
