package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/mcpd/internal/client"
	"github.com/haasonsaas/mcpd/internal/observability"
	"github.com/haasonsaas/mcpd/internal/protocol"
	"github.com/haasonsaas/mcpd/internal/transport"
)

// connectPeer spawns a peer MCP server and completes the handshake.
func connectPeer(ctx context.Context, command []string) (*client.Client, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("peer command is required after --")
	}

	logger := observability.NewLogger(observability.LogConfig{Level: "warn", Format: "text", Output: os.Stderr})
	tr, err := transport.StartCommand(ctx, transport.CommandConfig{
		Command: command[0],
		Args:    command[1:],
	}, logger)
	if err != nil {
		return nil, err
	}

	c := client.New(tr, client.Options{
		Info:   protocol.Implementation{Name: "mcpd", Version: version},
		Logger: logger,
	})
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// buildToolsCmd creates the "tools" command that lists a peer's tools.
func buildToolsCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "tools -- <command> [args...]",
		Short: "List the tools exposed by a peer MCP server",
		Example: `  # List the tools of a stdio server
  mcpd tools -- npx @modelcontextprotocol/server-filesystem /tmp`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			c, err := connectPeer(ctx, args)
			if err != nil {
				return err
			}
			defer c.Close()

			info := c.ServerInfo()
			fmt.Printf("%s %s\n", info.Name, info.Version)
			for _, tool := range c.Tools() {
				fmt.Printf("  %-24s %s\n", tool.Name, tool.Description)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second,
		"Overall timeout for the peer exchange")
	return cmd
}

// buildCallCmd creates the "call" command that invokes one tool on a peer.
func buildCallCmd() *cobra.Command {
	var (
		timeout  time.Duration
		argsJSON string
	)

	cmd := &cobra.Command{
		Use:   "call <tool> -- <command> [args...]",
		Short: "Call a tool on a peer MCP server",
		Example: `  # Call a tool with JSON arguments
  mcpd call search --args '{"query":"docs"}' -- npx some-mcp-server`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			toolName := args[0]
			var toolArgs map[string]any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &toolArgs); err != nil {
					return fmt.Errorf("--args is not valid JSON: %w", err)
				}
			}

			c, err := connectPeer(ctx, args[1:])
			if err != nil {
				return err
			}
			defer c.Close()

			result, err := c.CallTool(ctx, toolName, toolArgs)
			if err != nil {
				return err
			}
			for _, content := range result.Content {
				if content.Type == protocol.ContentTypeText {
					fmt.Println(content.Text)
				}
			}
			if result.IsError {
				return fmt.Errorf("tool reported an error")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second,
		"Overall timeout for the peer exchange")
	cmd.Flags().StringVar(&argsJSON, "args", "",
		"Tool arguments as a JSON object")
	return cmd
}
