package main

import (
	"context"
	"time"

	mcpserver "github.com/felixgeelhaar/codeterm/internal/mcp"
	"github.com/spf13/cobra"
)

func newMCPCmd() *cobra.Command {
	var (
		addr    string
		noDelay bool
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server (for editor and agent integration)",
		Long: `Serve the terminal tools over the Model Context Protocol.

Speaks MCP on stdio by default; pass --http to listen on an address
instead. Sessions live in this process and end with it.

Tools:
  terminal_template, terminal_execute, terminal_start, terminal_run,
  terminal_debug, terminal_status, terminal_stop`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := newLocalService(noDelay)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = svc.Shutdown(shutdownCtx)
			}()

			srv := mcpserver.NewServer(mcpserver.Config{
				SessionService: svc,
				Version:        Version,
			})
			if addr != "" {
				return srv.ServeHTTP(cmd.Context(), addr)
			}
			return srv.ServeStdio(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "http", "", "Serve over HTTP on this address instead of stdio")
	cmd.Flags().BoolVar(&noDelay, "no-delay", false, "Skip the simulated compile latency")
	return cmd
}
