// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/report-engine/internal/mcpserver"
	"github.com/pdiddy/report-engine/internal/server"
)

var (
	serveOpts inspectFlags
	mcpOpts   inspectFlags
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Browse run ledgers and artifacts over HTTP",
	Long: `Serve starts a read-only HTTP API over the run catalog:

  GET /runs                       list runs
  GET /runs/{id}/ledger           workflow ledger as JSON
  GET /runs/{id}/gaps             evidence gap report (Markdown)
  GET /runs/{id}/artifacts        artifact keys of the run
  GET /runs/{id}/artifacts/{key}  one artifact`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, closeFn, err := serveOpts.reader(cmd.Flags())
		if err != nil {
			return err
		}
		defer closeFn()

		addr, _ := cmd.Flags().GetString("addr")
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return server.New(r).ListenAndServe(ctx, addr)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose runs as MCP tools over stdio",
	Long: `MCP serves the Model Context Protocol on stdin/stdout with the tools
list_runs, get_ledger, get_gap_report, list_artifacts and read_artifact.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, closeFn, err := mcpOpts.reader(cmd.Flags())
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return mcpserver.New(r, version).Run(ctx)
	},
}

func init() {
	serveOpts.register(serveCmd.Flags())
	serveCmd.Flags().String("addr", "127.0.0.1:8080", "listen address")
	mcpOpts.register(mcpCmd.Flags())

	rootCmd.AddCommand(serveCmd, mcpCmd)
}
