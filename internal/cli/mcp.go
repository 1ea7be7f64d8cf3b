package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	runmcp "github.com/ppiankov/merklerun/internal/mcp"
	"github.com/ppiankov/merklerun/internal/store"
)

var mcpHistory string

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpHistory, "history", "", "Record runs in this history database (default from config)")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs merklerun as an MCP (Model Context Protocol) server over stdio.\nExposes tools: merklerun_run, merklerun_verify, merklerun_diff, merklerun_chain.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	srvCfg := runmcp.Config{
		Defaults: cfg,
		Logger:   logger,
		Version:  version,
	}

	historyPath := mcpHistory
	if historyPath == "" {
		historyPath = cfg.HistoryDB
	}
	if historyPath != "" {
		h, err := store.OpenHistory(historyPath)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer h.Close()
		srvCfg.History = h
	}

	srv := runmcp.New(srvCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "merklerun MCP server running on stdio")
	return srv.Run(ctx)
}
