package mcp

import (
	"context"
	"log/slog"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/merklerun/internal/config"
	"github.com/ppiankov/merklerun/internal/store"
)

// Config holds MCP server configuration.
type Config struct {
	Defaults *config.Config
	History  *store.History
	Logger   *slog.Logger
	Version  string
}

// Server exposes merklerun operations as MCP tools. Instrumented runs are
// serialized: the server performs at most one at a time.
type Server struct {
	mcpServer *mcpsdk.Server
	defaults  *config.Config
	history   *store.History
	logger    *slog.Logger
	mu        sync.Mutex
}

// New creates an MCP server with the merklerun tools registered.
func New(cfg Config) *Server {
	defaults := cfg.Defaults
	if defaults == nil {
		defaults = config.DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		defaults: defaults,
		history:  cfg.History,
		logger:   logger,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "merklerun",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all merklerun tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "merklerun_run",
		Description: "Run a target under instrumentation and write its hash-chained manifest. Returns the root hash and event counts.",
	}, s.handleRun)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "merklerun_verify",
		Description: "Re-run a target with the arguments recorded in a reference manifest and report every divergence from it.",
	}, s.handleVerify)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "merklerun_diff",
		Description: "Compare two manifests without re-running anything: roots, lengths and differing event kinds.",
	}, s.handleDiff)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "merklerun_chain",
		Description: "Check the hash chain and root hash of a manifest for tampering.",
	}, s.handleChain)
}
