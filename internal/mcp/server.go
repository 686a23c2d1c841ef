package mcp

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/protocolqa/internal/engine"
	"github.com/dshills/protocolqa/internal/indexer"
)

const (
	// ServerName is the MCP server name
	ServerName = "protocolqa"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp     *server.MCPServer
	engine  *engine.Engine
	options indexer.Options
	logger  *slog.Logger
}

// NewServer creates a new MCP server instance. opts supplies the bundle
// directory and windowing used by ingest_protocol.
func NewServer(eng *engine.Engine, opts indexer.Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:     server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		engine:  eng,
		options: opts,
		logger:  logger,
	}
	s.registerTools()
	return s
}

// Serve runs the MCP server on stdio until ctx is cancelled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(os.Stderr, "mcp: ", log.LstdFlags))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(ingestProtocolTool(), s.handleIngestProtocol)
	s.mcp.AddTool(askProtocolTool(), s.handleAskProtocol)
	s.mcp.AddTool(searchProtocolTool(), s.handleSearchProtocol)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
