package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/protocolqa/internal/engine"
	"github.com/dshills/protocolqa/internal/indexer"
	"github.com/dshills/protocolqa/internal/searcher"
	"github.com/dshills/protocolqa/internal/storage"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeSourceNotFound     = -32001 // Specified path is not a readable protocol file
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeNotIndexed         = -32003 // No protocol indexed
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 100
)

// handleIngestProtocol handles the ingest_protocol tool invocation
func (s *Server) handleIngestProtocol(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	if err := validatePath(path); err != nil {
		code := ErrorCodeInvalidParams
		if errors.Is(err, ErrPathNotFound) || errors.Is(err, ErrPathNotReadable) {
			code = ErrorCodeSourceNotFound
		}
		return nil, newMCPError(code, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	opts := s.options
	if getBoolDefault(args, "force_rebuild", false) {
		opts.UseExisting = false
	}

	src, err := indexer.SourceFromFile(path)
	if err != nil {
		return nil, newMCPError(ErrorCodeSourceNotFound, "failed to read protocol", map[string]interface{}{
			"error": err.Error(),
		})
	}

	start := time.Now()
	manifest, err := s.engine.Ingest(ctx, src, opts)
	if err != nil {
		if errors.Is(err, indexer.ErrIndexingInProgress) {
			return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", nil)
		}
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.logger.Info("protocol ingested", "source", manifest.SourceName, "windows", manifest.Windows, "duration", time.Since(start))

	response := map[string]interface{}{
		"indexed":               true,
		"document_id":           manifest.DocumentID,
		"source":                manifest.SourceName,
		"chunks":                manifest.Chunks,
		"windows":               manifest.Windows,
		"tables":                manifest.Tables,
		"segmentation_fallback": manifest.Fallback,
		"embedder":              manifest.Embedder,
		"built_at":              manifest.BuiltAt.Format(time.RFC3339),
		"duration_ms":           time.Since(start).Milliseconds(),
	}
	if opts.Dir != "" {
		response["dir"] = opts.Dir
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleAskProtocol handles the ask_protocol tool invocation. A failure
// after retrieval still returns the partial response, flagged as an error.
func (s *Server) handleAskProtocol(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	question := strings.TrimSpace(getStringDefault(args, "question", ""))
	if question == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "question parameter is required and cannot be empty", map[string]interface{}{
			"param":  "question",
			"reason": "missing or empty",
		})
	}

	resp, err := s.engine.Ask(ctx, question)
	if err != nil && resp == nil {
		return nil, engineError(err, "question failed")
	}

	result := mcp.NewToolResultText(formatJSON(resp))
	if err != nil {
		s.logger.Warn("question answered partially", "error", err)
		result = mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"error":    err.Error(),
			"response": resp,
		}))
		result.IsError = true
	}
	return result, nil
}

// handleSearchProtocol handles the search_protocol tool invocation
func (s *Server) handleSearchProtocol(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", defaultSearchLimit)
	if limit < 1 || limit > maxSearchLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	mode, err := searcher.ParseSearchMode(getStringDefault(args, "search_mode", ""))
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search_mode", map[string]interface{}{
			"param":   "search_mode",
			"value":   args["search_mode"],
			"allowed": []string{"hybrid", "vector", "keyword"},
		})
	}

	var filters *storage.SearchFilters
	section := strings.TrimSpace(getStringDefault(args, "section", ""))
	tablesOnly := getBoolDefault(args, "tables_only", false)
	if section != "" || tablesOnly {
		filters = &storage.SearchFilters{PathPrefix: section, TablesOnly: tablesOnly}
	}

	results, duration, err := s.engine.Search(ctx, searcher.SearchRequest{
		Query:    query,
		Limit:    limit,
		Mode:     mode,
		Filters:  filters,
		UseCache: true,
	})
	if err != nil {
		return nil, engineError(err, "search failed")
	}

	response := map[string]interface{}{
		"query":       query,
		"search_mode": string(mode),
		"results":     results,
		"count":       len(results),
		"duration_ms": duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.engine.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if !status.Indexed {
		response := map[string]interface{}{
			"indexed": false,
			"message": "No protocol indexed. Use ingest_protocol tool to index one.",
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}
	return mcp.NewToolResultText(formatJSON(status)), nil
}

// Helper functions

// engineError maps engine failures onto MCP error codes
func engineError(err error, message string) error {
	switch {
	case errors.Is(err, engine.ErrNoIndex):
		return newMCPError(ErrorCodeNotIndexed, "no protocol indexed", map[string]interface{}{
			"hint": "call ingest_protocol first",
		})
	case errors.Is(err, searcher.ErrEmptyQuery):
		return newMCPError(ErrorCodeEmptyQuery, err.Error(), nil)
	default:
		return newMCPError(ErrorCodeInternalError, message, map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that path is an absolute, readable regular file
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if info.IsDir() {
		return ErrIsDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrIsDirectory     = errors.New("path is a directory, expected a protocol text file")
)
