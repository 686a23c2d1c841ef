package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// ingestProtocolTool returns the tool definition for ingest_protocol
func ingestProtocolTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ingest_protocol",
		Description: "Segment, window and index a clinical trial protocol text file",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the protocol as UTF-8 text",
				},
				"force_rebuild": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, rebuild even when a persisted index exists",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// askProtocolTool returns the tool definition for ask_protocol
func askProtocolTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ask_protocol",
		Description: "Ask a question about the indexed protocol; answers are grounded in retrieved sections or returned as structured extraction",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"question": map[string]interface{}{
					"type":        "string",
					"description": "Natural language question",
				},
			},
			Required: []string{"question"},
		},
	}
}

// searchProtocolTool returns the tool definition for search_protocol
func searchProtocolTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_protocol",
		Description: "Retrieve protocol passages by hybrid, vector or keyword search without generation",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     5,
					"minimum":     1,
					"maximum":     100,
				},
				"search_mode": map[string]interface{}{
					"type":        "string",
					"description": "Search strategy: hybrid (vector + keyword), vector (semantic only), or keyword (BM25 only)",
					"enum":        []string{"hybrid", "vector", "keyword"},
					"default":     "hybrid",
				},
				"section": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to a section path and its subsections (e.g. '5.1')",
				},
				"tables_only": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, only return table windows",
					"default":     false,
				},
			},
			Required: []string{"query"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report the loaded protocol index and its statistics",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
