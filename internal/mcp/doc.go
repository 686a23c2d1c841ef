// Package mcp implements the Model Context Protocol (MCP) server for protocolqa.
//
// The server exposes four tools to MCP clients:
//   - ingest_protocol: Segment, window and index a protocol text file
//   - ask_protocol: Route a question and answer it from the indexed protocol
//   - search_protocol: Retrieve passages without generation
//   - get_status: Report the loaded index and its statistics
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// # Basic Usage
//
// The server is started via the serve command:
//
//	protocolqa serve
//
// # Tool: ingest_protocol
//
//	Request:
//	{
//	  "name": "ingest_protocol",
//	  "arguments": {"path": "/data/protocol.txt", "force_rebuild": false}
//	}
//
//	Response:
//	{
//	  "indexed": true,
//	  "source": "protocol.txt",
//	  "chunks": 142,
//	  "windows": 311,
//	  "tables": 9,
//	  "segmentation_fallback": false,
//	  "duration_ms": 5120
//	}
//
// When the configured bundle directory already holds an index it is loaded
// instead of rebuilt, unless force_rebuild is set.
//
// # Tool: ask_protocol
//
//	Request:
//	{"name": "ask_protocol", "arguments": {"question": "List the exclusion criteria"}}
//
// The response carries the routing decision, the retrieved passages and
// either a grounded answer or the structured extraction under "data". A
// generation failure after retrieval is reported with isError set and the
// partial response attached.
//
// # Tool: search_protocol
//
//	Request:
//	{
//	  "name": "search_protocol",
//	  "arguments": {"query": "HbA1c", "limit": 5, "search_mode": "hybrid", "section": "8"}
//	}
//
// # Error Codes
//
//	-32602  Invalid parameters
//	-32603  Internal error
//	-32001  Protocol file not found or unreadable
//	-32002  Indexing already in progress
//	-32003  No protocol indexed
//	-32004  Empty query or question
package mcp
