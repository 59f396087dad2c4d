// Package tools exposes the index over MCP: indexing, structural name
// queries, call-path tracing and source retrieval.
package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/repograph/repograph/internal/pipeline"
	"github.com/repograph/repograph/internal/store"
)

// Server wraps the MCP server with tool handlers.
type Server struct {
	mcp   *mcp.Server
	store *store.Store

	// indexMu serializes indexing and removal; the pipeline's shared
	// structures are not safe against concurrent runs.
	indexMu sync.Mutex
	// pipelines keeps the live registry per indexed project for
	// structural queries between runs.
	pipelines map[string]*pipeline.Pipeline
}

// NewServer creates an MCP server with all tools registered.
func NewServer(s *store.Store) *Server {
	srv := &Server{
		store:     s,
		pipelines: make(map[string]*pipeline.Pipeline),
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    "repograph",
				Version: "0.1.0",
			},
			nil,
		),
	}
	srv.registerTools()
	return srv
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	s.mcp.AddTool(&mcp.Tool{
		Name:        "index_repository",
		Description: "Index a repository into the code graph. Parses source files, extracts functions/classes/modules, resolves call and override relationships, and stores the graph for querying. Re-runs are incremental via content hashing.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"repo_path": {
					"type": "string",
					"description": "Absolute path to the repository to index."
				}
			},
			"required": ["repo_path"]
		}`),
	}, s.handleIndexRepository)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "search_definitions",
		Description: "Structural search over qualified definition names. With a prefix, returns definitions under that dotted namespace; with a suffix, restricts to names ending in that identifier (e.g. prefix 'proj.pkg.Handler' + suffix 'run' finds Handler.run). Suffix-only searches scan the whole registry.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"project": {
					"type": "string",
					"description": "Project name (as returned by index_repository)."
				},
				"prefix": {
					"type": "string",
					"description": "Dotted qualified-name prefix to search under. Empty searches from the root."
				},
				"suffix": {
					"type": "string",
					"description": "Identifier the qualified name must end with (dot-boundary match)."
				}
			},
			"required": ["project"]
		}`),
	}, s.handleSearchDefinitions)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "trace_call_path",
		Description: "Trace call paths from or to a function using BFS over CALLS edges. Returns hop-by-hop callees or callers up to the requested depth.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"project": {
					"type": "string",
					"description": "Project name."
				},
				"function_name": {
					"type": "string",
					"description": "Simple or qualified name of the function to trace."
				},
				"depth": {
					"type": "integer",
					"description": "Maximum BFS depth (1-5, default 3)."
				},
				"direction": {
					"type": "string",
					"description": "'outbound' (what it calls) or 'inbound' (what calls it).",
					"enum": ["outbound", "inbound"]
				}
			},
			"required": ["project", "function_name"]
		}`),
	}, s.handleTraceCallPath)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "get_code_snippet",
		Description: "Retrieve source code for a function/class by qualified name, read from disk using the stored file path and line range.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"project": {
					"type": "string",
					"description": "Project name."
				},
				"qualified_name": {
					"type": "string",
					"description": "Fully qualified name of the definition."
				}
			},
			"required": ["project", "qualified_name"]
		}`),
	}, s.handleGetCodeSnippet)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "list_projects",
		Description: "List indexed projects with node and edge counts.",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}, s.handleListProjects)
}

func jsonResult(data any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errResult("json marshal err=" + err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
	}
}

func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

func parseArgs(req *mcp.CallToolRequest) (map[string]any, error) {
	if len(req.Params.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &m); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return m, nil
}

func getStringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func getIntArg(args map[string]any, key string, defaultVal int) int {
	f, ok := args[key].(float64) // JSON numbers decode as float64
	if !ok {
		return defaultVal
	}
	return int(f)
}
