package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) handleListProjects(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.store.ListProjects()
	if err != nil {
		return errResult(err.Error()), nil
	}

	out := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		nodes, _ := s.store.CountNodes(p.Name)
		edges, _ := s.store.CountEdges(p.Name)
		out = append(out, map[string]any{
			"name":       p.Name,
			"root_path":  p.RootPath,
			"indexed_at": p.IndexedAt,
			"nodes":      nodes,
			"edges":      edges,
		})
	}
	return jsonResult(map[string]any{"projects": out}), nil
}
