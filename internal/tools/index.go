package tools

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/repograph/repograph/internal/pipeline"
)

func (s *Server) handleIndexRepository(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	repoPath := getStringArg(args, "repo_path")
	if repoPath == "" {
		return errResult("repo_path is required"), nil
	}
	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return errResult(fmt.Sprintf("invalid path: %v", err)), nil
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	p := pipeline.New(ctx, s.store, absPath)
	if err := p.Run(); err != nil {
		return errResult(fmt.Sprintf("indexing failed: %v", err)), nil
	}
	s.pipelines[p.ProjectName] = p

	nodeCount, _ := s.store.CountNodes(p.ProjectName)
	edgeCount, _ := s.store.CountEdges(p.ProjectName)
	edgeTypes, _ := s.store.CountEdgesByType(p.ProjectName)

	return jsonResult(map[string]any{
		"project":     p.ProjectName,
		"nodes":       nodeCount,
		"edges":       edgeCount,
		"edge_types":  edgeTypes,
		"definitions": p.Registry().Len(),
	}), nil
}

// pipelineFor returns the live pipeline for a project, or an error result
// when the project has not been indexed in this process.
func (s *Server) pipelineFor(project string) (*pipeline.Pipeline, *mcp.CallToolResult) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	p, ok := s.pipelines[project]
	if !ok {
		return nil, errResult(fmt.Sprintf("project not indexed in this session: %s (run index_repository first)", project))
	}
	return p, nil
}
