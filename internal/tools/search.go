package tools

import (
	"context"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) handleSearchDefinitions(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	project := getStringArg(args, "project")
	if project == "" {
		return errResult("project is required"), nil
	}
	p, errRes := s.pipelineFor(project)
	if errRes != nil {
		return errRes, nil
	}

	prefix := getStringArg(args, "prefix")
	suffix := getStringArg(args, "suffix")

	var qns []string
	if prefix == "" && suffix != "" {
		qns = p.Registry().FindEndingWith(suffix)
	} else {
		qns = p.Registry().FindWithPrefixAndSuffix(prefix, suffix)
	}
	sort.Strings(qns)

	results := make([]map[string]any, 0, len(qns))
	for _, qn := range qns {
		kind, _ := p.Registry().Get(qn)
		results = append(results, map[string]any{
			"qualified_name": qn,
			"kind":           string(kind),
		})
	}

	return jsonResult(map[string]any{
		"project": project,
		"prefix":  prefix,
		"suffix":  suffix,
		"count":   len(results),
		"results": results,
	}), nil
}
