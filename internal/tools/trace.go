package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/repograph/repograph/internal/store"
)

func (s *Server) handleTraceCallPath(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	project := getStringArg(args, "project")
	functionName := getStringArg(args, "function_name")
	if project == "" || functionName == "" {
		return errResult("project and function_name are required"), nil
	}
	depth := getIntArg(args, "depth", 3)
	if depth < 1 {
		depth = 1
	}
	if depth > 5 {
		depth = 5
	}
	direction := getStringArg(args, "direction")
	if direction == "" {
		direction = "outbound"
	}

	root, err := s.findFunction(project, functionName)
	if err != nil {
		return errResult(err.Error()), nil
	}
	if root == nil {
		return errResult(fmt.Sprintf("function not found: %s", functionName)), nil
	}

	hops, err := s.traceBFS(root, depth, direction)
	if err != nil {
		return errResult(err.Error()), nil
	}

	return jsonResult(map[string]any{
		"root":      root.QualifiedName,
		"direction": direction,
		"depth":     depth,
		"hops":      hops,
	}), nil
}

// findFunction locates a Function or Method node by qualified or simple name.
func (s *Server) findFunction(project, name string) (*store.Node, error) {
	if strings.Contains(name, ".") {
		return s.store.FindNodeByQN(project, name)
	}
	nodes, err := s.store.FindNodesByName(project, name, 10)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.Label == "Function" || n.Label == "Method" {
			return n, nil
		}
	}
	return nil, nil
}

// traceBFS walks CALLS edges breadth-first from root. Each hop lists the
// nodes first reached at that distance.
func (s *Server) traceBFS(root *store.Node, depth int, direction string) ([]map[string]any, error) {
	visited := map[int64]bool{root.ID: true}
	frontier := []*store.Node{root}

	var hops []map[string]any
	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []*store.Node
		var names []string

		for _, n := range frontier {
			var edges []*store.Edge
			var err error
			if direction == "inbound" {
				edges, err = s.store.FindEdgesByTargetAndType(n.ID, "CALLS")
			} else {
				edges, err = s.store.FindEdgesBySourceAndType(n.ID, "CALLS")
			}
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				otherID := e.TargetID
				if direction == "inbound" {
					otherID = e.SourceID
				}
				if visited[otherID] {
					continue
				}
				visited[otherID] = true
				other, err := s.store.FindNodeByID(otherID)
				if err != nil {
					return nil, err
				}
				if other == nil {
					continue
				}
				next = append(next, other)
				names = append(names, other.QualifiedName)
			}
		}

		if len(names) > 0 {
			hops = append(hops, map[string]any{
				"depth": d,
				"nodes": names,
			})
		}
		frontier = next
	}
	return hops, nil
}
