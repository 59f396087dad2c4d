package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) handleGetCodeSnippet(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	project := getStringArg(args, "project")
	qn := getStringArg(args, "qualified_name")
	if project == "" || qn == "" {
		return errResult("project and qualified_name are required"), nil
	}

	node, err := s.store.FindNodeByQN(project, qn)
	if err != nil {
		return errResult(err.Error()), nil
	}
	if node == nil {
		return errResult(fmt.Sprintf("node not found: %s", qn)), nil
	}
	if node.FilePath == "" || node.StartLine == 0 {
		return errResult(fmt.Sprintf("node has no source location: %s", qn)), nil
	}

	proj, err := s.store.GetProject(project)
	if err != nil || proj == nil {
		return errResult(fmt.Sprintf("project not found: %s", project)), nil
	}

	absPath := filepath.Join(proj.RootPath, filepath.FromSlash(node.FilePath))
	source, err := readLines(absPath, node.StartLine, node.EndLine)
	if err != nil {
		return errResult(fmt.Sprintf("read file: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"qualified_name": node.QualifiedName,
		"name":           node.Name,
		"label":          node.Label,
		"file_path":      node.FilePath,
		"start_line":     node.StartLine,
		"end_line":       node.EndLine,
		"source":         source,
	}), nil
}

// readLines reads an inclusive line range from a file, prefixing each line
// with its number.
func readLines(path string, startLine, endLine int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum > endLine {
			break
		}
		if lineNum >= startLine {
			fmt.Fprintf(&sb, "%d: %s\n", lineNum, scanner.Text())
		}
	}
	return sb.String(), scanner.Err()
}
