package pipeline

import (
	"bufio"
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/repograph/repograph/internal/discover"
	"github.com/repograph/repograph/internal/store"
)

// manifestFiles are dependency manifests routed to the dependency pass
// instead of the generic file handler.
var manifestFiles = map[string]bool{
	"pyproject.toml": true,
	"package.json":   true,
	"go.mod":         true,
	"Cargo.toml":     true,
	"pom.xml":        true,
}

func isManifest(name string) bool {
	return manifestFiles[name]
}

// processDependencies parses a dependency manifest and records
// ExternalPackage nodes with DEPENDS_ON edges from the project root.
// Failures are per-file and non-fatal to the run.
func (p *Pipeline) processDependencies(f discover.FileInfo) error {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return err
	}

	var deps []string
	switch f.Name {
	case "pyproject.toml":
		deps, err = parsePyprojectDeps(data)
	case "package.json":
		deps, err = parsePackageJSONDeps(data)
	case "go.mod":
		deps, err = parseGoModDeps(data)
	case "Cargo.toml":
		deps, err = parseCargoDeps(data)
	case "pom.xml":
		deps, err = parsePomDeps(data)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", f.RelPath, err)
	}
	if len(deps) == 0 {
		return nil
	}

	nodes := make([]*store.Node, 0, len(deps))
	edges := make([]pendingEdge, 0, len(deps))
	for _, dep := range deps {
		qn := "external." + dep
		nodes = append(nodes, &store.Node{
			Project:       p.ProjectName,
			Label:         "ExternalPackage",
			Name:          dep,
			QualifiedName: qn,
			FilePath:      f.RelPath,
		})
		edges = append(edges, pendingEdge{
			SourceQN:   p.ProjectName,
			TargetQN:   qn,
			Type:       "DEPENDS_ON",
			Properties: map[string]any{"manifest": f.RelPath},
		})
	}

	slog.Info("pass.deps", "manifest", f.RelPath, "packages", len(deps))
	return p.writeBatch(nodes, edges)
}

// pyproject covers both PEP 621 and poetry layouts.
type pyproject struct {
	Project struct {
		Dependencies []string `toml:"dependencies"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Dependencies map[string]any `toml:"dependencies"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

func parsePyprojectDeps(data []byte) ([]string, error) {
	var pt pyproject
	if err := toml.Unmarshal(data, &pt); err != nil {
		return nil, err
	}
	var deps []string
	for _, spec := range pt.Project.Dependencies {
		// "requests>=2.0" -> "requests"
		name := strings.FieldsFunc(spec, func(r rune) bool {
			return r == '>' || r == '<' || r == '=' || r == '!' || r == '~' || r == ' ' || r == '['
		})
		if len(name) > 0 && name[0] != "" {
			deps = append(deps, name[0])
		}
	}
	for name := range pt.Tool.Poetry.Dependencies {
		if name != "python" {
			deps = append(deps, name)
		}
	}
	return deps, nil
}

func parsePackageJSONDeps(data []byte) ([]string, error) {
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}
	var deps []string
	for name := range pkg.Dependencies {
		deps = append(deps, name)
	}
	for name := range pkg.DevDependencies {
		deps = append(deps, name)
	}
	return deps, nil
}

func parseGoModDeps(data []byte) ([]string, error) {
	var deps []string
	inRequire := false
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "require ("):
			inRequire = true
		case inRequire && line == ")":
			inRequire = false
		case inRequire:
			if fields := strings.Fields(line); len(fields) >= 2 {
				deps = append(deps, fields[0])
			}
		case strings.HasPrefix(line, "require "):
			if fields := strings.Fields(line); len(fields) >= 3 {
				deps = append(deps, fields[1])
			}
		}
	}
	return deps, scanner.Err()
}

func parseCargoDeps(data []byte) ([]string, error) {
	var ct struct {
		Dependencies    map[string]any `toml:"dependencies"`
		DevDependencies map[string]any `toml:"dev-dependencies"`
	}
	if err := toml.Unmarshal(data, &ct); err != nil {
		return nil, err
	}
	var deps []string
	for name := range ct.Dependencies {
		deps = append(deps, name)
	}
	for name := range ct.DevDependencies {
		deps = append(deps, name)
	}
	return deps, nil
}

func parsePomDeps(data []byte) ([]string, error) {
	var pom struct {
		Dependencies struct {
			Dependency []struct {
				GroupID    string `xml:"groupId"`
				ArtifactID string `xml:"artifactId"`
			} `xml:"dependency"`
		} `xml:"dependencies"`
	}
	if err := xml.Unmarshal(data, &pom); err != nil {
		return nil, err
	}
	var deps []string
	for _, d := range pom.Dependencies.Dependency {
		if d.ArtifactID != "" {
			deps = append(deps, d.GroupID+":"+d.ArtifactID)
		}
	}
	return deps, nil
}
