package pipeline

import (
	"log/slog"
	"strings"

	"github.com/repograph/repograph/internal/fqn"
	"github.com/repograph/repograph/internal/registry"
)

// passOverrides establishes OVERRIDES edges between methods of a class and
// same-named methods of its base classes. It runs after the definition and
// call passes so the registry holds every class's complete method set.
func (p *Pipeline) passOverrides() {
	slog.Info("pass.overrides")

	classes, err := p.Store.FindNodesByLabel(p.ProjectName, "Class", -1)
	if err != nil {
		slog.Warn("pass.overrides.err", "err", err)
		return
	}

	r := &resolver{
		project:    p.ProjectName,
		reg:        p.registry,
		names:      p.names,
		importMaps: p.importMaps,
	}

	var edges []pendingEdge
	for _, class := range classes {
		bases, ok := class.Properties["base_classes"].([]any)
		if !ok || len(bases) == 0 {
			continue
		}
		moduleQN := fqn.ModuleQN(p.ProjectName, class.FilePath)

		for _, b := range bases {
			baseName, ok := b.(string)
			if !ok || baseName == "" {
				continue
			}
			baseQN, ok := r.resolve(baseName, moduleQN, class.QualifiedName)
			if !ok {
				continue
			}
			if kind, _ := p.registry.Get(baseQN); kind != registry.KindClass && kind != registry.KindInterface {
				continue
			}
			edges = append(edges, p.overrideEdges(class.QualifiedName, baseQN)...)
		}
	}

	if err := p.writeBatch(nil, edges); err != nil {
		slog.Warn("pass.overrides.write.err", "err", err)
	}
	slog.Info("pass.overrides.done", "edges", len(edges))
}

// overrideEdges pairs each method directly under classQN with the matching
// method under baseQN, if one exists.
func (p *Pipeline) overrideEdges(classQN, baseQN string) []pendingEdge {
	var edges []pendingEdge
	for _, methodQN := range p.registry.FindWithPrefixAndSuffix(classQN, "") {
		if kind, _ := p.registry.Get(methodQN); kind != registry.KindMethod {
			continue
		}
		// direct child only: classQN.<method>
		rest := strings.TrimPrefix(methodQN, classQN+".")
		if rest == methodQN || strings.Contains(rest, ".") {
			continue
		}
		for _, baseMethodQN := range p.registry.FindWithPrefixAndSuffix(baseQN, rest) {
			if kind, _ := p.registry.Get(baseMethodQN); kind != registry.KindMethod {
				continue
			}
			if baseMethodQN != baseQN+"."+rest {
				continue
			}
			edges = append(edges, pendingEdge{
				SourceQN: methodQN,
				TargetQN: baseMethodQN,
				Type:     "OVERRIDES",
			})
		}
	}
	return edges
}
