package pipeline

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	"golang.org/x/sync/errgroup"

	"github.com/repograph/repograph/internal/discover"
	"github.com/repograph/repograph/internal/fqn"
	"github.com/repograph/repograph/internal/lang"
	"github.com/repograph/repograph/internal/parser"
	"github.com/repograph/repograph/internal/registry"
	"github.com/repograph/repograph/internal/store"
)

// parseResult holds the output of a pure file parse (no DB access, no
// shared state).
type parseResult struct {
	File         discover.FileInfo
	Tree         *tree_sitter.Tree
	Source       []byte
	Nodes        []*store.Node
	PendingEdges []pendingEdge
	ImportMap    map[string]string
	Err          error
}

// passDefinitions parses every source file and collects its definitions.
// Parsing runs in parallel (pure, no shared state); registration into the
// registry, simple-name index and tree cache is sequential, so the barrier
// before call resolution sees a complete, consistent view.
func (p *Pipeline) passDefinitions(files []discover.FileInfo) {
	slog.Info("pass.definitions")

	parseable := make([]discover.FileInfo, 0, len(files))
	for _, f := range files {
		if f.Language != "" {
			parseable = append(parseable, f)
			continue
		}
		if isManifest(f.Name) {
			if err := p.processDependencies(f); err != nil {
				slog.Warn("pass.deps.err", "path", f.RelPath, "err", err)
			}
			continue
		}
		p.processGenericFile(f)
	}

	if len(parseable) == 0 {
		return
	}

	// Stage 1: parallel parse.
	results := make([]*parseResult, len(parseable))
	numWorkers := runtime.NumCPU()
	if numWorkers > len(parseable) {
		numWorkers = len(parseable)
	}

	g, gctx := errgroup.WithContext(p.ctx)
	g.SetLimit(numWorkers)
	for i, f := range parseable {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = parseFileAST(p.ProjectName, f)
			return nil
		})
	}
	_ = g.Wait()

	// Stage 2: sequential registration and batch writes.
	var allNodes []*store.Node
	var allEdges []pendingEdge

	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Err != nil {
			slog.Warn("pass.definitions.skip", "path", r.File.RelPath, "err", r.Err)
			continue
		}
		p.cache.put(r.File.Path, &cachedTree{Tree: r.Tree, Source: r.Source, Language: r.File.Language})

		moduleQN := fqn.ModuleQN(p.ProjectName, r.File.RelPath)
		if len(r.ImportMap) > 0 {
			p.importMaps[moduleQN] = r.ImportMap
		}

		for _, n := range r.Nodes {
			if kind, ok := kindForLabel(n.Label); ok {
				p.registry.Insert(n.QualifiedName, kind)
				p.names.Add(n.Name, n.QualifiedName)
			}
		}

		allNodes = append(allNodes, r.Nodes...)
		allEdges = append(allEdges, r.PendingEdges...)
		allEdges = append(allEdges, p.importEdges(moduleQN, r.ImportMap)...)
	}

	if err := p.writeBatch(allNodes, allEdges); err != nil {
		slog.Warn("pass.definitions.write.err", "err", err)
	}
}

// kindForLabel maps a stored node label to a registry kind. Only
// definition labels are registered; structural labels are not.
func kindForLabel(label string) (registry.Kind, bool) {
	switch label {
	case "Function":
		return registry.KindFunction, true
	case "Method":
		return registry.KindMethod, true
	case "Class":
		return registry.KindClass, true
	case "Interface":
		return registry.KindInterface, true
	}
	return "", false
}

// importEdges turns a module's import map into IMPORTS edges for targets
// inside the project namespace. External imports stay in the in-memory map
// only; there is no node for them to point at.
func (p *Pipeline) importEdges(moduleQN string, importMap map[string]string) []pendingEdge {
	var edges []pendingEdge
	for alias, target := range importMap {
		if !fqn.Owns(p.ProjectName, target) {
			continue
		}
		edges = append(edges, pendingEdge{
			SourceQN:   moduleQN,
			TargetQN:   target,
			Type:       "IMPORTS",
			Properties: map[string]any{"alias": alias},
		})
	}
	return edges
}

// processGenericFile handles files with no parser and no manifest role.
// Their File node already exists from the structure pass.
func (p *Pipeline) processGenericFile(f discover.FileInfo) {
	slog.Debug("pass.definitions.generic", "path", f.RelPath)
}

// parseFileAST reads and parses one file, extracting its module, function,
// class and method nodes plus its import map. Pure: no DB access, safe to
// run concurrently.
func parseFileAST(projectName string, f discover.FileInfo) *parseResult {
	result := &parseResult{File: f}

	source, err := os.ReadFile(f.Path)
	if err != nil {
		result.Err = err
		return result
	}
	source = stripBOM(source)

	tree, err := parser.Parse(f.Language, source)
	if err != nil {
		result.Err = err
		return result
	}
	result.Tree = tree
	result.Source = source

	spec := lang.ForLanguage(f.Language)
	if spec == nil {
		return result
	}

	moduleQN := fqn.ModuleQN(projectName, f.RelPath)
	result.Nodes = append(result.Nodes, &store.Node{
		Project:       projectName,
		Label:         "Module",
		Name:          filepath.Base(f.RelPath),
		QualifiedName: moduleQN,
		FilePath:      f.RelPath,
	})

	root := tree.RootNode()
	funcTypes := toSet(spec.FunctionNodeTypes)
	classTypes := toSet(spec.ClassNodeTypes)

	parser.Walk(root, func(node *tree_sitter.Node) bool {
		kind := node.Kind()
		if funcTypes[kind] {
			extractFunctionDef(node, source, f, projectName, moduleQN, funcTypes, classTypes, result)
			// keep walking: nested function definitions are definitions too
			return true
		}
		if classTypes[kind] {
			extractClassDef(node, source, f, projectName, moduleQN, spec, result)
			return false
		}
		return true
	})

	result.ImportMap = parseImports(root, source, f.Language, projectName, f.RelPath)
	return result
}

// funcNameNode locates the identifier naming a function definition,
// including arrow functions assigned to a const.
func funcNameNode(node *tree_sitter.Node) *tree_sitter.Node {
	if n := node.ChildByFieldName("name"); n != nil {
		return n
	}
	if node.Kind() == "arrow_function" {
		if p := node.Parent(); p != nil && p.Kind() == "variable_declarator" {
			return p.ChildByFieldName("name")
		}
	}
	return nil
}

// extractFunctionDef records a function (or Go method) node and its DEFINES
// edge. The qualified name includes enclosing named function scopes, so
// nested definitions register under their outer function.
func extractFunctionDef(
	node *tree_sitter.Node, source []byte, f discover.FileInfo,
	projectName, moduleQN string, funcTypes, classTypes map[string]bool, result *parseResult,
) {
	nameNode := funcNameNode(node)
	if nameNode == nil {
		return
	}
	name := parser.NodeText(nameNode, source)
	if name == "" {
		return
	}

	scopeQN := enclosingQN(node, source, moduleQN, funcTypes, classTypes)
	qn := scopeQN + "." + name
	label := "Function"
	props := map[string]any{}

	if paramsNode := node.ChildByFieldName("parameters"); paramsNode != nil {
		props["signature"] = parser.NodeText(paramsNode, source)
	}
	if recvNode := node.ChildByFieldName("receiver"); recvNode != nil {
		props["receiver"] = parser.NodeText(recvNode, source)
		label = "Method"
	}

	result.Nodes = append(result.Nodes, &store.Node{
		Project:       projectName,
		Label:         label,
		Name:          name,
		QualifiedName: qn,
		FilePath:      f.RelPath,
		StartLine:     safeRowToLine(node.StartPosition().Row),
		EndLine:       safeRowToLine(node.EndPosition().Row),
		Properties:    props,
	})

	edgeType := "DEFINES"
	if label == "Method" {
		edgeType = "DEFINES_METHOD"
	}
	result.PendingEdges = append(result.PendingEdges, pendingEdge{
		SourceQN: scopeQN,
		TargetQN: qn,
		Type:     edgeType,
	})
}

// extractClassDef records a class (or Go type) node, its base classes and
// the methods nested inside it.
func extractClassDef(
	node *tree_sitter.Node, source []byte, f discover.FileInfo,
	projectName, moduleQN string, spec *lang.LanguageSpec, result *parseResult,
) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := parser.NodeText(nameNode, source)
	if name == "" {
		return
	}

	classQN := fqn.Compute(projectName, f.RelPath, name)
	label := "Class"
	if node.Kind() == "type_spec" {
		typeNode := node.ChildByFieldName("type")
		if typeNode == nil {
			return
		}
		switch typeNode.Kind() {
		case "interface_type":
			label = "Interface"
		case "struct_type":
			label = "Class"
		default:
			return
		}
	}
	if node.Kind() == "interface_declaration" || node.Kind() == "trait_item" {
		label = "Interface"
	}

	props := map[string]any{}
	if bases := extractBaseClasses(node, source, f.Language); len(bases) > 0 {
		props["base_classes"] = bases
	}

	result.Nodes = append(result.Nodes, &store.Node{
		Project:       projectName,
		Label:         label,
		Name:          name,
		QualifiedName: classQN,
		FilePath:      f.RelPath,
		StartLine:     safeRowToLine(node.StartPosition().Row),
		EndLine:       safeRowToLine(node.EndPosition().Row),
		Properties:    props,
	})
	result.PendingEdges = append(result.PendingEdges, pendingEdge{
		SourceQN: moduleQN,
		TargetQN: classQN,
		Type:     "DEFINES",
	})

	extractClassMethodDefs(node, source, f, projectName, classQN, spec, result)
}

// extractClassMethodDefs walks a class body and records Method nodes.
func extractClassMethodDefs(
	classNode *tree_sitter.Node, source []byte, f discover.FileInfo,
	projectName, classQN string, spec *lang.LanguageSpec, result *parseResult,
) {
	funcTypes := toSet(spec.FunctionNodeTypes)
	parser.Walk(classNode, func(child *tree_sitter.Node) bool {
		if child.Id() == classNode.Id() {
			return true
		}
		if !funcTypes[child.Kind()] {
			return true
		}

		nameNode := funcNameNode(child)
		if nameNode == nil {
			return false
		}
		methodName := parser.NodeText(nameNode, source)
		if methodName == "" {
			return false
		}

		props := map[string]any{}
		if paramsNode := child.ChildByFieldName("parameters"); paramsNode != nil {
			props["signature"] = parser.NodeText(paramsNode, source)
		}

		methodQN := classQN + "." + methodName
		result.Nodes = append(result.Nodes, &store.Node{
			Project:       projectName,
			Label:         "Method",
			Name:          methodName,
			QualifiedName: methodQN,
			FilePath:      f.RelPath,
			StartLine:     safeRowToLine(child.StartPosition().Row),
			EndLine:       safeRowToLine(child.EndPosition().Row),
			Properties:    props,
		})
		result.PendingEdges = append(result.PendingEdges, pendingEdge{
			SourceQN: classQN,
			TargetQN: methodQN,
			Type:     "DEFINES_METHOD",
		})
		return false
	})
}

// extractBaseClasses returns the declared superclass/interface names of a
// class node.
func extractBaseClasses(node *tree_sitter.Node, source []byte, language lang.Language) []string {
	var bases []string
	switch language {
	case lang.Python:
		// class C(Base1, Base2):
		if supers := node.ChildByFieldName("superclasses"); supers != nil {
			for i := uint(0); i < supers.NamedChildCount(); i++ {
				c := supers.NamedChild(i)
				if c == nil {
					continue
				}
				switch c.Kind() {
				case "identifier", "attribute":
					bases = append(bases, parser.NodeText(c, source))
				}
			}
		}
	case lang.Java:
		if sc := node.ChildByFieldName("superclass"); sc != nil {
			text := strings.TrimSpace(strings.TrimPrefix(parser.NodeText(sc, source), "extends"))
			if text != "" {
				bases = append(bases, text)
			}
		}
		if ifaces := node.ChildByFieldName("interfaces"); ifaces != nil {
			for i := uint(0); i < ifaces.NamedChildCount(); i++ {
				if c := ifaces.NamedChild(i); c != nil && c.Kind() == "type_list" {
					for j := uint(0); j < c.NamedChildCount(); j++ {
						if t := c.NamedChild(j); t != nil {
							bases = append(bases, parser.NodeText(t, source))
						}
					}
				}
			}
		}
	case lang.JavaScript, lang.TypeScript, lang.TSX:
		// class C extends Base { }
		for i := uint(0); i < node.NamedChildCount(); i++ {
			c := node.NamedChild(i)
			if c == nil || c.Kind() != "class_heritage" {
				continue
			}
			text := strings.TrimSpace(strings.TrimPrefix(parser.NodeText(c, source), "extends"))
			if text != "" {
				bases = append(bases, text)
			}
		}
	}
	return bases
}

// safeRowToLine converts a 0-based tree-sitter row to a 1-based line.
func safeRowToLine(row uint) int {
	line := int(row) + 1
	if line < 1 {
		return 1
	}
	return line
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	return bytes.TrimPrefix(b, []byte{0xEF, 0xBB, 0xBF})
}
