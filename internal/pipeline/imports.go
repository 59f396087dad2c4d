package pipeline

import (
	"path"
	"path/filepath"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/repograph/repograph/internal/fqn"
	"github.com/repograph/repograph/internal/lang"
	"github.com/repograph/repograph/internal/parser"
)

// parseImports builds a module's import map: local alias -> qualified name
// of the imported module or symbol. Project-internal imports resolve to
// project-prefixed qualified names; external imports keep their dotted
// source path, which never matches a registered definition.
func parseImports(root *tree_sitter.Node, source []byte, language lang.Language, projectName, relPath string) map[string]string {
	imports := make(map[string]string)

	switch language {
	case lang.Python:
		parsePythonImports(root, source, projectName, relPath, imports)
	case lang.JavaScript, lang.TypeScript, lang.TSX:
		parseJSImports(root, source, projectName, relPath, imports)
	case lang.Go:
		parseGoImports(root, source, imports)
	case lang.Java:
		parseJavaImports(root, source, imports)
	case lang.Rust:
		parseRustImports(root, source, projectName, imports)
	}

	if len(imports) == 0 {
		return nil
	}
	return imports
}

func parsePythonImports(root *tree_sitter.Node, source []byte, projectName, relPath string, imports map[string]string) {
	moduleQN := fqn.ModuleQN(projectName, relPath)

	parser.Walk(root, func(node *tree_sitter.Node) bool {
		switch node.Kind() {
		case "import_statement":
			// import a.b / import a.b as c
			for i := uint(0); i < node.NamedChildCount(); i++ {
				c := node.NamedChild(i)
				if c == nil {
					continue
				}
				switch c.Kind() {
				case "dotted_name":
					dotted := parser.NodeText(c, source)
					imports[dotted] = projectName + "." + dotted
					// `import a.b` binds `a` in scope
					if first, _, found := strings.Cut(dotted, "."); found {
						imports[first] = projectName + "." + first
					}
				case "aliased_import":
					nameNode := c.ChildByFieldName("name")
					aliasNode := c.ChildByFieldName("alias")
					if nameNode != nil && aliasNode != nil {
						dotted := parser.NodeText(nameNode, source)
						imports[parser.NodeText(aliasNode, source)] = projectName + "." + dotted
					}
				}
			}
			return false
		case "import_from_statement":
			parsePythonFromImport(node, source, projectName, moduleQN, imports)
			return false
		}
		return true
	})
}

// parsePythonFromImport handles `from X import a, b as c`, including
// relative imports (`from . import x`, `from ..pkg import y`).
func parsePythonFromImport(node *tree_sitter.Node, source []byte, projectName, moduleQN string, imports map[string]string) {
	moduleNameNode := node.ChildByFieldName("module_name")
	if moduleNameNode == nil {
		return
	}

	var base string
	switch moduleNameNode.Kind() {
	case "dotted_name":
		base = projectName + "." + parser.NodeText(moduleNameNode, source)
	case "relative_import":
		text := parser.NodeText(moduleNameNode, source)
		dots := 0
		for dots < len(text) && text[dots] == '.' {
			dots++
		}
		// One dot is the containing package; each further dot climbs one level.
		base = moduleQN
		for i := 0; i < dots; i++ {
			base = fqn.Parent(base)
		}
		if rest := text[dots:]; rest != "" {
			base = base + "." + rest
		}
	default:
		return
	}

	// Remaining named children after module_name are the imported names.
	sawModule := false
	for i := uint(0); i < node.NamedChildCount(); i++ {
		c := node.NamedChild(i)
		if c == nil {
			continue
		}
		if !sawModule {
			if c.Id() == moduleNameNode.Id() {
				sawModule = true
			}
			continue
		}
		switch c.Kind() {
		case "dotted_name", "identifier":
			name := parser.NodeText(c, source)
			imports[name] = base + "." + name
		case "aliased_import":
			nameNode := c.ChildByFieldName("name")
			aliasNode := c.ChildByFieldName("alias")
			if nameNode != nil && aliasNode != nil {
				imports[parser.NodeText(aliasNode, source)] = base + "." + parser.NodeText(nameNode, source)
			}
		case "wildcard_import":
			imports["*"] = base
		}
	}
}

func parseJSImports(root *tree_sitter.Node, source []byte, projectName, relPath string, imports map[string]string) {
	parser.Walk(root, func(node *tree_sitter.Node) bool {
		if node.Kind() != "import_statement" {
			return true
		}
		srcNode := node.ChildByFieldName("source")
		if srcNode == nil {
			return false
		}
		spec := strings.Trim(parser.NodeText(srcNode, source), `'"`)

		var target string
		if strings.HasPrefix(spec, ".") {
			resolved := path.Clean(path.Join(path.Dir(filepath.ToSlash(relPath)), spec))
			// extensionless "./index" specs name the directory
			if path.Base(resolved) == "index" {
				resolved = path.Dir(resolved)
			}
			if resolved == "." {
				target = projectName
			} else {
				target = fqn.ModuleQN(projectName, resolved)
			}
		} else {
			target = strings.ReplaceAll(spec, "/", ".")
		}

		parser.Walk(node, func(c *tree_sitter.Node) bool {
			switch c.Kind() {
			case "import_specifier":
				nameNode := c.ChildByFieldName("name")
				if nameNode == nil {
					return false
				}
				name := parser.NodeText(nameNode, source)
				local := name
				if aliasNode := c.ChildByFieldName("alias"); aliasNode != nil {
					local = parser.NodeText(aliasNode, source)
				}
				imports[local] = target + "." + name
				return false
			case "namespace_import":
				for i := uint(0); i < c.NamedChildCount(); i++ {
					if id := c.NamedChild(i); id != nil && id.Kind() == "identifier" {
						imports[parser.NodeText(id, source)] = target
					}
				}
				return false
			case "identifier":
				// default import: `import foo from './x'`
				if p := c.Parent(); p != nil && p.Kind() == "import_clause" {
					imports[parser.NodeText(c, source)] = target
				}
				return false
			}
			return true
		})
		return false
	})
}

func parseGoImports(root *tree_sitter.Node, source []byte, imports map[string]string) {
	parser.Walk(root, func(node *tree_sitter.Node) bool {
		if node.Kind() != "import_spec" {
			return true
		}
		pathNode := node.ChildByFieldName("path")
		if pathNode == nil {
			return false
		}
		importPath := strings.Trim(parser.NodeText(pathNode, source), `"`)
		alias := path.Base(importPath)
		if nameNode := node.ChildByFieldName("name"); nameNode != nil {
			alias = parser.NodeText(nameNode, source)
		}
		if alias == "_" || alias == "." {
			return false
		}
		imports[alias] = strings.ReplaceAll(importPath, "/", ".")
		return false
	})
}

func parseJavaImports(root *tree_sitter.Node, source []byte, imports map[string]string) {
	parser.Walk(root, func(node *tree_sitter.Node) bool {
		if node.Kind() != "import_declaration" {
			return true
		}
		for i := uint(0); i < node.NamedChildCount(); i++ {
			c := node.NamedChild(i)
			if c != nil && c.Kind() == "scoped_identifier" {
				dotted := parser.NodeText(c, source)
				imports[fqn.SimpleName(dotted)] = dotted
			}
		}
		return false
	})
}

func parseRustImports(root *tree_sitter.Node, source []byte, projectName string, imports map[string]string) {
	parser.Walk(root, func(node *tree_sitter.Node) bool {
		if node.Kind() != "use_declaration" {
			return true
		}
		arg := node.ChildByFieldName("argument")
		if arg == nil || arg.Kind() != "scoped_identifier" {
			return false
		}
		text := parser.NodeText(arg, source)
		dotted := strings.ReplaceAll(text, "::", ".")
		// crate-local paths belong to the project namespace
		dotted = strings.Replace(dotted, "crate.", projectName+".", 1)
		imports[fqn.SimpleName(dotted)] = dotted
		return false
	})
}
