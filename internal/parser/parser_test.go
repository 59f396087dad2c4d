package parser

import (
	"testing"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/repograph/repograph/internal/lang"
)

func TestParseAllLanguages(t *testing.T) {
	samples := map[lang.Language]string{
		lang.Python:     "def foo():\n    pass\n",
		lang.Go:         "package main\n\nfunc main() {}\n",
		lang.JavaScript: "function foo() { return 1; }\n",
		lang.TypeScript: "function foo(): number { return 1; }\n",
		lang.TSX:        "const App = () => <div/>;\n",
		lang.Java:       "class A { void m() {} }\n",
		lang.Rust:       "fn main() {}\n",
	}

	for l, src := range samples {
		tree, err := Parse(l, []byte(src))
		if err != nil {
			t.Errorf("Parse(%s): %v", l, err)
			continue
		}
		root := tree.RootNode()
		if root == nil || root.HasError() {
			t.Errorf("Parse(%s): tree has errors", l)
		}
		tree.Close()
	}
}

func TestParseUnsupportedLanguage(t *testing.T) {
	if _, err := Parse(lang.Language("cobol"), []byte("x")); err == nil {
		t.Fatal("expected error for unsupported language")
	}
}

func TestWalkVisitsAllNodes(t *testing.T) {
	src := []byte("def a():\n    pass\n\ndef b():\n    a()\n")
	tree, err := Parse(lang.Python, src)
	if err != nil {
		t.Fatal(err)
	}
	defer tree.Close()

	var funcs int
	Walk(tree.RootNode(), func(n *tree_sitter.Node) bool {
		if n.Kind() == "function_definition" {
			funcs++
		}
		return true
	})
	if funcs != 2 {
		t.Errorf("found %d function_definition nodes, want 2", funcs)
	}
}

func TestWalkSkipsChildren(t *testing.T) {
	src := []byte("def a():\n    def inner():\n        pass\n")
	tree, err := Parse(lang.Python, src)
	if err != nil {
		t.Fatal(err)
	}
	defer tree.Close()

	var funcs int
	Walk(tree.RootNode(), func(n *tree_sitter.Node) bool {
		if n.Kind() == "function_definition" {
			funcs++
			return false // don't descend into the body
		}
		return true
	})
	if funcs != 1 {
		t.Errorf("found %d function_definition nodes, want 1 (inner skipped)", funcs)
	}
}

func TestNodeText(t *testing.T) {
	src := []byte("def greet():\n    pass\n")
	tree, err := Parse(lang.Python, src)
	if err != nil {
		t.Fatal(err)
	}
	defer tree.Close()

	var name string
	Walk(tree.RootNode(), func(n *tree_sitter.Node) bool {
		if n.Kind() == "function_definition" {
			if nn := n.ChildByFieldName("name"); nn != nil {
				name = NodeText(nn, src)
			}
			return false
		}
		return true
	})
	if name != "greet" {
		t.Errorf("function name = %q, want greet", name)
	}
}
