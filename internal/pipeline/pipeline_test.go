package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/repograph/repograph/internal/registry"
	"github.com/repograph/repograph/internal/store"
)

// buildRepo writes a fixture repository into a temp dir.
func buildRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for relPath, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(relPath))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", relPath, err)
		}
	}
	return root
}

func newPipeline(t *testing.T, repoPath string) *Pipeline {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(context.Background(), s, repoPath)
}

// callEdgeExists reports whether a CALLS edge connects two qualified names.
func callEdgeExists(t *testing.T, p *Pipeline, callerQN, targetQN string) bool {
	t.Helper()
	caller, err := p.Store.FindNodeByQN(p.ProjectName, callerQN)
	if err != nil {
		t.Fatalf("FindNodeByQN %s: %v", callerQN, err)
	}
	if caller == nil {
		return false
	}
	edges, err := p.Store.FindEdgesBySourceAndType(caller.ID, "CALLS")
	if err != nil {
		t.Fatalf("FindEdgesBySourceAndType: %v", err)
	}
	for _, e := range edges {
		target, err := p.Store.FindNodeByID(e.TargetID)
		if err != nil {
			t.Fatal(err)
		}
		if target != nil && target.QualifiedName == targetQN {
			return true
		}
	}
	return false
}

func TestEndToEndPythonRepo(t *testing.T) {
	repo := buildRepo(t, map[string]string{
		"pkg/__init__.py": "",
		"pkg/mod.py":      "def foo():\n    pass\n\ndef bar():\n    foo()\n",
	})
	p := newPipeline(t, repo)
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	proj := p.ProjectName

	fooQN := proj + ".pkg.mod.foo"
	barQN := proj + ".pkg.mod.bar"

	if kind, ok := p.Registry().Get(fooQN); !ok || kind != registry.KindFunction {
		t.Fatalf("expected %s registered as function, got %q %v", fooQN, kind, ok)
	}
	if kind, ok := p.Registry().Get(barQN); !ok || kind != registry.KindFunction {
		t.Fatalf("expected %s registered as function, got %q %v", barQN, kind, ok)
	}

	if !callEdgeExists(t, p, barQN, fooQN) {
		t.Fatalf("expected CALLS edge %s -> %s", barQN, fooQN)
	}

	// Removing the file purges every entry under its module prefix.
	if err := p.RemoveFileFromState(filepath.Join(repo, "pkg", "mod.py")); err != nil {
		t.Fatalf("RemoveFileFromState: %v", err)
	}
	if got := p.Registry().FindWithPrefixAndSuffix(proj+".pkg.mod", ""); len(got) != 0 {
		t.Fatalf("expected no live entries under pkg.mod, got %v", got)
	}
	if p.Registry().Contains(fooQN) || p.Registry().Contains(barQN) {
		t.Fatal("removed qualified names still registered")
	}
}

func TestPhaseOrderingResolvesForwardReferences(t *testing.T) {
	// a.py sorts before z.py in traversal order but calls into it; the
	// call resolves because definition collection completes first.
	repo := buildRepo(t, map[string]string{
		"a.py": "from z import zfunc\n\ndef caller():\n    zfunc()\n",
		"z.py": "def zfunc():\n    pass\n",
	})
	p := newPipeline(t, repo)
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	proj := p.ProjectName

	if !callEdgeExists(t, p, proj+".a.caller", proj+".z.zfunc") {
		t.Fatal("expected forward reference to resolve across files")
	}
}

func TestMethodCallsResolveWithinClass(t *testing.T) {
	repo := buildRepo(t, map[string]string{
		"svc.py": "class Service:\n" +
			"    def helper(self):\n        pass\n" +
			"    def run(self):\n        self.helper()\n",
	})
	p := newPipeline(t, repo)
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	proj := p.ProjectName

	runQN := proj + ".svc.Service.run"
	helperQN := proj + ".svc.Service.helper"
	if kind, ok := p.Registry().Get(helperQN); !ok || kind != registry.KindMethod {
		t.Fatalf("expected %s registered as method, got %q %v", helperQN, kind, ok)
	}
	if !callEdgeExists(t, p, runQN, helperQN) {
		t.Fatalf("expected CALLS edge %s -> %s", runQN, helperQN)
	}
}

func TestOverrideResolution(t *testing.T) {
	repo := buildRepo(t, map[string]string{
		"base.py": "class Base:\n    def greet(self):\n        pass\n",
		"child.py": "from base import Base\n\n" +
			"class Child(Base):\n    def greet(self):\n        pass\n",
	})
	p := newPipeline(t, repo)
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	proj := p.ProjectName

	childGreet, err := p.Store.FindNodeByQN(proj, proj+".child.Child.greet")
	if err != nil || childGreet == nil {
		t.Fatalf("expected Child.greet node, err=%v", err)
	}
	edges, err := p.Store.FindEdgesBySourceAndType(childGreet.ID, "OVERRIDES")
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 OVERRIDES edge, got %d", len(edges))
	}
	target, err := p.Store.FindNodeByID(edges[0].TargetID)
	if err != nil {
		t.Fatal(err)
	}
	if target == nil || target.QualifiedName != proj+".base.Base.greet" {
		t.Fatalf("unexpected override target: %+v", target)
	}
}

func TestIncrementalNoopRun(t *testing.T) {
	repo := buildRepo(t, map[string]string{
		"pkg/__init__.py": "",
		"pkg/mod.py":      "def foo():\n    pass\n",
	})
	p := newPipeline(t, repo)
	if err := p.Run(); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	before, err := p.Store.CountNodes(p.ProjectName)
	if err != nil {
		t.Fatal(err)
	}

	// A fresh pipeline over the same store sees matching hashes.
	p2 := New(context.Background(), p.Store, repo)
	if err := p2.Run(); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	after, err := p2.Store.CountNodes(p2.ProjectName)
	if err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Fatalf("noop rerun changed node count: %d -> %d", before, after)
	}
	// The registry is still populated from the store for later queries.
	if !p2.Registry().Contains(p2.ProjectName + ".pkg.mod.foo") {
		t.Fatal("expected registry loaded from store on noop run")
	}
}

func TestIncrementalReindexOnChange(t *testing.T) {
	repo := buildRepo(t, map[string]string{
		"a.py": "def one():\n    pass\n",
		"b.py": "def two():\n    pass\n",
	})
	p := newPipeline(t, repo)
	if err := p.Run(); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// Rewrite a.py with a new function name.
	if err := os.WriteFile(filepath.Join(repo, "a.py"), []byte("def renamed():\n    pass\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p2 := New(context.Background(), p.Store, repo)
	if err := p2.Run(); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	proj := p2.ProjectName

	renamed, err := p2.Store.FindNodeByQN(proj, proj+".a.renamed")
	if err != nil {
		t.Fatal(err)
	}
	if renamed == nil {
		t.Fatal("expected renamed function indexed after change")
	}
	old, err := p2.Store.FindNodeByQN(proj, proj+".a.one")
	if err != nil {
		t.Fatal(err)
	}
	if old != nil {
		t.Fatal("expected stale definition removed after change")
	}
	// Unchanged file untouched.
	if !p2.Registry().Contains(proj + ".b.two") {
		t.Fatal("expected unchanged file's definitions in registry")
	}
}

func TestRemoveFileIsIdempotent(t *testing.T) {
	repo := buildRepo(t, map[string]string{
		"mod.py": "def foo():\n    pass\n",
	})
	p := newPipeline(t, repo)
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	target := filepath.Join(repo, "mod.py")
	if err := p.RemoveFileFromState(target); err != nil {
		t.Fatalf("first remove: %v", err)
	}
	lenAfterFirst := p.Registry().Len()
	if err := p.RemoveFileFromState(target); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if p.Registry().Len() != lenAfterFirst {
		t.Fatal("second removal changed registry state")
	}
}

func TestRemoveRespectsDotBoundaries(t *testing.T) {
	repo := buildRepo(t, map[string]string{
		"ab.py":  "def keep():\n    pass\n",
		"a/b.py": "def gone():\n    pass\n",
	})
	p := newPipeline(t, repo)
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	proj := p.ProjectName

	if err := p.RemoveFileFromState(filepath.Join(repo, "a", "b.py")); err != nil {
		t.Fatalf("RemoveFileFromState: %v", err)
	}
	if p.Registry().Contains(proj + ".a.b.gone") {
		t.Fatal("removed file's definitions still registered")
	}
	if !p.Registry().Contains(proj + ".ab.keep") {
		t.Fatal("removal crossed a dot boundary into another module")
	}
}

func TestIndexModuleKeepsOwnNamespace(t *testing.T) {
	// index.py is an ordinary module; only JS-family index files name
	// their directory. Removing it must not touch sibling modules.
	repo := buildRepo(t, map[string]string{
		"pkg/__init__.py": "",
		"pkg/index.py":    "def idx():\n    pass\n",
		"pkg/other.py":    "def keep():\n    pass\n",
	})
	p := newPipeline(t, repo)
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	proj := p.ProjectName

	if !p.Registry().Contains(proj + ".pkg.index.idx") {
		t.Fatal("expected index.py definitions under pkg.index")
	}
	if p.Registry().Contains(proj + ".pkg.idx") {
		t.Fatal("index segment stripped for a Python module")
	}

	if err := p.RemoveFileFromState(filepath.Join(repo, "pkg", "index.py")); err != nil {
		t.Fatalf("RemoveFileFromState: %v", err)
	}
	if p.Registry().Contains(proj + ".pkg.index.idx") {
		t.Fatal("removed file's definitions still registered")
	}
	if !p.Registry().Contains(proj + ".pkg.other.keep") {
		t.Fatal("removal of pkg/index.py purged a sibling module")
	}
}

func TestJSIndexFileNamesDirectory(t *testing.T) {
	repo := buildRepo(t, map[string]string{
		"lib/index.js": "function entry() {}\n",
	})
	p := newPipeline(t, repo)
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !p.Registry().Contains(p.ProjectName + ".lib.entry") {
		t.Fatal("expected index.js definitions under the directory namespace")
	}
}

func TestIncrementalRunKeepsFolderNodes(t *testing.T) {
	// src/ carries no package indicator and is recorded as a plain
	// Folder; a noop rerun must not mistake it for a deleted file.
	repo := buildRepo(t, map[string]string{
		"src/app.py":  "def app():\n    pass\n",
		"src/util.py": "def helper():\n    pass\n",
	})
	p := newPipeline(t, repo)
	if err := p.Run(); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	proj := p.ProjectName
	nodesBefore, err := p.Store.CountNodes(proj)
	if err != nil {
		t.Fatal(err)
	}
	edgesBefore, err := p.Store.CountEdges(proj)
	if err != nil {
		t.Fatal(err)
	}

	p2 := New(context.Background(), p.Store, repo)
	if err := p2.Run(); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	nodesAfter, err := p2.Store.CountNodes(proj)
	if err != nil {
		t.Fatal(err)
	}
	edgesAfter, err := p2.Store.CountEdges(proj)
	if err != nil {
		t.Fatal(err)
	}
	if nodesBefore != nodesAfter || edgesBefore != edgesAfter {
		t.Fatalf("noop rerun changed graph: nodes %d -> %d, edges %d -> %d",
			nodesBefore, nodesAfter, edgesBefore, edgesAfter)
	}

	folder, err := p2.Store.FindNodeByQN(proj, proj+".src")
	if err != nil {
		t.Fatal(err)
	}
	if folder == nil || folder.Label != "Folder" {
		t.Fatalf("expected Folder node %s.src to survive rerun, got %+v", proj, folder)
	}
}

func TestIncrementalDependentKeepsImportedCallEdge(t *testing.T) {
	// Changing the callee file must re-resolve its dependents through
	// their import maps, not drop the inbound CALLS edge.
	repo := buildRepo(t, map[string]string{
		"a.py": "from z import zfunc\n\ndef run():\n    zfunc()\n",
		"z.py": "def zfunc():\n    pass\n",
	})
	p := newPipeline(t, repo)
	if err := p.Run(); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	proj := p.ProjectName
	if !callEdgeExists(t, p, proj+".a.run", proj+".z.zfunc") {
		t.Fatal("expected CALLS edge after first run")
	}

	// Rewrite z.py keeping zfunc.
	newBody := "def zfunc():\n    pass\n\ndef extra():\n    pass\n"
	if err := os.WriteFile(filepath.Join(repo, "z.py"), []byte(newBody), 0o644); err != nil {
		t.Fatal(err)
	}

	p2 := New(context.Background(), p.Store, repo)
	if err := p2.Run(); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !p2.Registry().Contains(proj + ".z.extra") {
		t.Fatal("expected new definition indexed after change")
	}
	if !callEdgeExists(t, p2, proj+".a.run", proj+".z.zfunc") {
		t.Fatal("dependent's CALLS edge lost on incremental reindex")
	}
}

func TestNestedFunctionsRegisterAndResolve(t *testing.T) {
	repo := buildRepo(t, map[string]string{
		"m.py": "def outer():\n    def inner():\n        pass\n    inner()\n",
	})
	p := newPipeline(t, repo)
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	proj := p.ProjectName

	innerQN := proj + ".m.outer.inner"
	if kind, ok := p.Registry().Get(innerQN); !ok || kind != registry.KindFunction {
		t.Fatalf("expected nested function registered, got %q %v", kind, ok)
	}
	if !callEdgeExists(t, p, proj+".m.outer", innerQN) {
		t.Fatalf("expected CALLS edge %s.m.outer -> %s", proj, innerQN)
	}
}

func TestDependencyManifest(t *testing.T) {
	repo := buildRepo(t, map[string]string{
		"package.json": `{"dependencies": {"express": "^4.18.0"}, "devDependencies": {"vitest": "^1.0.0"}}`,
		"index.js":     "function main() {}\n",
	})
	p := newPipeline(t, repo)
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	pkgs, err := p.Store.FindNodesByLabel(p.ProjectName, "ExternalPackage", -1)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, n := range pkgs {
		names[n.Name] = true
	}
	if !names["express"] || !names["vitest"] {
		t.Fatalf("expected express and vitest packages, got %v", names)
	}
}

func TestProjectNameFromPath(t *testing.T) {
	cases := map[string]string{
		"/home/user/myrepo": "home-user-myrepo",
		"/":                 "root",
	}
	for in, want := range cases {
		if got := ProjectNameFromPath(in); got != want {
			t.Errorf("ProjectNameFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}
