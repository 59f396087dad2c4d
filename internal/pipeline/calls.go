package pipeline

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	"golang.org/x/sync/errgroup"

	"github.com/repograph/repograph/internal/discover"
	"github.com/repograph/repograph/internal/fqn"
	"github.com/repograph/repograph/internal/lang"
	"github.com/repograph/repograph/internal/parser"
	"github.com/repograph/repograph/internal/registry"
	"github.com/repograph/repograph/internal/store"
)

// resolvedEdge is a call edge expressed in qualified names, produced by the
// read-only call pass and flushed in one batch afterwards.
type resolvedEdge struct {
	CallerQN string
	TargetQN string
}

// passCalls resolves call sites in every cached tree against the registry.
// The pass only reads the registry and simple-name index, so files are
// processed in parallel; resolved edges are merged and flushed sequentially.
func (p *Pipeline) passCalls() {
	slog.Info("pass.calls", "files", p.cache.len())

	paths := make([]string, 0, p.cache.len())
	for path := range p.cache.entries {
		paths = append(paths, path)
	}
	p.resolveAndFlush(paths)
}

// passCallsForFiles resolves calls for specific files, parsing any that are
// not in the cache (unchanged dependents in an incremental run).
func (p *Pipeline) passCallsForFiles(files []discover.FileInfo) {
	slog.Info("pass.calls.incremental", "files", len(files))

	paths := make([]string, 0, len(files))
	for _, f := range files {
		if f.Language == "" {
			continue
		}
		if _, ok := p.cache.get(f.Path); !ok {
			source, err := os.ReadFile(f.Path)
			if err != nil {
				continue
			}
			source = stripBOM(source)
			tree, err := parser.Parse(f.Language, source)
			if err != nil {
				continue
			}
			p.cache.put(f.Path, &cachedTree{Tree: tree, Source: source, Language: f.Language})

			// Re-parsed dependents need their import map back, or aliased
			// imports degrade to simple-name guessing. The IMPORTS edges are
			// re-written too: the deletion of the changed file's nodes
			// cascaded the old ones away.
			moduleQN := fqn.ModuleQN(p.ProjectName, f.RelPath)
			if imports := parseImports(tree.RootNode(), source, f.Language, p.ProjectName, f.RelPath); len(imports) > 0 {
				p.importMaps[moduleQN] = imports
				if err := p.writeBatch(nil, p.importEdges(moduleQN, imports)); err != nil {
					slog.Warn("pass.calls.imports.err", "path", f.RelPath, "err", err)
				}
			}
		}
		paths = append(paths, f.Path)
	}
	p.resolveAndFlush(paths)
}

func (p *Pipeline) resolveAndFlush(paths []string) {
	if len(paths) == 0 {
		return
	}

	r := &resolver{
		project:    p.ProjectName,
		reg:        p.registry,
		names:      p.names,
		importMaps: p.importMaps,
	}

	var mu sync.Mutex
	var all []resolvedEdge

	numWorkers := runtime.NumCPU()
	if numWorkers > len(paths) {
		numWorkers = len(paths)
	}

	g, gctx := errgroup.WithContext(p.ctx)
	g.SetLimit(numWorkers)
	for _, path := range paths {
		ct, ok := p.cache.get(path)
		if !ok {
			continue
		}
		relPath, err := filepath.Rel(p.RepoPath, path)
		if err != nil {
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			edges := p.processFileCalls(filepath.ToSlash(relPath), ct, r)
			mu.Lock()
			all = append(all, edges...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	p.flushResolvedEdges(all)
}

// processFileCalls walks one cached tree and resolves its call sites.
// Read-only against the registry and simple-name index.
func (p *Pipeline) processFileCalls(relPath string, ct *cachedTree, r *resolver) []resolvedEdge {
	spec := lang.ForLanguage(ct.Language)
	if spec == nil {
		return nil
	}
	callTypes := toSet(spec.CallNodeTypes)
	funcTypes := toSet(spec.FunctionNodeTypes)
	classTypes := toSet(spec.ClassNodeTypes)
	moduleQN := fqn.ModuleQN(p.ProjectName, relPath)

	var edges []resolvedEdge
	seen := make(map[resolvedEdge]bool)

	parser.Walk(ct.Tree.RootNode(), func(node *tree_sitter.Node) bool {
		if !callTypes[node.Kind()] {
			return true
		}
		callee := calleeName(node, ct.Source)
		if callee == "" {
			return true
		}
		callerQN := enclosingQN(node, ct.Source, moduleQN, funcTypes, classTypes)
		targetQN, ok := r.resolve(callee, moduleQN, callerQN)
		if !ok || targetQN == callerQN {
			return true
		}
		e := resolvedEdge{CallerQN: callerQN, TargetQN: targetQN}
		if !seen[e] {
			seen[e] = true
			edges = append(edges, e)
		}
		return true
	})
	return edges
}

// calleeName extracts the (possibly dotted) name a call site refers to.
// Receiver pseudo-prefixes (self, this) are stripped so method calls
// resolve within the enclosing class scope.
func calleeName(callNode *tree_sitter.Node, source []byte) string {
	fn := callNode.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	text := parser.NodeText(fn, source)
	// Go selector and Rust path syntax
	text = strings.ReplaceAll(text, "::", ".")
	text = strings.TrimPrefix(text, "self.")
	text = strings.TrimPrefix(text, "this.")
	if text == "" || strings.ContainsAny(text, "()[]{} \n\t") {
		return ""
	}
	return text
}

// enclosingQN computes the qualified name of the innermost named function,
// method or class containing node, falling back to the module itself.
func enclosingQN(node *tree_sitter.Node, source []byte, moduleQN string, funcTypes, classTypes map[string]bool) string {
	var segments []string
	for cur := node.Parent(); cur != nil; cur = cur.Parent() {
		if !funcTypes[cur.Kind()] && !classTypes[cur.Kind()] {
			continue
		}
		nameNode := funcNameNode(cur)
		if nameNode == nil {
			nameNode = cur.ChildByFieldName("name")
		}
		if nameNode == nil {
			continue
		}
		if name := parser.NodeText(nameNode, source); name != "" {
			segments = append([]string{name}, segments...)
		}
	}
	if len(segments) == 0 {
		return moduleQN
	}
	return moduleQN + "." + strings.Join(segments, ".")
}

// flushResolvedEdges maps caller/target qualified names to node IDs and
// batch-inserts CALLS edges. Edges whose endpoints are not stored are
// dropped.
func (p *Pipeline) flushResolvedEdges(edges []resolvedEdge) {
	if len(edges) == 0 {
		return
	}

	qnSet := make(map[string]bool, len(edges)*2)
	for _, e := range edges {
		qnSet[e.CallerQN] = true
		qnSet[e.TargetQN] = true
	}
	qns := make([]string, 0, len(qnSet))
	for qn := range qnSet {
		qns = append(qns, qn)
	}

	idMap, err := p.Store.FindNodeIDsByQNs(p.ProjectName, qns)
	if err != nil {
		slog.Warn("pass.calls.flush.err", "err", err)
		return
	}

	batch := make([]*store.Edge, 0, len(edges))
	for _, e := range edges {
		srcID, srcOK := idMap[e.CallerQN]
		tgtID, tgtOK := idMap[e.TargetQN]
		if srcOK && tgtOK {
			batch = append(batch, &store.Edge{
				Project:  p.ProjectName,
				SourceID: srcID,
				TargetID: tgtID,
				Type:     "CALLS",
			})
		}
	}
	if err := p.Store.InsertEdgeBatch(batch); err != nil {
		slog.Warn("pass.calls.flush.err", "err", err)
	}
	slog.Info("pass.calls.flushed", "edges", len(batch))
}

// resolver resolves callee references against the registry, the simple-name
// index and per-module import maps. All methods are read-only.
type resolver struct {
	project    string
	reg        *registry.Registry
	names      *registry.NameIndex
	importMaps map[string]map[string]string
}

// resolve maps a callee reference from within callerQN's scope to the
// qualified name of a registered definition. Strategies in order: the
// module's import map, enclosing lexical scopes, then a repository-wide
// simple-name lookup ranked by namespace proximity.
func (r *resolver) resolve(callee, moduleQN, callerQN string) (string, bool) {
	if qn, ok := r.resolveViaImports(callee, moduleQN); ok {
		return qn, true
	}
	if qn, ok := r.resolveInScope(callee, callerQN); ok {
		return qn, true
	}
	return r.resolveBySimpleName(callee, moduleQN)
}

func (r *resolver) resolveViaImports(callee, moduleQN string) (string, bool) {
	importMap := r.importMaps[moduleQN]
	if len(importMap) == 0 {
		return "", false
	}

	if target, ok := importMap[callee]; ok && r.reg.Contains(target) {
		return target, true
	}
	// dotted callee whose head is an imported alias: alias.rest
	if head, rest, found := strings.Cut(callee, "."); found {
		if target, ok := importMap[head]; ok {
			if candidate := target + "." + rest; r.reg.Contains(candidate) {
				return candidate, true
			}
		}
	}
	// wildcard import: from X import *
	if base, ok := importMap["*"]; ok {
		if candidate := base + "." + callee; r.reg.Contains(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// resolveInScope tries the callee against every enclosing scope from the
// caller outward to the project root.
func (r *resolver) resolveInScope(callee, callerQN string) (string, bool) {
	for scope := callerQN; ; scope = fqn.Parent(scope) {
		if candidate := scope + "." + callee; r.reg.Contains(candidate) {
			return candidate, true
		}
		if scope == r.project || !strings.Contains(scope, ".") {
			return "", false
		}
	}
}

func (r *resolver) resolveBySimpleName(callee, moduleQN string) (string, bool) {
	candidates := r.names.Lookup(fqn.SimpleName(callee))
	best := ""
	bestScore := -1
	for _, qn := range candidates {
		if !r.reg.Contains(qn) {
			continue
		}
		if score := commonPrefixLen(qn, moduleQN); score > bestScore {
			best = qn
			bestScore = score
		}
	}
	return best, best != ""
}

// commonPrefixLen counts the leading dotted segments two qualified names
// share. Used to prefer candidates in nearby namespaces.
func commonPrefixLen(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := 0
	for n < len(as) && n < len(bs) && as[n] == bs[n] {
		n++
	}
	return n
}
