// Package pipeline orchestrates the multi-pass structural indexing of a
// repository: structure discovery, definition collection, call resolution,
// override resolution, and a final atomic flush to the graph store. It owns
// the qualified-name registry, the simple-name index, and the parsed-tree
// cache, and keeps all three consistent when files are removed.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/repograph/repograph/internal/config"
	"github.com/repograph/repograph/internal/discover"
	"github.com/repograph/repograph/internal/fqn"
	"github.com/repograph/repograph/internal/lang"
	"github.com/repograph/repograph/internal/registry"
	"github.com/repograph/repograph/internal/store"
)

// Pipeline orchestrates the multi-pass indexing of a repository.
//
// The passes form strict barriers: call resolution must observe every
// definition collected in the definition pass, and override resolution
// must observe the complete registry. The registry and simple-name index
// are written only between barriers (parsing is parallel, registration is
// sequential), and the call pass reads them without mutation.
type Pipeline struct {
	ctx         context.Context
	Store       *store.Store
	RepoPath    string
	ProjectName string
	cfg         *config.Config

	// cache maps absolute file path -> parsed tree for the call pass
	cache *treeCache
	// registry indexes every Function/Method/Class definition by qualified name
	registry *registry.Registry
	// names maps simple names to the qualified names sharing them
	names *registry.NameIndex
	// importMaps stores per-module import maps: moduleQN -> localName -> resolvedQN
	importMaps map[string]map[string]string
}

// New creates a Pipeline for the repository at repoPath.
func New(ctx context.Context, s *store.Store, repoPath string) *Pipeline {
	return &Pipeline{
		ctx:         ctx,
		Store:       s,
		RepoPath:    repoPath,
		ProjectName: ProjectNameFromPath(repoPath),
		cfg:         config.Load(repoPath),
		cache:       newTreeCache(),
		registry:    registry.New(),
		names:       registry.NewNameIndex(),
		importMaps:  make(map[string]map[string]string),
	}
}

// ProjectNameFromPath derives a project name from an absolute path by
// replacing path separators with dashes.
func ProjectNameFromPath(absPath string) string {
	cleaned := filepath.ToSlash(filepath.Clean(absPath))
	name := strings.ReplaceAll(cleaned, "/", "-")
	name = strings.TrimLeft(name, "-")
	if name == "" {
		return "root"
	}
	return name
}

// Registry exposes the qualified-name registry for query surfaces.
func (p *Pipeline) Registry() *registry.Registry {
	return p.registry
}

func (p *Pipeline) checkCancel() error {
	return p.ctx.Err()
}

// Run executes the full pipeline within a single transaction. The commit
// at the end is the flush: either every accumulated write is visible or
// the run must be treated as not completed. When file hashes from a
// previous run exist, only changed files are re-processed.
func (p *Pipeline) Run() error {
	slog.Info("pipeline.start", "project", p.ProjectName, "path", p.RepoPath)

	if err := p.checkCancel(); err != nil {
		return err
	}

	files, err := discover.Discover(p.ctx, p.RepoPath, &discover.Options{
		ExtraIgnoreDirs: p.cfg.Index.IgnoreDirs,
	})
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	slog.Info("pipeline.discovered", "files", len(files))

	if err := p.Store.WithTransaction(p.ctx, func(txStore *store.Store) error {
		origStore := p.Store
		p.Store = txStore
		defer func() { p.Store = origStore }()
		return p.runPasses(files)
	}); err != nil {
		return err
	}

	nc, _ := p.Store.CountNodes(p.ProjectName)
	ec, _ := p.Store.CountEdges(p.ProjectName)
	slog.Info("pipeline.done", "nodes", nc, "edges", ec, "registry", p.registry.Len())
	return nil
}

// runPasses executes the indexing passes (called within a transaction).
func (p *Pipeline) runPasses(files []discover.FileInfo) error {
	if err := p.Store.UpsertProject(p.ProjectName, p.RepoPath); err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}

	files = p.filterByConfig(files)
	changed, unchanged := p.classifyFiles(files)

	if len(unchanged) == 0 {
		return p.runFullPasses(files)
	}

	slog.Info("incremental.classify", "changed", len(changed), "unchanged", len(unchanged), "total", len(files))

	if len(changed) == 0 {
		p.removeDeletedFiles(files)
		p.loadRegistryFromStore()
		return nil
	}

	return p.runIncrementalPasses(files, changed, unchanged)
}

// filterByConfig drops source files whose language is disabled. Files
// without a detected language pass through for manifest/generic routing.
func (p *Pipeline) filterByConfig(files []discover.FileInfo) []discover.FileInfo {
	if len(p.cfg.Index.Languages) == 0 {
		return files
	}
	kept := files[:0]
	for _, f := range files {
		if f.Language == "" || p.cfg.LanguageEnabled(string(f.Language)) {
			kept = append(kept, f)
		}
	}
	return kept
}

func (p *Pipeline) runFullPasses(files []discover.FileInfo) error {
	t := time.Now()
	if err := p.passStructure(files); err != nil {
		return fmt.Errorf("structure pass: %w", err)
	}
	slog.Info("pass.timing", "pass", "structure", "elapsed", time.Since(t))
	if err := p.checkCancel(); err != nil {
		return err
	}

	t = time.Now()
	p.passDefinitions(files)
	slog.Info("pass.timing", "pass", "definitions", "elapsed", time.Since(t))
	if err := p.checkCancel(); err != nil {
		return err
	}

	t = time.Now()
	p.passCalls()
	slog.Info("pass.timing", "pass", "calls", "elapsed", time.Since(t))
	if err := p.checkCancel(); err != nil {
		return err
	}

	t = time.Now()
	p.passOverrides()
	slog.Info("pass.timing", "pass", "overrides", "elapsed", time.Since(t))
	if err := p.checkCancel(); err != nil {
		return err
	}

	p.updateFileHashes(files)
	return nil
}

// runIncrementalPasses re-indexes only changed files plus their dependents.
func (p *Pipeline) runIncrementalPasses(allFiles, changed, unchanged []discover.FileInfo) error {
	// Dependents are detected through stored IMPORTS edges, which the node
	// deletion below cascades away. Read them first.
	dependents := p.findDependentFiles(changed, unchanged)

	// Stale nodes go first; deleting them cascades their edges, and the
	// structure pass then re-creates the File nodes for changed files.
	for _, f := range changed {
		_ = p.Store.DeleteNodesByFile(p.ProjectName, f.RelPath)
	}

	// Structure always runs on all files: fast, idempotent upserts.
	if err := p.passStructure(allFiles); err != nil {
		return fmt.Errorf("structure pass: %w", err)
	}
	if err := p.checkCancel(); err != nil {
		return err
	}

	p.removeDeletedFiles(allFiles)

	p.passDefinitions(changed)
	if err := p.checkCancel(); err != nil {
		return err
	}

	// The registry must cover unchanged files too: their definitions are
	// already in the store and are loaded rather than re-parsed.
	p.loadRegistryFromStore()

	filesToResolve := mergeFiles(changed, dependents)
	slog.Info("incremental.resolve", "changed", len(changed), "dependents", len(dependents))

	// Changed files' edges were cascaded away with their nodes; dependents
	// keep their definition edges and only shed stale call edges.
	for _, f := range dependents {
		_ = p.Store.DeleteEdgesBySourceFileAndType(p.ProjectName, f.RelPath, "CALLS")
	}

	p.passCallsForFiles(filesToResolve)
	if err := p.checkCancel(); err != nil {
		return err
	}

	// Override edges are global: delete and re-derive from the registry.
	_ = p.Store.DeleteEdgesByType(p.ProjectName, "OVERRIDES")
	p.passOverrides()

	p.updateFileHashes(allFiles)
	return nil
}

// loadRegistryFromStore populates the registry and simple-name index from
// definitions already persisted, covering files skipped by an incremental
// run.
func (p *Pipeline) loadRegistryFromStore() {
	for label, kind := range map[string]registry.Kind{
		"Function":  registry.KindFunction,
		"Method":    registry.KindMethod,
		"Class":     registry.KindClass,
		"Interface": registry.KindInterface,
	} {
		nodes, err := p.Store.FindNodesByLabel(p.ProjectName, label, -1)
		if err != nil {
			slog.Warn("registry.load.err", "label", label, "err", err)
			continue
		}
		for _, n := range nodes {
			if p.registry.Contains(n.QualifiedName) {
				continue
			}
			p.registry.Insert(n.QualifiedName, kind)
			p.names.Add(n.Name, n.QualifiedName)
		}
	}
}

// classifyFiles splits files into changed and unchanged based on stored
// hashes. Hashing is parallelized across CPU cores.
func (p *Pipeline) classifyFiles(files []discover.FileInfo) (changed, unchanged []discover.FileInfo) {
	storedHashes, err := p.Store.GetFileHashes(p.ProjectName)
	if err != nil || len(storedHashes) == 0 {
		return files, nil // no hashes, full index
	}

	hashes := p.hashFiles(files)
	for i, f := range files {
		if hashes[i] == "" {
			changed = append(changed, f)
			continue
		}
		if stored, ok := storedHashes[f.RelPath]; ok && stored == hashes[i] {
			unchanged = append(unchanged, f)
		} else {
			changed = append(changed, f)
		}
	}
	return changed, unchanged
}

// hashFiles hashes file contents in parallel. Entries for unreadable
// files are empty strings.
func (p *Pipeline) hashFiles(files []discover.FileInfo) []string {
	hashes := make([]string, len(files))
	if len(files) == 0 {
		return hashes
	}
	numWorkers := runtime.NumCPU()
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	g := new(errgroup.Group)
	g.SetLimit(numWorkers)
	for i, f := range files {
		g.Go(func() error {
			h, err := fileHash(f.Path)
			if err == nil {
				hashes[i] = h
			}
			return nil
		})
	}
	_ = g.Wait()
	return hashes
}

func (p *Pipeline) updateFileHashes(files []discover.FileInfo) {
	hashes := p.hashFiles(files)
	batch := make(map[string]string, len(files))
	for i, f := range files {
		if hashes[i] != "" {
			batch[f.RelPath] = hashes[i]
		}
	}
	if err := p.Store.UpsertFileHashBatch(p.ProjectName, batch); err != nil {
		slog.Warn("filehashes.err", "err", err)
	}
}

// findDependentFiles finds unchanged files that import any changed module.
// Import targets can be symbol-level ("proj.z.zfunc" for a from-import), so
// each target is matched against the changed modules' prefixes with
// dot-boundary ownership, not exact equality.
func (p *Pipeline) findDependentFiles(changed, unchanged []discover.FileInfo) []discover.FileInfo {
	prefixSet := make(map[string]bool, len(changed)*2)
	for _, f := range changed {
		prefixSet[fqn.ModulePrefix(p.ProjectName, f.RelPath)] = true
		if dir := filepath.Dir(f.RelPath); dir != "." {
			prefixSet[fqn.FolderQN(p.ProjectName, dir)] = true
		}
	}
	changedPrefixes := make([]string, 0, len(prefixSet))
	for prefix := range prefixSet {
		changedPrefixes = append(changedPrefixes, prefix)
	}

	var dependents []discover.FileInfo
	for _, f := range unchanged {
		mqn := fqn.ModuleQN(p.ProjectName, f.RelPath)
		importMap := p.importMaps[mqn]
		if len(importMap) == 0 {
			importMap = p.loadImportMapFromStore(mqn)
		}
	scan:
		for _, targetQN := range importMap {
			for _, prefix := range changedPrefixes {
				if fqn.Owns(prefix, targetQN) {
					dependents = append(dependents, f)
					break scan
				}
			}
		}
	}
	return dependents
}

// loadImportMapFromStore reconstructs an import map from stored IMPORTS edges.
func (p *Pipeline) loadImportMapFromStore(moduleQN string) map[string]string {
	moduleNode, err := p.Store.FindNodeByQN(p.ProjectName, moduleQN)
	if err != nil || moduleNode == nil {
		return nil
	}
	edges, err := p.Store.FindEdgesBySourceAndType(moduleNode.ID, "IMPORTS")
	if err != nil {
		return nil
	}
	result := make(map[string]string, len(edges))
	for _, e := range edges {
		target, tErr := p.Store.FindNodeByID(e.TargetID)
		if tErr != nil || target == nil {
			continue
		}
		if alias, ok := e.Properties["alias"].(string); ok && alias != "" {
			result[alias] = target.QualifiedName
		}
	}
	return result
}

// removeDeletedFiles purges state for files that no longer exist on disk.
func (p *Pipeline) removeDeletedFiles(currentFiles []discover.FileInfo) {
	currentSet := make(map[string]bool, len(currentFiles))
	for _, f := range currentFiles {
		currentSet[f.RelPath] = true
	}
	indexed, err := p.Store.ListFilesForProject(p.ProjectName)
	if err != nil {
		return
	}
	for _, relPath := range indexed {
		if !currentSet[relPath] {
			if err := p.RemoveFileFromState(filepath.Join(p.RepoPath, relPath)); err != nil {
				slog.Warn("incremental.remove.err", "file", relPath, "err", err)
			}
		}
	}
}

// mergeFiles returns the union of two file slices, deduped by RelPath.
func mergeFiles(a, b []discover.FileInfo) []discover.FileInfo {
	seen := make(map[string]bool, len(a))
	result := make([]discover.FileInfo, 0, len(a)+len(b))
	for _, f := range a {
		seen[f.RelPath] = true
		result = append(result, f)
	}
	for _, f := range b {
		if !seen[f.RelPath] {
			result = append(result, f)
		}
	}
	return result
}

// pendingEdge is an edge expressed in qualified names, resolved to node IDs
// after batch insertion.
type pendingEdge struct {
	SourceQN   string
	TargetQN   string
	Type       string
	Properties map[string]any
}

// passStructure creates Project, Folder, Package and File nodes plus their
// containment edges. No definitions are registered yet.
func (p *Pipeline) passStructure(files []discover.FileInfo) error {
	slog.Info("pass.structure")

	dirSet, dirIsPackage := p.classifyDirectories(files)

	nodes := make([]*store.Node, 0, len(files)*2)
	edges := make([]pendingEdge, 0, len(files)*2)

	projectQN := p.ProjectName
	nodes = append(nodes, &store.Node{
		Project:       p.ProjectName,
		Label:         "Project",
		Name:          p.ProjectName,
		QualifiedName: projectQN,
	})

	dirNodes, dirEdges := p.buildDirNodesEdges(dirSet, dirIsPackage, projectQN)
	nodes = append(nodes, dirNodes...)
	edges = append(edges, dirEdges...)

	fileNodes, fileEdges := p.buildFileNodesEdges(files)
	nodes = append(nodes, fileNodes...)
	edges = append(edges, fileEdges...)

	return p.writeBatch(nodes, edges)
}

// classifyDirectories collects all ancestor directories of the discovered
// files and marks those containing a package indicator file.
func (p *Pipeline) classifyDirectories(files []discover.FileInfo) (allDirs, packageDirs map[string]bool) {
	packageIndicators := make(map[string]bool)
	for _, l := range lang.AllLanguages() {
		if spec := lang.ForLanguage(l); spec != nil {
			for _, pi := range spec.PackageIndicators {
				packageIndicators[pi] = true
			}
		}
	}

	allDirs = make(map[string]bool)
	for _, f := range files {
		dir := filepath.Dir(f.RelPath)
		for dir != "." && dir != "" && !allDirs[dir] {
			allDirs[dir] = true
			dir = filepath.Dir(dir)
		}
	}

	packageDirs = make(map[string]bool, len(allDirs))
	for dir := range allDirs {
		absDir := filepath.Join(p.RepoPath, dir)
		for indicator := range packageIndicators {
			if _, err := os.Stat(filepath.Join(absDir, indicator)); err == nil {
				packageDirs[dir] = true
				break
			}
		}
	}
	return
}

func (p *Pipeline) buildDirNodesEdges(dirSet, dirIsPackage map[string]bool, projectQN string) ([]*store.Node, []pendingEdge) {
	nodes := make([]*store.Node, 0, len(dirSet))
	edges := make([]pendingEdge, 0, len(dirSet))

	for dir := range dirSet {
		label := "Folder"
		edgeType := "CONTAINS_FOLDER"
		if dirIsPackage[dir] {
			label = "Package"
			edgeType = "CONTAINS_PACKAGE"
		}
		qn := fqn.FolderQN(p.ProjectName, dir)
		nodes = append(nodes, &store.Node{
			Project:       p.ProjectName,
			Label:         label,
			Name:          filepath.Base(dir),
			QualifiedName: qn,
			FilePath:      dir,
		})

		parentQN := projectQN
		if parent := filepath.Dir(dir); parent != "." && parent != "" {
			parentQN = fqn.FolderQN(p.ProjectName, parent)
		}
		edges = append(edges, pendingEdge{SourceQN: parentQN, TargetQN: qn, Type: edgeType})
	}
	return nodes, edges
}

func (p *Pipeline) buildFileNodesEdges(files []discover.FileInfo) ([]*store.Node, []pendingEdge) {
	nodes := make([]*store.Node, 0, len(files))
	edges := make([]pendingEdge, 0, len(files))

	for _, f := range files {
		fileQN := fqn.ModuleQN(p.ProjectName, f.RelPath) + ".__file__"
		props := map[string]any{"extension": filepath.Ext(f.RelPath)}
		if f.Language != "" {
			props["language"] = string(f.Language)
		}
		nodes = append(nodes, &store.Node{
			Project:       p.ProjectName,
			Label:         "File",
			Name:          f.Name,
			QualifiedName: fileQN,
			FilePath:      f.RelPath,
			Properties:    props,
		})

		edges = append(edges, pendingEdge{SourceQN: p.dirQN(filepath.Dir(f.RelPath)), TargetQN: fileQN, Type: "CONTAINS_FILE"})
	}
	return nodes, edges
}

func (p *Pipeline) dirQN(relDir string) string {
	if relDir == "." || relDir == "" {
		return p.ProjectName
	}
	return fqn.FolderQN(p.ProjectName, relDir)
}

// writeBatch upserts nodes, resolves pending edges to node IDs (consulting
// the store for qualified names outside this batch) and inserts the edges.
// Edges whose endpoints cannot be resolved are dropped.
func (p *Pipeline) writeBatch(nodes []*store.Node, edges []pendingEdge) error {
	idMap, err := p.Store.UpsertNodeBatch(nodes)
	if err != nil {
		return fmt.Errorf("batch upsert: %w", err)
	}

	var missing []string
	for _, pe := range edges {
		if _, ok := idMap[pe.SourceQN]; !ok {
			missing = append(missing, pe.SourceQN)
		}
		if _, ok := idMap[pe.TargetQN]; !ok {
			missing = append(missing, pe.TargetQN)
		}
	}
	if len(missing) > 0 {
		extra, err := p.Store.FindNodeIDsByQNs(p.ProjectName, missing)
		if err == nil {
			for qn, id := range extra {
				idMap[qn] = id
			}
		}
	}

	realEdges := make([]*store.Edge, 0, len(edges))
	for _, pe := range edges {
		srcID, srcOK := idMap[pe.SourceQN]
		tgtID, tgtOK := idMap[pe.TargetQN]
		if srcOK && tgtOK {
			realEdges = append(realEdges, &store.Edge{
				Project:    p.ProjectName,
				SourceID:   srcID,
				TargetID:   tgtID,
				Type:       pe.Type,
				Properties: pe.Properties,
			})
		}
	}

	if err := p.Store.InsertEdgeBatch(realEdges); err != nil {
		return fmt.Errorf("batch edges: %w", err)
	}
	return nil
}
