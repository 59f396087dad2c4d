package pipeline

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/repograph/repograph/internal/fqn"
)

// RemoveFileFromState removes every trace of a file from the indexing
// structures and the store: its cached tree, every registry entry under
// the qualified-name prefix the file owns, the simple-name index entries
// for those names, and the file's nodes and hash record. The trie keeps
// its structural nodes; only the live layer shrinks.
//
// Removing a file that was never indexed is a no-op, and the operation is
// idempotent. It must not run concurrently with an in-flight pipeline run;
// callers serialize removal and (re-)indexing.
func (p *Pipeline) RemoveFileFromState(path string) error {
	relPath := path
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(p.RepoPath, path)
		if err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		relPath = rel
	}
	relPath = filepath.ToSlash(relPath)
	absPath := filepath.Join(p.RepoPath, relPath)

	p.cache.remove(absPath)

	prefix := fqn.ModulePrefix(p.ProjectName, relPath)
	removed := make(map[string]struct{})
	for _, qn := range p.registry.Keys() {
		if fqn.Owns(prefix, qn) {
			p.registry.Remove(qn)
			removed[qn] = struct{}{}
		}
	}
	p.names.Discard(removed)
	delete(p.importMaps, fqn.ModuleQN(p.ProjectName, relPath))

	if err := p.Store.DeleteNodesByFile(p.ProjectName, relPath); err != nil {
		return fmt.Errorf("remove nodes %s: %w", relPath, err)
	}
	if err := p.Store.DeleteFileHash(p.ProjectName, relPath); err != nil {
		return fmt.Errorf("remove hash %s: %w", relPath, err)
	}

	slog.Info("remove.file", "path", relPath, "prefix", prefix, "entries", len(removed))
	return nil
}
