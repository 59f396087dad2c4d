package pipeline

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/repograph/repograph/internal/lang"
)

// cachedTree is a parsed syntax tree retained between the definition pass
// and the call-resolution pass.
type cachedTree struct {
	Tree     *tree_sitter.Tree
	Source   []byte
	Language lang.Language
}

// treeCache maps absolute file paths to parsed trees. Populated during the
// definition pass, read-only during call resolution, entries dropped one at
// a time when a file is removed from the index. Writes happen on the
// orchestrator goroutine only, so no locking.
type treeCache struct {
	entries map[string]*cachedTree
}

func newTreeCache() *treeCache {
	return &treeCache{entries: make(map[string]*cachedTree)}
}

func (c *treeCache) put(path string, t *cachedTree) {
	if old, ok := c.entries[path]; ok {
		old.Tree.Close()
	}
	c.entries[path] = t
}

func (c *treeCache) get(path string) (*cachedTree, bool) {
	t, ok := c.entries[path]
	return t, ok
}

func (c *treeCache) remove(path string) {
	if t, ok := c.entries[path]; ok {
		t.Tree.Close()
		delete(c.entries, path)
	}
}

func (c *treeCache) len() int {
	return len(c.entries)
}

// close releases every cached tree. The cache is reusable afterwards.
func (c *treeCache) close() {
	for _, t := range c.entries {
		t.Tree.Close()
	}
	c.entries = make(map[string]*cachedTree)
}
