// Package registry maintains the repository-wide name-resolution indexes:
// a prefix trie over dotted qualified names and a simple-name index mapping
// bare identifiers to the qualified names that share them.
package registry

import (
	"strings"
	"sync"
)

// Kind tags what a qualified name denotes.
type Kind string

const (
	KindFunction  Kind = "Function"
	KindMethod    Kind = "Method"
	KindClass     Kind = "Class"
	KindInterface Kind = "Interface"
	KindModule    Kind = "Module"
)

// trieNode is one segment of a qualified-name path. A node carries terminal
// markers (kind, qn) when some registered qualified name ends at it.
type trieNode struct {
	children map[string]*trieNode
	kind     Kind
	qn       string // empty on non-terminating nodes
}

// Registry indexes qualified names for exact and structural lookup.
//
// The trie is append-only: Remove deletes only the exact-map entry, never
// trie nodes. The exact map is the authoritative liveness layer — every
// query path, including trie traversal, filters against it, so removed
// entries are unreachable while their trie nodes linger. The tradeoff is
// unbounded node growth across many add/remove cycles in exchange for
// removal that costs only the removed file's own entries.
type Registry struct {
	mu    sync.RWMutex
	root  *trieNode
	exact map[string]Kind
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		root:  &trieNode{children: make(map[string]*trieNode)},
		exact: make(map[string]Kind),
	}
}

// validQN reports whether qn is a well-formed dotted qualified name:
// non-empty, no empty segments (no leading/trailing/double dots).
func validQN(qn string) bool {
	if qn == "" {
		return false
	}
	for _, seg := range strings.Split(qn, ".") {
		if seg == "" {
			return false
		}
	}
	return true
}

// Insert records kind for qn, overwriting any prior kind, and materializes
// the trie path for qn's segments. Malformed qualified names are rejected
// without mutating either layer.
func (r *Registry) Insert(qn string, kind Kind) {
	if !validQN(qn) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.exact[qn] = kind

	cur := r.root
	for _, seg := range strings.Split(qn, ".") {
		child, ok := cur.children[seg]
		if !ok {
			child = &trieNode{children: make(map[string]*trieNode)}
			cur.children[seg] = child
		}
		cur = child
	}
	cur.kind = kind
	cur.qn = qn
}

// Get returns the kind registered for qn. The second result is false for
// unknown names — a lookup miss is a defined absence, not an error.
func (r *Registry) Get(qn string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.exact[qn]
	return k, ok
}

// Contains reports whether qn is currently registered.
func (r *Registry) Contains(qn string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.exact[qn]
	return ok
}

// Remove deletes qn from the live layer. The trie path is left in place;
// structural queries filter against the live layer so the entry becomes
// unreachable anyway. Removing an unknown name is a no-op.
func (r *Registry) Remove(qn string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.exact, qn)
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.exact)
}

// Keys returns all live qualified names in unspecified order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.exact))
	for qn := range r.exact {
		keys = append(keys, qn)
	}
	return keys
}

// Items returns a copy of the live (qualified name, kind) entries.
func (r *Registry) Items() map[string]Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make(map[string]Kind, len(r.exact))
	for qn, k := range r.exact {
		items[qn] = k
	}
	return items
}

// FindWithPrefixAndSuffix returns every live qualified name under the
// dotted prefix whose name ends with "." + suffix. An empty prefix searches
// from the root; an empty suffix matches every live entry under the prefix.
// If any prefix segment is absent from the trie the result is empty.
// Result order is traversal order — callers must not depend on it.
func (r *Registry) FindWithPrefixAndSuffix(prefix, suffix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cur := r.root
	if prefix != "" {
		for _, seg := range strings.Split(prefix, ".") {
			child, ok := cur.children[seg]
			if !ok {
				return nil
			}
			cur = child
		}
	}

	var results []string
	r.collect(cur, suffix, &results)
	return results
}

// collect walks the subtree depth-first, appending live terminal names that
// satisfy the suffix constraint. Caller holds at least the read lock.
func (r *Registry) collect(n *trieNode, suffix string, out *[]string) {
	if n.qn != "" && r.matchesSuffix(n.qn, suffix) {
		if _, live := r.exact[n.qn]; live {
			*out = append(*out, n.qn)
		}
	}
	for _, child := range n.children {
		r.collect(child, suffix, out)
	}
}

func (r *Registry) matchesSuffix(qn, suffix string) bool {
	if suffix == "" {
		return true
	}
	return strings.HasSuffix(qn, "."+suffix)
}

// FindEndingWith returns every live qualified name ending with "." + suffix.
// No prefix narrows the search, so this is a scan over the live layer rather
// than a trie traversal — unconstrained suffix queries are the rare case.
func (r *Registry) FindEndingWith(suffix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	target := "." + suffix
	var results []string
	for qn := range r.exact {
		if strings.HasSuffix(qn, target) {
			results = append(results, qn)
		}
	}
	return results
}
