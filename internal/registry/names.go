package registry

import "sync"

// NameIndex maps a bare identifier to the set of qualified names sharing it.
// It is the reverse-lookup companion to Registry, consulted during call
// resolution when no prefix is known for a callee.
type NameIndex struct {
	mu    sync.RWMutex
	names map[string]map[string]struct{}
}

// NewNameIndex creates an empty index.
func NewNameIndex() *NameIndex {
	return &NameIndex{names: make(map[string]map[string]struct{})}
}

// Add records qn under name. Adding the same pair twice is a no-op.
func (ix *NameIndex) Add(name, qn string) {
	if name == "" || qn == "" {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	set, ok := ix.names[name]
	if !ok {
		set = make(map[string]struct{})
		ix.names[name] = set
	}
	set[qn] = struct{}{}
}

// Lookup returns a copy of the qualified names registered under name.
func (ix *NameIndex) Lookup(name string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	set := ix.names[name]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for qn := range set {
		out = append(out, qn)
	}
	return out
}

// Discard removes every qualified name in qns from every set containing one.
// Sets with no member in qns are left untouched; sets emptied by the discard
// are dropped entirely.
func (ix *NameIndex) Discard(qns map[string]struct{}) {
	if len(qns) == 0 {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for name, set := range ix.names {
		for qn := range qns {
			delete(set, qn)
		}
		if len(set) == 0 {
			delete(ix.names, name)
		}
	}
}

// Len returns the number of distinct simple names indexed.
func (ix *NameIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.names)
}
