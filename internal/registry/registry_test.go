package registry

import (
	"reflect"
	"sort"
	"testing"
)

func sorted(ss []string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}

func TestInsertOverwrites(t *testing.T) {
	r := New()
	r.Insert("proj.pkg.mod.foo", KindFunction)
	r.Insert("proj.pkg.mod.foo", KindMethod)

	kind, ok := r.Get("proj.pkg.mod.foo")
	if !ok || kind != KindMethod {
		t.Fatalf("Get = (%v, %v), want (Method, true)", kind, ok)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}

func TestInsertRejectsMalformed(t *testing.T) {
	r := New()
	for _, qn := range []string{"", ".", "a..b", ".a", "a."} {
		r.Insert(qn, KindFunction)
	}
	if r.Len() != 0 {
		t.Fatalf("malformed inserts registered %d entries", r.Len())
	}
	if got := r.FindWithPrefixAndSuffix("", ""); len(got) != 0 {
		t.Fatalf("trie polluted by malformed inserts: %v", got)
	}
}

func TestPrefixIsolation(t *testing.T) {
	r := New()
	r.Insert("a.b.c", KindFunction)
	r.Insert("a.bc.d", KindFunction)

	got := r.FindWithPrefixAndSuffix("a.b", "c")
	if !reflect.DeepEqual(got, []string{"a.b.c"}) {
		t.Fatalf("FindWithPrefixAndSuffix(a.b, c) = %v, want [a.b.c]", got)
	}
	if got := r.FindWithPrefixAndSuffix("a.x", "c"); got != nil {
		t.Fatalf("absent prefix returned %v", got)
	}
}

func TestSuffixRequiresDotBoundary(t *testing.T) {
	r := New()
	r.Insert("pkg.foo", KindFunction)
	r.Insert("pkg.barfoo", KindFunction)

	if got := sorted(r.FindEndingWith("foo")); !reflect.DeepEqual(got, []string{"pkg.foo"}) {
		t.Fatalf("FindEndingWith(foo) = %v, want [pkg.foo]", got)
	}
	if got := sorted(r.FindWithPrefixAndSuffix("pkg", "foo")); !reflect.DeepEqual(got, []string{"pkg.foo"}) {
		t.Fatalf("FindWithPrefixAndSuffix(pkg, foo) = %v, want [pkg.foo]", got)
	}
}

func TestEmptyPrefixAndSuffix(t *testing.T) {
	r := New()
	r.Insert("a.b", KindFunction)
	r.Insert("c.d.e", KindClass)

	got := sorted(r.FindWithPrefixAndSuffix("", ""))
	want := []string{"a.b", "c.d.e"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("root search = %v, want %v", got, want)
	}
}

func TestRemoveHidesFromAllQueries(t *testing.T) {
	r := New()
	r.Insert("proj.mod.foo", KindFunction)
	r.Insert("proj.mod.bar", KindFunction)
	r.Remove("proj.mod.foo")

	if r.Contains("proj.mod.foo") {
		t.Error("removed entry still Contains-true")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
	for _, qn := range r.Keys() {
		if qn == "proj.mod.foo" {
			t.Error("removed entry still in Keys")
		}
	}
	// Trie nodes persist, but traversal must filter against the live layer.
	if got := sorted(r.FindWithPrefixAndSuffix("proj.mod", "")); !reflect.DeepEqual(got, []string{"proj.mod.bar"}) {
		t.Errorf("trie query returned stale entry: %v", got)
	}
	if got := r.FindEndingWith("foo"); len(got) != 0 {
		t.Errorf("suffix scan returned stale entry: %v", got)
	}

	// Removing again is a no-op.
	r.Remove("proj.mod.foo")
	if r.Len() != 1 {
		t.Errorf("double remove changed Len to %d", r.Len())
	}
}

func TestReinsertAfterRemove(t *testing.T) {
	r := New()
	r.Insert("p.m.f", KindFunction)
	r.Remove("p.m.f")
	r.Insert("p.m.f", KindMethod)

	kind, ok := r.Get("p.m.f")
	if !ok || kind != KindMethod {
		t.Fatalf("Get after reinsert = (%v, %v)", kind, ok)
	}
	if got := r.FindWithPrefixAndSuffix("p.m", "f"); !reflect.DeepEqual(got, []string{"p.m.f"}) {
		t.Fatalf("trie query after reinsert = %v", got)
	}
}

func TestItemsIsACopy(t *testing.T) {
	r := New()
	r.Insert("a.b", KindFunction)
	items := r.Items()
	delete(items, "a.b")
	if !r.Contains("a.b") {
		t.Fatal("mutating Items() result affected the registry")
	}
}
