package registry

import (
	"reflect"
	"sort"
	"testing"
)

func TestNameIndexAddIdempotent(t *testing.T) {
	ix := NewNameIndex()
	ix.Add("foo", "proj.a.foo")
	ix.Add("foo", "proj.a.foo")
	ix.Add("foo", "proj.b.foo")

	got := ix.Lookup("foo")
	sort.Strings(got)
	want := []string{"proj.a.foo", "proj.b.foo"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Lookup = %v, want %v", got, want)
	}
}

func TestNameIndexDiscard(t *testing.T) {
	ix := NewNameIndex()
	ix.Add("foo", "proj.a.foo")
	ix.Add("foo", "proj.b.foo")
	ix.Add("bar", "proj.a.bar")

	ix.Discard(map[string]struct{}{
		"proj.a.foo": {},
		"proj.a.bar": {},
	})

	if got := ix.Lookup("foo"); !reflect.DeepEqual(got, []string{"proj.b.foo"}) {
		t.Errorf("foo set = %v, want [proj.b.foo]", got)
	}
	if got := ix.Lookup("bar"); got != nil {
		t.Errorf("bar set = %v, want nil (emptied sets are dropped)", got)
	}
	if ix.Len() != 1 {
		t.Errorf("Len = %d, want 1", ix.Len())
	}

	// Discarding again is a no-op.
	ix.Discard(map[string]struct{}{"proj.a.foo": {}})
	if got := ix.Lookup("foo"); !reflect.DeepEqual(got, []string{"proj.b.foo"}) {
		t.Errorf("second discard changed foo set: %v", got)
	}
}

func TestNameIndexLookupIsACopy(t *testing.T) {
	ix := NewNameIndex()
	ix.Add("foo", "proj.a.foo")
	got := ix.Lookup("foo")
	got[0] = "mutated"
	if ix.Lookup("foo")[0] != "proj.a.foo" {
		t.Fatal("mutating Lookup() result affected the index")
	}
}
