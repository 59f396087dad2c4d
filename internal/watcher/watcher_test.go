package watcher

import (
	"testing"
	"time"
)

func TestPollInterval(t *testing.T) {
	cases := []struct {
		files int
		want  time.Duration
	}{
		{0, 1 * time.Second},
		{499, 1 * time.Second},
		{500, 2 * time.Second},
		{5000, 11 * time.Second},
		{1000000, 60 * time.Second},
	}
	for _, tc := range cases {
		if got := pollInterval(tc.files); got != tc.want {
			t.Errorf("pollInterval(%d) = %v, want %v", tc.files, got, tc.want)
		}
	}
}

func TestSnapshotsEqual(t *testing.T) {
	now := time.Now()
	a := map[string]fileSnapshot{"x.py": {modTime: now, size: 10}}

	if !snapshotsEqual(a, map[string]fileSnapshot{"x.py": {modTime: now, size: 10}}) {
		t.Error("identical snapshots compared unequal")
	}
	if snapshotsEqual(a, map[string]fileSnapshot{"x.py": {modTime: now, size: 11}}) {
		t.Error("size change not detected")
	}
	if snapshotsEqual(a, map[string]fileSnapshot{}) {
		t.Error("deletion not detected")
	}
	if snapshotsEqual(a, map[string]fileSnapshot{"x.py": {modTime: now, size: 10}, "y.py": {modTime: now, size: 1}}) {
		t.Error("addition not detected")
	}
}

func TestChangedOrAdded(t *testing.T) {
	now := time.Now()
	old := map[string]fileSnapshot{
		"a.py": {modTime: now, size: 1},
		"b.py": {modTime: now, size: 2},
	}

	// Pure deletion is not a change for re-index purposes.
	if changedOrAdded(old, map[string]fileSnapshot{"a.py": {modTime: now, size: 1}}) {
		t.Error("pure deletion should not trigger re-index")
	}
	if !changedOrAdded(old, map[string]fileSnapshot{"a.py": {modTime: now, size: 9}, "b.py": {modTime: now, size: 2}}) {
		t.Error("modification not detected")
	}
	if !changedOrAdded(old, map[string]fileSnapshot{"a.py": {modTime: now, size: 1}, "b.py": {modTime: now, size: 2}, "c.py": {modTime: now, size: 3}}) {
		t.Error("addition not detected")
	}
}
