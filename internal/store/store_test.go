package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.UpsertProject("proj", "/tmp/proj"); err != nil {
		t.Fatalf("UpsertProject: %v", err)
	}
	return s
}

func TestUpsertNodeAndFind(t *testing.T) {
	s := newTestStore(t)

	id, err := s.UpsertNode(&Node{
		Project:       "proj",
		Label:         "Function",
		Name:          "foo",
		QualifiedName: "proj.pkg.foo",
		FilePath:      "pkg/mod.py",
		StartLine:     3,
		EndLine:       10,
	})
	if err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero node id")
	}

	n, err := s.FindNodeByQN("proj", "proj.pkg.foo")
	if err != nil {
		t.Fatalf("FindNodeByQN: %v", err)
	}
	if n == nil || n.Name != "foo" || n.StartLine != 3 {
		t.Fatalf("unexpected node: %+v", n)
	}

	// Upsert with the same QN updates in place, keeps the ID.
	id2, err := s.UpsertNode(&Node{
		Project:       "proj",
		Label:         "Function",
		Name:          "foo",
		QualifiedName: "proj.pkg.foo",
		FilePath:      "pkg/mod.py",
		StartLine:     5,
		EndLine:       12,
	})
	if err != nil {
		t.Fatalf("UpsertNode again: %v", err)
	}
	if id2 != id {
		t.Fatalf("expected stable id %d, got %d", id, id2)
	}
}

func TestUpsertNodeBatch(t *testing.T) {
	s := newTestStore(t)

	nodes := make([]*Node, 0, 300)
	qns := make([]string, 0, 300)
	for i := 0; i < 300; i++ {
		qn := fmt.Sprintf("proj.pkg.fn%d", i)
		nodes = append(nodes, &Node{
			Project:       "proj",
			Label:         "Function",
			Name:          "fn",
			QualifiedName: qn,
			FilePath:      "pkg/mod.py",
		})
		qns = append(qns, qn)
	}
	idMap, err := s.UpsertNodeBatch(nodes)
	if err != nil {
		t.Fatalf("UpsertNodeBatch: %v", err)
	}
	if len(idMap) != 300 {
		t.Fatalf("expected 300 mapped ids, got %d", len(idMap))
	}

	count, err := s.CountNodes("proj")
	if err != nil {
		t.Fatalf("CountNodes: %v", err)
	}
	if count != 300 {
		t.Fatalf("expected 300 nodes, got %d", count)
	}

	ids, err := s.FindNodeIDsByQNs("proj", qns)
	if err != nil {
		t.Fatalf("FindNodeIDsByQNs: %v", err)
	}
	if len(ids) != 300 {
		t.Fatalf("expected 300 ids, got %d", len(ids))
	}
}

func TestEdgesAndCascade(t *testing.T) {
	s := newTestStore(t)

	srcID, err := s.UpsertNode(&Node{Project: "proj", Label: "Function", Name: "caller", QualifiedName: "proj.a.caller", FilePath: "a.py"})
	if err != nil {
		t.Fatal(err)
	}
	dstID, err := s.UpsertNode(&Node{Project: "proj", Label: "Function", Name: "callee", QualifiedName: "proj.b.callee", FilePath: "b.py"})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.InsertEdge(&Edge{Project: "proj", SourceID: srcID, TargetID: dstID, Type: "CALLS"}); err != nil {
		t.Fatalf("InsertEdge: %v", err)
	}
	// Duplicate insert is a no-op update, not an error.
	if err := s.InsertEdge(&Edge{Project: "proj", SourceID: srcID, TargetID: dstID, Type: "CALLS"}); err != nil {
		t.Fatalf("duplicate InsertEdge: %v", err)
	}

	edges, err := s.FindEdgesBySourceAndType(srcID, "CALLS")
	if err != nil {
		t.Fatalf("FindEdgesBySourceAndType: %v", err)
	}
	if len(edges) != 1 || edges[0].TargetID != dstID {
		t.Fatalf("unexpected edges: %+v", edges)
	}

	// Deleting the target node cascades to the edge.
	if err := s.DeleteNodesByFile("proj", "b.py"); err != nil {
		t.Fatalf("DeleteNodesByFile: %v", err)
	}
	edges, err = s.FindEdgesBySource(srcID)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 0 {
		t.Fatalf("expected cascade to remove edges, got %+v", edges)
	}
}

func TestWithTransactionRollback(t *testing.T) {
	s := newTestStore(t)

	sentinel := errors.New("abort")
	err := s.WithTransaction(context.Background(), func(tx *Store) error {
		if _, err := tx.UpsertNode(&Node{Project: "proj", Label: "Module", Name: "m", QualifiedName: "proj.m"}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	n, err := s.FindNodeByQN("proj", "proj.m")
	if err != nil {
		t.Fatal(err)
	}
	if n != nil {
		t.Fatalf("expected rollback to discard node, got %+v", n)
	}
}

func TestWithTransactionCommit(t *testing.T) {
	s := newTestStore(t)

	err := s.WithTransaction(context.Background(), func(tx *Store) error {
		_, err := tx.UpsertNode(&Node{Project: "proj", Label: "Module", Name: "m", QualifiedName: "proj.m"})
		return err
	})
	if err != nil {
		t.Fatalf("WithTransaction: %v", err)
	}

	n, err := s.FindNodeByQN("proj", "proj.m")
	if err != nil {
		t.Fatal(err)
	}
	if n == nil {
		t.Fatal("expected committed node to be visible")
	}
}

func TestFileHashes(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertFileHashBatch("proj", map[string]string{
		"a.py": "h1",
		"b.py": "h2",
	}); err != nil {
		t.Fatalf("UpsertFileHashBatch: %v", err)
	}

	hashes, err := s.GetFileHashes("proj")
	if err != nil {
		t.Fatalf("GetFileHashes: %v", err)
	}
	if len(hashes) != 2 || hashes["a.py"] != "h1" {
		t.Fatalf("unexpected hashes: %v", hashes)
	}

	if err := s.DeleteFileHash("proj", "a.py"); err != nil {
		t.Fatalf("DeleteFileHash: %v", err)
	}
	hashes, err = s.GetFileHashes("proj")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := hashes["a.py"]; ok {
		t.Fatal("expected a.py hash to be removed")
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.UpsertNode(&Node{Project: "proj", Label: "Module", Name: "m", QualifiedName: "proj.m"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertFileHash("proj", "m.py", "h"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteProject("proj"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}

	count, err := s.CountNodes("proj")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected nodes gone, got %d", count)
	}
	hashes, err := s.GetFileHashes("proj")
	if err != nil {
		t.Fatal(err)
	}
	if len(hashes) != 0 {
		t.Fatalf("expected hashes gone, got %v", hashes)
	}
}

func TestListFilesForProjectSkipsStructuralNodes(t *testing.T) {
	s := newTestStore(t)

	nodes := []*Node{
		{Project: "proj", Label: "Project", Name: "proj", QualifiedName: "proj"},
		{Project: "proj", Label: "Folder", Name: "src", QualifiedName: "proj.src", FilePath: "src"},
		{Project: "proj", Label: "Package", Name: "pkg", QualifiedName: "proj.pkg", FilePath: "pkg"},
		{Project: "proj", Label: "File", Name: "app.py", QualifiedName: "proj.src.app.__file__", FilePath: "src/app.py"},
		{Project: "proj", Label: "Function", Name: "run", QualifiedName: "proj.src.app.run", FilePath: "src/app.py"},
	}
	for _, n := range nodes {
		if _, err := s.UpsertNode(n); err != nil {
			t.Fatalf("UpsertNode %s: %v", n.QualifiedName, err)
		}
	}

	files, err := s.ListFilesForProject("proj")
	if err != nil {
		t.Fatalf("ListFilesForProject: %v", err)
	}
	if len(files) != 1 || files[0] != "src/app.py" {
		t.Fatalf("expected only real file paths, got %v", files)
	}
}
