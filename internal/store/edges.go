package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// InsertEdge inserts an edge, ignoring duplicates.
func (s *Store) InsertEdge(e *Edge) error {
	_, err := s.q.Exec(`
		INSERT INTO edges (project, source_id, target_id, type, properties)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, type) DO UPDATE SET
			properties = excluded.properties`,
		e.Project, e.SourceID, e.TargetID, e.Type, marshalProps(e.Properties))
	if err != nil {
		return fmt.Errorf("insert edge %d-[%s]->%d: %w", e.SourceID, e.Type, e.TargetID, err)
	}
	return nil
}

// edgesBatchSize keeps each multi-row INSERT under SQLite's default
// limit of 999 bind variables (5 columns per row).
const edgesBatchSize = 150

// InsertEdgeBatch inserts edges in batched multi-row statements.
func (s *Store) InsertEdgeBatch(edges []*Edge) error {
	for start := 0; start < len(edges); start += edgesBatchSize {
		end := start + edgesBatchSize
		if end > len(edges) {
			end = len(edges)
		}
		chunk := edges[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO edges (project, source_id, target_id, type, properties) VALUES `)
		args := make([]any, 0, len(chunk)*5)
		for i, e := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?, ?)")
			args = append(args, e.Project, e.SourceID, e.TargetID, e.Type, marshalProps(e.Properties))
		}
		sb.WriteString(` ON CONFLICT(source_id, target_id, type) DO UPDATE SET properties = excluded.properties`)

		if _, err := s.q.Exec(sb.String(), args...); err != nil {
			return fmt.Errorf("insert edge batch: %w", err)
		}
	}
	return nil
}

// FindEdgesBySource returns all edges originating from a node.
func (s *Store) FindEdgesBySource(sourceID int64) ([]*Edge, error) {
	rows, err := s.q.Query(`
		SELECT id, project, source_id, target_id, type, properties
		FROM edges WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("find edges by source: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// FindEdgesBySourceAndType returns edges of a given type from a node.
func (s *Store) FindEdgesBySourceAndType(sourceID int64, edgeType string) ([]*Edge, error) {
	rows, err := s.q.Query(`
		SELECT id, project, source_id, target_id, type, properties
		FROM edges WHERE source_id = ? AND type = ?`, sourceID, edgeType)
	if err != nil {
		return nil, fmt.Errorf("find edges by source and type: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// FindEdgesByTargetAndType returns edges of a given type into a node.
func (s *Store) FindEdgesByTargetAndType(targetID int64, edgeType string) ([]*Edge, error) {
	rows, err := s.q.Query(`
		SELECT id, project, source_id, target_id, type, properties
		FROM edges WHERE target_id = ? AND type = ?`, targetID, edgeType)
	if err != nil {
		return nil, fmt.Errorf("find edges by target and type: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// CountEdges returns the number of edges for a project.
func (s *Store) CountEdges(project string) (int, error) {
	var n int
	err := s.q.QueryRow(`SELECT COUNT(*) FROM edges WHERE project = ?`, project).Scan(&n)
	return n, err
}

// CountEdgesByType returns edge counts grouped by type.
func (s *Store) CountEdgesByType(project string) (map[string]int, error) {
	rows, err := s.q.Query(`SELECT type, COUNT(*) FROM edges WHERE project = ? GROUP BY type`, project)
	if err != nil {
		return nil, fmt.Errorf("count edges by type: %w", err)
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

// DeleteEdgesByType removes all edges of a given type for a project.
func (s *Store) DeleteEdgesByType(project, edgeType string) error {
	_, err := s.q.Exec(`DELETE FROM edges WHERE project = ? AND type = ?`, project, edgeType)
	return err
}

// DeleteEdgesBySourceFileAndType removes edges of one type whose source
// node lives in a file. Scoping by type lets call re-resolution clear a
// file's stale CALLS edges without touching its DEFINES/IMPORTS edges.
func (s *Store) DeleteEdgesBySourceFileAndType(project, filePath, edgeType string) error {
	_, err := s.q.Exec(`
		DELETE FROM edges WHERE type = ? AND source_id IN (
			SELECT id FROM nodes WHERE project = ? AND file_path = ?
		)`, edgeType, project, filePath)
	return err
}

func scanEdges(rows *sql.Rows) ([]*Edge, error) {
	var edges []*Edge
	for rows.Next() {
		var e Edge
		var props string
		if err := rows.Scan(&e.ID, &e.Project, &e.SourceID, &e.TargetID, &e.Type, &props); err != nil {
			return nil, err
		}
		e.Properties = unmarshalProps(props)
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}
