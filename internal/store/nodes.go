package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// UpsertNode inserts or updates a node, returning its ID.
func (s *Store) UpsertNode(n *Node) (int64, error) {
	res, err := s.q.Exec(`
		INSERT INTO nodes (project, label, name, qualified_name, file_path, start_line, end_line, properties)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project, qualified_name) DO UPDATE SET
			label = excluded.label,
			name = excluded.name,
			file_path = excluded.file_path,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			properties = excluded.properties`,
		n.Project, n.Label, n.Name, n.QualifiedName, n.FilePath, n.StartLine, n.EndLine, marshalProps(n.Properties))
	if err != nil {
		return 0, fmt.Errorf("upsert node %s: %w", n.QualifiedName, err)
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		// Updated rather than inserted; fetch the existing ID.
		row := s.q.QueryRow(`SELECT id FROM nodes WHERE project = ? AND qualified_name = ?`, n.Project, n.QualifiedName)
		if err := row.Scan(&id); err != nil {
			return 0, fmt.Errorf("fetch node id %s: %w", n.QualifiedName, err)
		}
	}
	return id, nil
}

// nodesBatchSize keeps each multi-row INSERT under SQLite's default
// limit of 999 bind variables (8 columns per row).
const nodesBatchSize = 124

// UpsertNodeBatch inserts or updates nodes in batched multi-row statements
// and returns a map from qualified name to node ID.
func (s *Store) UpsertNodeBatch(nodes []*Node) (map[string]int64, error) {
	for start := 0; start < len(nodes); start += nodesBatchSize {
		end := start + nodesBatchSize
		if end > len(nodes) {
			end = len(nodes)
		}
		chunk := nodes[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO nodes (project, label, name, qualified_name, file_path, start_line, end_line, properties) VALUES `)
		args := make([]any, 0, len(chunk)*8)
		for i, n := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, n.Project, n.Label, n.Name, n.QualifiedName, n.FilePath, n.StartLine, n.EndLine, marshalProps(n.Properties))
		}
		sb.WriteString(` ON CONFLICT(project, qualified_name) DO UPDATE SET
			label = excluded.label,
			name = excluded.name,
			file_path = excluded.file_path,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			properties = excluded.properties`)

		if _, err := s.q.Exec(sb.String(), args...); err != nil {
			return nil, fmt.Errorf("upsert node batch: %w", err)
		}
	}

	qns := make([]string, 0, len(nodes))
	var project string
	for _, n := range nodes {
		project = n.Project
		qns = append(qns, n.QualifiedName)
	}
	if len(qns) == 0 {
		return map[string]int64{}, nil
	}
	return s.FindNodeIDsByQNs(project, qns)
}

// FindNodeIDsByQNs resolves qualified names to node IDs in batched queries.
func (s *Store) FindNodeIDsByQNs(project string, qns []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(qns))
	const chunkSize = 500
	for start := 0; start < len(qns); start += chunkSize {
		end := start + chunkSize
		if end > len(qns) {
			end = len(qns)
		}
		chunk := qns[start:end]

		placeholders := strings.Repeat("?,", len(chunk))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, 0, len(chunk)+1)
		args = append(args, project)
		for _, qn := range chunk {
			args = append(args, qn)
		}

		rows, err := s.q.Query(`SELECT id, qualified_name FROM nodes WHERE project = ? AND qualified_name IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("find node ids: %w", err)
		}
		for rows.Next() {
			var id int64
			var qn string
			if err := rows.Scan(&id, &qn); err != nil {
				rows.Close()
				return nil, err
			}
			ids[qn] = id
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return ids, nil
}

// FindNodeByQN finds a node by qualified name. Returns nil if not found.
func (s *Store) FindNodeByQN(project, qn string) (*Node, error) {
	row := s.q.QueryRow(`
		SELECT id, project, label, name, qualified_name, file_path, start_line, end_line, properties
		FROM nodes WHERE project = ? AND qualified_name = ?`, project, qn)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

// FindNodeByID finds a node by ID. Returns nil if not found.
func (s *Store) FindNodeByID(id int64) (*Node, error) {
	row := s.q.QueryRow(`
		SELECT id, project, label, name, qualified_name, file_path, start_line, end_line, properties
		FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

// FindNodesByName finds nodes whose simple name matches exactly.
func (s *Store) FindNodesByName(project, name string, limit int) ([]*Node, error) {
	rows, err := s.q.Query(`
		SELECT id, project, label, name, qualified_name, file_path, start_line, end_line, properties
		FROM nodes WHERE project = ? AND name = ? LIMIT ?`, project, name, limit)
	if err != nil {
		return nil, fmt.Errorf("find nodes by name: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// FindNodesByLabel finds nodes with the given label.
func (s *Store) FindNodesByLabel(project, label string, limit int) ([]*Node, error) {
	rows, err := s.q.Query(`
		SELECT id, project, label, name, qualified_name, file_path, start_line, end_line, properties
		FROM nodes WHERE project = ? AND label = ? LIMIT ?`, project, label, limit)
	if err != nil {
		return nil, fmt.Errorf("find nodes by label: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// FindNodesByFile finds all nodes recorded for a source file.
func (s *Store) FindNodesByFile(project, filePath string) ([]*Node, error) {
	rows, err := s.q.Query(`
		SELECT id, project, label, name, qualified_name, file_path, start_line, end_line, properties
		FROM nodes WHERE project = ? AND file_path = ?`, project, filePath)
	if err != nil {
		return nil, fmt.Errorf("find nodes by file: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// ListFilesForProject returns the distinct file paths recorded for a
// project. Folder, Package and Project nodes carry directory paths in
// file_path and are excluded; only paths owned by actual files qualify.
func (s *Store) ListFilesForProject(project string) ([]string, error) {
	rows, err := s.q.Query(`SELECT DISTINCT file_path FROM nodes
		WHERE project = ? AND file_path != ''
		AND label NOT IN ('Folder', 'Package', 'Project')`, project)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// CountNodes returns the number of nodes for a project.
func (s *Store) CountNodes(project string) (int, error) {
	var n int
	err := s.q.QueryRow(`SELECT COUNT(*) FROM nodes WHERE project = ?`, project).Scan(&n)
	return n, err
}

// DeleteNodesByProject removes all nodes for a project.
func (s *Store) DeleteNodesByProject(project string) error {
	_, err := s.q.Exec(`DELETE FROM nodes WHERE project = ?`, project)
	return err
}

// DeleteNodesByFile removes all nodes recorded for a source file.
// Edges referencing them go with them via ON DELETE CASCADE.
func (s *Store) DeleteNodesByFile(project, filePath string) error {
	_, err := s.q.Exec(`DELETE FROM nodes WHERE project = ? AND file_path = ?`, project, filePath)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var n Node
	var props string
	if err := row.Scan(&n.ID, &n.Project, &n.Label, &n.Name, &n.QualifiedName, &n.FilePath, &n.StartLine, &n.EndLine, &props); err != nil {
		return nil, err
	}
	n.Properties = unmarshalProps(props)
	return &n, nil
}

func scanNodes(rows *sql.Rows) ([]*Node, error) {
	var nodes []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}
