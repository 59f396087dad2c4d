package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Project is a registered repository in the store.
type Project struct {
	Name      string
	IndexedAt string
	RootPath  string
}

// UpsertProject registers or refreshes a project record.
func (s *Store) UpsertProject(name, rootPath string) error {
	_, err := s.q.Exec(`
		INSERT INTO projects (name, indexed_at, root_path) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET indexed_at = excluded.indexed_at, root_path = excluded.root_path`,
		name, Now(), rootPath)
	if err != nil {
		return fmt.Errorf("upsert project %s: %w", name, err)
	}
	return nil
}

// GetProject fetches a project record. Returns nil if not found.
func (s *Store) GetProject(name string) (*Project, error) {
	var p Project
	err := s.q.QueryRow(`SELECT name, indexed_at, root_path FROM projects WHERE name = ?`, name).
		Scan(&p.Name, &p.IndexedAt, &p.RootPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns all registered projects.
func (s *Store) ListProjects() ([]*Project, error) {
	rows, err := s.q.Query(`SELECT name, indexed_at, root_path FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var projects []*Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.Name, &p.IndexedAt, &p.RootPath); err != nil {
			return nil, err
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project and, via cascade, its nodes, edges and hashes.
func (s *Store) DeleteProject(name string) error {
	_, err := s.q.Exec(`DELETE FROM projects WHERE name = ?`, name)
	return err
}

// UpsertFileHash records the content hash of a file.
func (s *Store) UpsertFileHash(project, relPath, hash string) error {
	_, err := s.q.Exec(`
		INSERT INTO file_hashes (project, rel_path, hash) VALUES (?, ?, ?)
		ON CONFLICT(project, rel_path) DO UPDATE SET hash = excluded.hash`,
		project, relPath, hash)
	return err
}

// hashesBatchSize keeps each multi-row INSERT under SQLite's default
// limit of 999 bind variables (3 columns per row).
const hashesBatchSize = 333

// UpsertFileHashBatch records content hashes in batched statements.
func (s *Store) UpsertFileHashBatch(project string, hashes map[string]string) error {
	type pair struct{ relPath, hash string }
	pairs := make([]pair, 0, len(hashes))
	for relPath, hash := range hashes {
		pairs = append(pairs, pair{relPath, hash})
	}
	for start := 0; start < len(pairs); start += hashesBatchSize {
		end := start + hashesBatchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		chunk := pairs[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO file_hashes (project, rel_path, hash) VALUES `)
		args := make([]any, 0, len(chunk)*3)
		for i, p := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?)")
			args = append(args, project, p.relPath, p.hash)
		}
		sb.WriteString(` ON CONFLICT(project, rel_path) DO UPDATE SET hash = excluded.hash`)

		if _, err := s.q.Exec(sb.String(), args...); err != nil {
			return fmt.Errorf("upsert hash batch: %w", err)
		}
	}
	return nil
}

// GetFileHashes returns all recorded file hashes for a project.
func (s *Store) GetFileHashes(project string) (map[string]string, error) {
	rows, err := s.q.Query(`SELECT rel_path, hash FROM file_hashes WHERE project = ?`, project)
	if err != nil {
		return nil, fmt.Errorf("get file hashes: %w", err)
	}
	defer rows.Close()
	hashes := map[string]string{}
	for rows.Next() {
		var relPath, hash string
		if err := rows.Scan(&relPath, &hash); err != nil {
			return nil, err
		}
		hashes[relPath] = hash
	}
	return hashes, rows.Err()
}

// DeleteFileHash removes a file's hash record.
func (s *Store) DeleteFileHash(project, relPath string) error {
	_, err := s.q.Exec(`DELETE FROM file_hashes WHERE project = ? AND rel_path = ?`, project, relPath)
	return err
}
