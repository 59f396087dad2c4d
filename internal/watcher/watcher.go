// Package watcher polls indexed repositories for file changes and drives
// re-indexing and incremental removal.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/repograph/repograph/internal/discover"
	"github.com/repograph/repograph/internal/store"
)

const (
	baseInterval = 1 * time.Second
	maxInterval  = 60 * time.Second
)

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

type projectState struct {
	snapshot map[string]fileSnapshot
	interval time.Duration
	nextPoll time.Time
}

// IndexFunc triggers a (re-)index of a repository.
type IndexFunc func(ctx context.Context, projectName, rootPath string) error

// RemoveFunc removes one deleted file from the index state.
type RemoveFunc func(ctx context.Context, projectName, rootPath, absPath string) error

// Watcher polls every registered project for file changes.
type Watcher struct {
	store    *store.Store
	indexFn  IndexFunc
	removeFn RemoveFunc
	projects map[string]*projectState
	ctx      context.Context
}

// New creates a Watcher. indexFn runs when files change or appear;
// removeFn runs for each file that disappeared since the last poll.
func New(s *store.Store, indexFn IndexFunc, removeFn RemoveFunc) *Watcher {
	return &Watcher{
		store:    s,
		indexFn:  indexFn,
		removeFn: removeFn,
		projects: make(map[string]*projectState),
	}
}

// Run blocks until ctx is cancelled. Ticks at baseInterval, polling each
// project only when its adaptive interval has elapsed.
func (w *Watcher) Run(ctx context.Context) {
	w.ctx = ctx
	ticker := time.NewTicker(baseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollAll()
		}
	}
}

func (w *Watcher) pollAll() {
	projects, err := w.store.ListProjects()
	if err != nil {
		slog.Warn("watcher.list_projects", "err", err)
		return
	}

	now := time.Now()
	for _, proj := range projects {
		state, exists := w.projects[proj.Name]
		if !exists {
			state = &projectState{}
			w.projects[proj.Name] = state
		}
		if exists && now.Before(state.nextPoll) {
			continue
		}
		w.pollProject(proj, state)
	}
}

// pollProject captures a snapshot of the file tree and compares it with
// the previous one. The first poll captures a baseline without indexing.
func (w *Watcher) pollProject(proj *store.Project, state *projectState) {
	if _, err := os.Stat(proj.RootPath); err != nil {
		slog.Warn("watcher.root_gone", "project", proj.Name, "path", proj.RootPath)
		state.nextPoll = time.Now().Add(maxInterval)
		return
	}

	snap, err := captureSnapshot(proj.RootPath)
	if err != nil {
		slog.Warn("watcher.snapshot", "project", proj.Name, "err", err)
		state.nextPoll = time.Now().Add(state.interval)
		return
	}

	interval := pollInterval(len(snap))

	if state.snapshot == nil {
		slog.Debug("watcher.baseline", "project", proj.Name, "files", len(snap))
		state.snapshot = snap
		state.interval = interval
		state.nextPoll = time.Now().Add(interval)
		return
	}

	if snapshotsEqual(state.snapshot, snap) {
		state.interval = interval
		state.nextPoll = time.Now().Add(interval)
		return
	}

	// Deleted files first: surgical removal, no full re-scan needed for them.
	for relPath := range state.snapshot {
		if _, ok := snap[relPath]; ok {
			continue
		}
		absPath := filepath.Join(proj.RootPath, filepath.FromSlash(relPath))
		if err := w.removeFn(w.ctx, proj.Name, proj.RootPath, absPath); err != nil {
			slog.Warn("watcher.remove", "project", proj.Name, "file", relPath, "err", err)
		}
	}

	if changedOrAdded(state.snapshot, snap) {
		slog.Info("watcher.changed", "project", proj.Name, "files", len(snap))
		if err := w.indexFn(w.ctx, proj.Name, proj.RootPath); err != nil {
			slog.Warn("watcher.index", "project", proj.Name, "err", err)
			// Keep the old snapshot so the next cycle retries.
			state.nextPoll = time.Now().Add(interval)
			return
		}
	}

	state.snapshot = snap
	state.interval = pollInterval(len(snap))
	state.nextPoll = time.Now().Add(state.interval)
}

func captureSnapshot(rootPath string) (map[string]fileSnapshot, error) {
	files, err := discover.Discover(context.Background(), rootPath, nil)
	if err != nil {
		return nil, err
	}

	snap := make(map[string]fileSnapshot, len(files))
	for _, f := range files {
		info, statErr := os.Stat(f.Path)
		if statErr != nil {
			continue
		}
		snap[f.RelPath] = fileSnapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
		}
	}
	return snap, nil
}

func snapshotsEqual(a, b map[string]fileSnapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for path, aSnap := range a {
		bSnap, ok := b[path]
		if !ok {
			return false
		}
		if !aSnap.modTime.Equal(bSnap.modTime) || aSnap.size != bSnap.size {
			return false
		}
	}
	return true
}

// changedOrAdded reports whether the new snapshot has any file that is new
// or differs from the old snapshot. Pure deletions are handled separately.
func changedOrAdded(old, cur map[string]fileSnapshot) bool {
	for path, curSnap := range cur {
		oldSnap, ok := old[path]
		if !ok {
			return true
		}
		if !oldSnap.modTime.Equal(curSnap.modTime) || oldSnap.size != curSnap.size {
			return true
		}
	}
	return false
}

// pollInterval computes the adaptive interval from file count:
// 1s base + 1s per 500 files, capped at 60s.
func pollInterval(fileCount int) time.Duration {
	ms := 1000 + (fileCount/500)*1000
	if ms > 60000 {
		ms = 60000
	}
	return time.Duration(ms) * time.Millisecond
}
