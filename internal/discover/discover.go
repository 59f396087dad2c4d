package discover

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/repograph/repograph/internal/lang"
)

// IgnoreDirs are directory names to skip during discovery.
var IgnoreDirs = map[string]bool{
	".cache": true, ".eggs": true, ".env": true, ".git": true,
	".gradle": true, ".hg": true, ".idea": true, ".mypy_cache": true,
	".nox": true, ".npm": true, ".pnpm-store": true, ".pytest_cache": true,
	".ruff_cache": true, ".svn": true, ".tox": true, ".venv": true,
	".vs": true, ".vscode": true, ".yarn": true, "__pycache__": true,
	"bin": true, "bower_components": true, "build": true, "coverage": true,
	"dist": true, "env": true, "htmlcov": true, "node_modules": true,
	"obj": true, "out": true, "site-packages": true, "target": true,
	"tmp": true, "vendor": true, "venv": true,
}

// IgnoreSuffixes are file suffixes to skip.
var IgnoreSuffixes = map[string]bool{
	".tmp": true, "~": true, ".pyc": true, ".pyo": true,
	".o": true, ".a": true, ".so": true, ".dll": true, ".class": true,
	".min.js": true,
}

// FileInfo represents a discovered file. Language is empty for files
// without a supported parser; those are still returned so the pipeline can
// route manifests and generic files.
type FileInfo struct {
	Path     string        // absolute path
	RelPath  string        // relative to repo root, slash-separated
	Name     string        // base name
	Language lang.Language // detected language, or "" if unsupported
}

// Options configures discovery.
type Options struct {
	// ExtraIgnoreDirs are additional directory patterns to skip, typically
	// from the repository config.
	ExtraIgnoreDirs []string
	// IgnoreFile overrides the default <repo>/.rgignore location.
	IgnoreFile string
}

// shouldSkipDir returns true if the directory should be skipped.
func shouldSkipDir(name, rel string, extraIgnore []string) bool {
	if IgnoreDirs[name] {
		return true
	}
	for _, pattern := range extraIgnore {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

// Discover walks a repository and returns every file that is not ignored.
// Source files carry their detected language; other files are returned with
// an empty Language for the caller to route.
func Discover(ctx context.Context, repoPath string, opts *Options) ([]FileInfo, error) {
	repoPath, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var extraIgnore []string
	if opts != nil {
		extraIgnore = append(extraIgnore, opts.ExtraIgnoreDirs...)
	}
	ignPath := filepath.Join(repoPath, ".rgignore")
	if opts != nil && opts.IgnoreFile != "" {
		ignPath = opts.IgnoreFile
	}
	if patterns, loadErr := loadIgnoreFile(ignPath); loadErr == nil {
		extraIgnore = append(extraIgnore, patterns...)
	}

	var files []FileInfo

	err = filepath.Walk(repoPath, func(path string, info os.FileInfo, walkErr error) error {
		// Check context cancellation periodically during the walk
		if err := ctx.Err(); err != nil {
			return err
		}

		if walkErr != nil {
			return filepath.SkipDir
		}

		rel, _ := filepath.Rel(repoPath, path)

		if info.IsDir() {
			if path != repoPath && shouldSkipDir(info.Name(), rel, extraIgnore) {
				return filepath.SkipDir
			}
			return nil
		}

		for suffix := range IgnoreSuffixes {
			if strings.HasSuffix(path, suffix) {
				return nil
			}
		}

		l, _ := lang.LanguageForExtension(filepath.Ext(path))
		files = append(files, FileInfo{
			Path:     path,
			RelPath:  filepath.ToSlash(rel),
			Name:     info.Name(),
			Language: l,
		})
		return nil
	})

	return files, err
}

func loadIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, line)
		}
	}
	return patterns, scanner.Err()
}
