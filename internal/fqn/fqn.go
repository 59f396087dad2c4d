package fqn

import (
	"path/filepath"
	"strings"
)

// Compute returns the canonical qualified name for a definition.
// Format: <project>.<rel_path_parts_dotted>.<name>
// Examples:
//   - myproject.cmd.server.main.HandleRequest
//   - myproject.pkg.service.ProcessOrder
func Compute(project, relPath, name string) string {
	ext := strings.ToLower(filepath.Ext(relPath))
	relPath = strings.TrimSuffix(relPath, filepath.Ext(relPath))
	// Convert path separators to dots
	parts := strings.Split(filepath.ToSlash(relPath), "/")

	// Python package initializers name the package, not a module
	if len(parts) > 0 && parts[len(parts)-1] == "__init__" {
		parts = parts[:len(parts)-1]
	}
	// JS/TS index files likewise name the directory. Only for those
	// extensions: index.py or index.go is an ordinary module.
	if len(parts) > 0 && parts[len(parts)-1] == "index" && jsFamilyExts[ext] {
		parts = parts[:len(parts)-1]
	}

	all := append([]string{project}, parts...)
	if name != "" {
		all = append(all, name)
	}
	return strings.Join(all, ".")
}

// jsFamilyExts are the extensions whose index files resolve to the
// containing directory's namespace.
var jsFamilyExts = map[string]bool{
	".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".mjs": true, ".cjs": true,
}

// ModuleQN returns the qualified name for a module (file without member name).
func ModuleQN(project, relPath string) string {
	return Compute(project, relPath, "")
}

// ModulePrefix returns the qualified-name prefix a file owns. Every
// definition registered from relPath has a qualified name equal to the
// prefix or starting with prefix + ".". Used to scope incremental removal.
func ModulePrefix(project, relPath string) string {
	return ModuleQN(project, relPath)
}

// Owns reports whether qn belongs to the namespace rooted at prefix.
// The match respects dot boundaries: prefix "a.b" owns "a.b" and "a.b.c"
// but never "a.bc.d".
func Owns(prefix, qn string) bool {
	if qn == prefix {
		return true
	}
	return strings.HasPrefix(qn, prefix+".")
}

// FolderQN returns the qualified name for a folder.
func FolderQN(project, relDir string) string {
	parts := strings.Split(filepath.ToSlash(relDir), "/")
	all := append([]string{project}, parts...)
	return strings.Join(all, ".")
}

// SimpleName extracts the last dot-separated segment of a qualified name.
func SimpleName(qn string) string {
	if idx := strings.LastIndex(qn, "."); idx >= 0 {
		return qn[idx+1:]
	}
	return qn
}

// Parent returns the qualified name one segment above qn, or qn itself
// if it has a single segment. e.g. "proj.pkg.mod.Class" -> "proj.pkg.mod".
func Parent(qn string) string {
	if idx := strings.LastIndex(qn, "."); idx >= 0 {
		return qn[:idx]
	}
	return qn
}
