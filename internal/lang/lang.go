package lang

// Language identifies a supported programming language.
type Language string

const (
	Python     Language = "python"
	Go         Language = "go"
	JavaScript Language = "javascript"
	TypeScript Language = "typescript"
	TSX        Language = "tsx"
	Java       Language = "java"
	Rust       Language = "rust"
)

// AllLanguages returns every language with a registered spec.
func AllLanguages() []Language {
	return []Language{Python, Go, JavaScript, TypeScript, TSX, Java, Rust}
}

// LanguageSpec names the tree-sitter node kinds the pipeline cares about
// for one language, plus the marker files that make a directory a package.
type LanguageSpec struct {
	Language          Language
	FileExtensions    []string
	FunctionNodeTypes []string
	ClassNodeTypes    []string
	ModuleNodeTypes   []string
	CallNodeTypes     []string
	ImportNodeTypes   []string
	// PackageIndicators are filenames whose presence marks a directory as a
	// package root (e.g. __init__.py, go.mod).
	PackageIndicators []string
}

// registry maps file extensions to language specs.
var registry = map[string]*LanguageSpec{}

// Register adds a LanguageSpec to the global registry. Called from the
// per-language init functions.
func Register(spec *LanguageSpec) {
	for _, ext := range spec.FileExtensions {
		registry[ext] = spec
	}
}

// ForExtension returns the LanguageSpec for a file extension (e.g. ".go"),
// or nil if the extension is unsupported.
func ForExtension(ext string) *LanguageSpec {
	return registry[ext]
}

// ForLanguage returns the LanguageSpec for a language.
func ForLanguage(l Language) *LanguageSpec {
	for _, spec := range registry {
		if spec.Language == l {
			return spec
		}
	}
	return nil
}

// LanguageForExtension returns the Language for a file extension. The
// second result is false for unsupported extensions.
func LanguageForExtension(ext string) (Language, bool) {
	spec := registry[ext]
	if spec == nil {
		return "", false
	}
	return spec.Language, true
}
