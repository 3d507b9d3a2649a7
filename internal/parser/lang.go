package parser

import (
	"path/filepath"
	"strings"
)

const defaultLanguage = "text"

// languageAliases maps fence info words to a canonical language name.
var languageAliases = map[string]string{
	"swift":      "swift",
	"javascript": "javascript",
	"js":         "javascript",
	"jsx":        "javascript",
	"typescript": "typescript",
	"ts":         "typescript",
	"tsx":        "typescript",
	"python":     "python",
	"py":         "python",
	"java":       "java",
	"kotlin":     "kotlin",
	"kt":         "kotlin",
	"html":       "html",
	"htm":        "html",
	"css":        "css",
	"scss":       "scss",
	"sass":       "sass",
	"json":       "json",
	"xml":        "xml",
	"yaml":       "yaml",
	"yml":        "yaml",
	"shell":      "shell",
	"sh":         "shell",
	"bash":       "shell",
	"zsh":        "shell",
	"ruby":       "ruby",
	"rb":         "ruby",
	"go":         "go",
	"golang":     "go",
	"rust":       "rust",
	"rs":         "rust",
	"cpp":        "cpp",
	"c++":        "cpp",
	"cc":         "cpp",
	"cxx":        "cpp",
	"c":          "c",
	"h":          "c",
	"sql":        "sql",
	"markdown":   "markdown",
	"md":         "markdown",
	"toml":       "toml",
	"text":       "text",
	"txt":        "text",
	"plaintext":  "text",
}

// extensionLanguages infers a language from a file extension.
var extensionLanguages = map[string]string{
	".swift": "swift",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".py":    "python",
	".java":  "java",
	".kt":    "kotlin",
	".html":  "html",
	".htm":   "html",
	".css":   "css",
	".scss":  "scss",
	".sass":  "sass",
	".json":  "json",
	".xml":   "xml",
	".yaml":  "yaml",
	".yml":   "yaml",
	".sh":    "shell",
	".bash":  "shell",
	".rb":    "ruby",
	".go":    "go",
	".rs":    "rust",
	".cpp":   "cpp",
	".cc":    "cpp",
	".cxx":   "cpp",
	".c":     "c",
	".h":     "c",
}

// knownExtensions are accepted as file names even without a directory part.
var knownExtensions = map[string]struct{}{}

func init() {
	for ext := range extensionLanguages {
		knownExtensions[ext] = struct{}{}
	}
	for _, ext := range []string{
		".md", ".txt", ".toml", ".ini", ".cfg", ".conf", ".env", ".sql",
		".gradle", ".mod", ".sum", ".lock", ".vue", ".svelte", ".php",
		".cs", ".hpp", ".m", ".mm", ".lua", ".dart", ".scala", ".ex", ".exs",
		".proto", ".graphql", ".gql", ".csv", ".svg", ".plist", ".zsh",
		".dockerfile", ".mk", ".tf", ".r", ".pl", ".properties", ".gitignore",
	} {
		knownExtensions[ext] = struct{}{}
	}
}

// languageAlias returns the canonical language for an info word, if it is
// one.
func languageAlias(word string) (string, bool) {
	if word == "" || len(word) >= 20 {
		return "", false
	}
	lang, ok := languageAliases[strings.ToLower(word)]
	return lang, ok
}

// languageForPath infers a language from a file name.
func languageForPath(path string) string {
	if lang, ok := extensionLanguages[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return defaultLanguage
}
