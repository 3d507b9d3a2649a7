package parser

import (
	"path"
	"regexp"
	"strings"
)

// fenceVariant is one supported convention for naming the file a fenced
// block belongs to. Variants are tried in declaration order.
type fenceVariant int

const (
	// ```go\nmain.go\n<body>```
	variantLangFirstLine fenceVariant = iota
	// ```go\n// main.go\n<body>```, also "#" and "--" comments
	variantCommentHeader
	// ```go:main.go\n<body>```
	variantLangColonPath
	// ```\nmain.go\n<body>```
	variantBareFilename
	// `main.go` in the paragraph above the fence
	variantHint
)

func (v fenceVariant) String() string {
	switch v {
	case variantLangFirstLine:
		return "lang-first-line"
	case variantCommentHeader:
		return "comment-header"
	case variantLangColonPath:
		return "lang-colon-path"
	case variantBareFilename:
		return "bare-filename"
	case variantHint:
		return "hint"
	default:
		return "unknown"
	}
}

var variants = []fenceVariant{
	variantLangFirstLine,
	variantCommentHeader,
	variantLangColonPath,
	variantBareFilename,
	variantHint,
}

var (
	filenamePattern      = regexp.MustCompile(`^[A-Za-z0-9_@+~\-./\\]+$`)
	commentHeaderPattern = regexp.MustCompile(`^\s*(?://|#|--)\s*(?:(?i:file(?:name)?|path)\s*:\s*)?(\S+)\s*$`)
	langColonPathPattern = regexp.MustCompile(`^([A-Za-z0-9_+#.\-]+):(\S+)$`)
	pathInHintPattern    = regexp.MustCompile("`([^`\n]+)`")
)

// fenceMatch is what a variant extracts from a block.
type fenceMatch struct {
	variant  fenceVariant
	path     string
	language string
	content  string
}

// match applies the variant's rule to a block.
func (v fenceVariant) match(b CodeBlock) (fenceMatch, bool) {
	lang, _ := languageAlias(infoWord(b.Info))
	first, rest := splitFirstLine(b.Content)

	var m fenceMatch
	switch v {
	case variantLangFirstLine:
		// Any single-word tag counts; the alias table only decides whether
		// the tag also names the language.
		word := infoWord(b.Info)
		if word == "" || strings.Contains(word, ":") {
			return m, false
		}
		name := cleanPath(first)
		if !isFilename(name) && !isTaggedFilename(name) {
			return m, false
		}
		m = fenceMatch{path: name, language: lang, content: rest}

	case variantCommentHeader:
		sub := commentHeaderPattern.FindStringSubmatch(first)
		if sub == nil {
			return m, false
		}
		name := cleanPath(sub[1])
		if !isFilename(name) {
			return m, false
		}
		m = fenceMatch{path: name, language: lang, content: rest}

	case variantLangColonPath:
		sub := langColonPathPattern.FindStringSubmatch(b.Info)
		if sub == nil {
			return m, false
		}
		name := cleanPath(sub[2])
		if name == "" || len(name) >= 100 {
			return m, false
		}
		lang, _ = languageAlias(sub[1])
		m = fenceMatch{path: name, language: lang, content: b.Content}

	case variantBareFilename:
		if b.Info != "" {
			return m, false
		}
		name := cleanPath(first)
		if !isFilename(name) {
			return m, false
		}
		m = fenceMatch{path: name, content: rest}

	case variantHint:
		name := pathFromHint(b.Hint)
		if name == "" {
			return m, false
		}
		m = fenceMatch{path: name, language: lang, content: b.Content}

	default:
		return m, false
	}

	m.variant = v
	if m.language == "" {
		m.language = languageForPath(m.path)
	}
	return m, true
}

// infoWord is the first word of a fence info string.
func infoWord(info string) string {
	fields := strings.Fields(info)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func splitFirstLine(content string) (first, rest string) {
	i := strings.IndexByte(content, '\n')
	if i < 0 {
		return strings.TrimSpace(content), ""
	}
	return strings.TrimSpace(content[:i]), content[i+1:]
}

// isFilename reports whether s reads as a bare file name rather than code.
func isFilename(s string) bool {
	if s == "" || len(s) >= 100 || !strings.Contains(s, ".") {
		return false
	}
	if !filenamePattern.MatchString(s) {
		return false
	}
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(s, `\`, "/")))
	if len(ext) < 2 {
		return false
	}
	if _, ok := knownExtensions[ext]; ok {
		return true
	}
	return strings.ContainsAny(s, `/\`) && len(ext) <= 11 && isAlnum(ext[1:])
}

// isTaggedFilename accepts names with an extension outside the known set,
// such as Dockerfile.dev, when a fence tag already marks the block as a file.
func isTaggedFilename(s string) bool {
	if s == "" || len(s) >= 100 || !filenamePattern.MatchString(s) {
		return false
	}
	ext := path.Ext(strings.ReplaceAll(s, `\`, "/"))
	if len(ext) < 2 || len(ext) > 11 || !isAlnum(ext[1:]) {
		return false
	}
	// Lowercase only, with at least one letter: rules out fmt.Println and 1.5.
	return ext == strings.ToLower(ext) && strings.ContainsAny(ext, "abcdefghijklmnopqrstuvwxyz")
}

func isAlnum(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// cleanPath strips quoting around a captured path and a single leading "./".
func cleanPath(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "`'\"")
	s = strings.TrimSuffix(s, ":")
	return strings.TrimPrefix(s, "./")
}

func pathFromHint(hint string) string {
	// A path hint must be enclosed in backticks, e.g., `path/to/file.go`
	for _, sub := range pathInHintPattern.FindAllStringSubmatch(hint, -1) {
		p := cleanPath(sub[1])
		// Disallow spaces to avoid capturing commands like `go run main.go` as a path.
		if p == "" || len(p) >= 100 || strings.ContainsAny(p, " \t") {
			continue
		}
		if filenamePattern.MatchString(p) && strings.ContainsAny(p, "./") {
			return p
		}
	}
	return ""
}
