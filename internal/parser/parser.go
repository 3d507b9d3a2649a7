package parser

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/sokinpui/dropin/model"
)

// jsonRecord is one element of the JSON array input form. Both field
// spellings models tend to produce are accepted.
type jsonRecord struct {
	FileName  string  `json:"fileName"`
	Path      string  `json:"path"`
	Code      *string `json:"code"`
	Content   *string `json:"content"`
	Operation string  `json:"operation"`
}

// Parse extracts file updates from a model response. It never fails: input
// that matches nothing yields an empty list.
//
// A response whose trimmed text starts with "[" and decodes as a JSON array
// is taken as-is. Anything else is scanned for fenced code blocks.
func Parse(input string) (updates []model.FileUpdate) {
	defer func() {
		if r := recover(); r != nil {
			updates = []model.FileUpdate{}
		}
	}()

	text := sanitize(input)
	if strings.TrimSpace(text) == "" {
		return []model.FileUpdate{}
	}

	if strings.HasPrefix(strings.TrimSpace(text), "[") {
		if decoded, ok := parseJSON(text); ok {
			return decoded
		}
	}

	blocks, err := ExtractCodeBlocks([]byte(text))
	if err != nil {
		return []model.FileUpdate{}
	}
	return matchBlocks(blocks)
}

func sanitize(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func parseJSON(text string) ([]model.FileUpdate, bool) {
	var records []jsonRecord
	if err := json.Unmarshal([]byte(text), &records); err != nil {
		return nil, false
	}

	updates := make([]model.FileUpdate, 0, len(records))
	for _, r := range records {
		p := r.Path
		if p == "" {
			p = r.FileName
		}
		if p == "" {
			continue
		}
		var content string
		switch {
		case r.Code != nil:
			content = *r.Code
		case r.Content != nil:
			content = *r.Content
		}
		updates = append(updates, model.FileUpdate{
			Path:      p,
			Content:   content,
			Operation: model.ParseOperation(r.Operation),
			Language:  languageForPath(p),
		})
	}
	return updates, true
}

// matchBlocks runs every variant over every block, variant by variant, so a
// higher priority convention always wins. Each block is claimed at most once
// and each path is kept at its first occurrence.
func matchBlocks(blocks []CodeBlock) []model.FileUpdate {
	updates := make([]model.FileUpdate, 0, len(blocks))
	claimed := make([]bool, len(blocks))
	seen := make(map[string]struct{})

	for _, v := range variants {
		for i, b := range blocks {
			if claimed[i] {
				continue
			}
			m, ok := v.match(b)
			if !ok {
				continue
			}
			claimed[i] = true
			if _, dup := seen[m.path]; dup {
				continue
			}
			seen[m.path] = struct{}{}
			updates = append(updates, model.FileUpdate{
				Path:      m.path,
				Content:   m.content,
				Operation: model.OpUpdate,
				Language:  m.language,
			})
		}
	}
	return updates
}

// FilterExtensions keeps updates whose extension is listed. An empty list
// keeps everything.
func FilterExtensions(updates []model.FileUpdate, extensions []string) []model.FileUpdate {
	if len(extensions) == 0 {
		return updates
	}
	kept := make([]model.FileUpdate, 0, len(updates))
	for _, u := range updates {
		if hasAllowedExtension(u.Path, extensions) {
			kept = append(kept, u)
		}
	}
	return kept
}

func hasAllowedExtension(path string, extensions []string) bool {
	ext := filepath.Ext(path)
	for _, allowedExt := range extensions {
		if ext == allowedExt {
			return true
		}
	}
	return false
}
