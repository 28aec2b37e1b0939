package review

import (
	"path/filepath"
	"strings"
)

var extensionLanguages = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".java": "java",
	".cpp":  "cpp",
	".cc":   "cpp",
	".c":    "c",
	".go":   "go",
	".rs":   "rust",
	".rb":   "ruby",
	".php":  "php",
}

// ResolveLanguage returns the explicit language trimmed and lower-cased, or
// the language inferred from filename's extension. It returns "" when
// neither yields a language.
func ResolveLanguage(explicit, filename string) string {
	if lang := strings.ToLower(strings.TrimSpace(explicit)); lang != "" {
		return lang
	}
	return extensionLanguages[strings.ToLower(filepath.Ext(filename))]
}
