// Package analysis is the static-analysis collaborator: line statistics per
// language and the configured external analysis tools.
package analysis

import (
	"bufio"
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// languages maps source file extensions to language names.
var languages = map[string]string{
	".go":    "Go",
	".py":    "Python",
	".js":    "JavaScript",
	".jsx":   "JavaScript",
	".ts":    "TypeScript",
	".tsx":   "TypeScript",
	".java":  "Java",
	".kt":    "Kotlin",
	".rs":    "Rust",
	".c":     "C",
	".h":     "C",
	".cpp":   "C++",
	".hpp":   "C++",
	".cc":    "C++",
	".cs":    "C#",
	".rb":    "Ruby",
	".php":   "PHP",
	".swift": "Swift",
	".scala": "Scala",
	".sh":    "Shell",
	".sql":   "SQL",
}

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	"venv":         true,
	".venv":        true,
	"__pycache__":  true,
	"build":        true,
	"dist":         true,
	"target":       true,
}

// Language returns the language of a file by extension, or "" when it is
// not a recognized source file.
func Language(path string) string {
	return languages[strings.ToLower(filepath.Ext(path))]
}

// SourceFile is a source file found by Walk.
type SourceFile struct {
	Path     string // Relative to the walked root, slash-separated
	Language string
	Size     int64
}

// Walk calls fn for every recognized source file under root that is at most
// maxBytes large (0 for no limit), skipping dependency and build directories.
func Walk(ctx context.Context, root string, maxBytes int64, fn func(SourceFile) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		lang := Language(path)
		if lang == "" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if maxBytes > 0 && info.Size() > maxBytes {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return fn(SourceFile{Path: filepath.ToSlash(rel), Language: lang, Size: info.Size()})
	})
}

// LanguageStats are the line counts of one language.
type LanguageStats struct {
	Language string `json:"language"`
	Files    int    `json:"files"`
	Lines    int    `json:"lines"`
	Code     int    `json:"code"`
	Blank    int    `json:"blank"`
}

// LineStats are the line counts of a repository.
type LineStats struct {
	Files     int             `json:"files"`
	Lines     int             `json:"lines"`
	Code      int             `json:"code"`
	Blank     int             `json:"blank"`
	Languages []LanguageStats `json:"languages,omitempty"` // Most lines first
}

// CountLines walks root and counts lines per language.
func CountLines(ctx context.Context, root string, maxBytes int64) (LineStats, error) {
	byLang := make(map[string]*LanguageStats)

	err := Walk(ctx, root, maxBytes, func(f SourceFile) error {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f.Path)))
		if err != nil {
			return err
		}

		ls, ok := byLang[f.Language]
		if !ok {
			ls = &LanguageStats{Language: f.Language}
			byLang[f.Language] = ls
		}
		ls.Files++

		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 64*1024), len(data)+1)
		for scanner.Scan() {
			ls.Lines++
			if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
				ls.Blank++
			} else {
				ls.Code++
			}
		}
		return scanner.Err()
	})
	if err != nil {
		return LineStats{}, err
	}

	var stats LineStats
	for _, ls := range byLang {
		stats.Files += ls.Files
		stats.Lines += ls.Lines
		stats.Code += ls.Code
		stats.Blank += ls.Blank
		stats.Languages = append(stats.Languages, *ls)
	}
	sort.Slice(stats.Languages, func(i, j int) bool {
		a, b := stats.Languages[i], stats.Languages[j]
		if a.Lines != b.Lines {
			return a.Lines > b.Lines
		}
		return a.Language < b.Language
	})
	return stats, nil
}

// Layout lists the directories under root down to depth levels, as
// slash-separated paths with a trailing slash, sorted. Dependency, build and
// hidden directories are skipped. At most limit entries are returned (0 for
// no limit).
func Layout(ctx context.Context, root string, depth, limit int) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() || path == root {
			return nil
		}
		if skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		dirs = append(dirs, rel+"/")
		if strings.Count(rel, "/")+1 >= depth {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(dirs)
	if limit > 0 && len(dirs) > limit {
		dirs = dirs[:limit]
	}
	return dirs, nil
}
