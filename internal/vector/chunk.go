package vector

import (
	"fmt"
	"strings"
)

// Chunk is a contiguous line range of one source file.
type Chunk struct {
	Path      string
	StartLine int // 1-based, inclusive
	EndLine   int // Inclusive
	Content   string
}

// ID identifies the chunk within a collection.
func (c Chunk) ID() string {
	return fmt.Sprintf("%s:%d-%d", c.Path, c.StartLine, c.EndLine)
}

// Text is what gets embedded: the content prefixed with its location.
func (c Chunk) Text() string {
	return fmt.Sprintf("// %s (lines %d-%d)\n%s", c.Path, c.StartLine, c.EndLine, c.Content)
}

// Split cuts text into chunks of at most lines lines. Chunks consisting only
// of whitespace are dropped.
func Split(path, text string, lines int) []Chunk {
	if lines <= 0 {
		lines = 40
	}
	all := strings.Split(strings.TrimRight(text, "\n"), "\n")

	var chunks []Chunk
	for start := 0; start < len(all); start += lines {
		end := min(start+lines, len(all))
		content := strings.Join(all[start:end], "\n")
		if strings.TrimSpace(content) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Path:      path,
			StartLine: start + 1,
			EndLine:   end,
			Content:   content,
		})
	}
	return chunks
}
