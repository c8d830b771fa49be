package repo

import (
	"strings"
	"time"
)

// Checkout is a cloned repository in the task's working directory.
type Checkout struct {
	Locator string `json:"locator"` // As given by the job input
	Name    string `json:"name"`    // Directory name, unique within the task
	Path    string `json:"path"`    // Absolute path of the working tree
	Head    string `json:"head"`    // HEAD commit hash after cloning
}

// Commit is one non-merge commit of a repository's history.
type Commit struct {
	Hash        string
	AuthorName  string
	AuthorEmail string
	AuthoredAt  time.Time
	Message     string
	Added       int
	Deleted     int
	Files       []FileChange
}

// FileChange is the per-file line statistics of a commit.
type FileChange struct {
	Path    string
	Added   int
	Deleted int
	Binary  bool
}

// MatchesAuthor reports whether filter equals the author's email or name,
// ignoring case. An empty filter matches every commit.
func (c Commit) MatchesAuthor(filter string) bool {
	if filter == "" {
		return true
	}
	return strings.EqualFold(filter, c.AuthorEmail) || strings.EqualFold(filter, c.AuthorName)
}
