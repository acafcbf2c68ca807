// Package unidiff splits unified diffs into per-file sections and answers
// simple questions about them (which files changed, how many lines were
// added). It does not attempt a full hunk parse.
package unidiff

import (
	"path/filepath"
	"strings"
)

// Section is the slice of a diff belonging to one file.
type Section struct {
	Path string
	Text string
}

// Sections splits a diff on "diff --git" headers. Text before the first
// header is kept as a section with an empty path.
func Sections(diff string) []Section {
	if strings.TrimSpace(diff) == "" {
		return nil
	}
	var sections []Section
	var current strings.Builder
	flush := func() {
		s := current.String()
		if strings.TrimSpace(s) != "" {
			sections = append(sections, Section{Path: pathOf(s), Text: s})
		}
		current.Reset()
	}
	for _, line := range strings.SplitAfter(diff, "\n") {
		if strings.HasPrefix(line, "diff --git") && current.Len() > 0 {
			flush()
		}
		current.WriteString(line)
	}
	flush()
	return sections
}

// Files returns the distinct post-image paths touched by the diff, in
// order of first appearance. Deleted files are reported by their old path.
func Files(diff string) []string {
	seen := make(map[string]bool)
	var files []string
	for _, sec := range Sections(diff) {
		if sec.Path == "" || seen[sec.Path] {
			continue
		}
		seen[sec.Path] = true
		files = append(files, sec.Path)
	}
	return files
}

// AddedLines counts lines added by the diff, excluding "+++" file headers.
func AddedLines(diff string) int {
	n := 0
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
			n++
		}
	}
	return n
}

// MatchesAny reports whether path matches any of the glob patterns. A
// leading "**/" matches at any depth.
func MatchesAny(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, err := filepath.Match(pattern, path); err == nil && matched {
			return true
		}
		if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
			if matched, err := filepath.Match(rest, filepath.Base(path)); err == nil && matched {
				return true
			}
			if matched, err := filepath.Match(rest, path); err == nil && matched {
				return true
			}
		}
	}
	return false
}

func pathOf(section string) string {
	var oldPath string
	for _, line := range strings.Split(section, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ b/"):
			return strings.TrimPrefix(line, "+++ b/")
		case strings.HasPrefix(line, "--- a/"):
			oldPath = strings.TrimPrefix(line, "--- a/")
		}
	}
	return oldPath
}
