package archive

import (
	"bufio"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Rule is one parsed line of a .knotignore file (or a default pattern).
type Rule struct {
	pattern   string
	dirOnly   bool
	extension string // set when pattern is a bare "*.ext" glob
}

// DefaultRules is the built-in ignore set from spec.md §6, applied even
// when the package has no .knotignore.
var DefaultRules = Rules([]string{
	"*.tar.gz",
	"*.tgz",
	".knotignore",
	".git/",
	"node_modules/",
	"target/",
	".DS_Store",
	"Thumbs.db",
	"*.tmp",
	"*.temp",
	".env",
	".env.local",
})

// Rules parses a slice of pattern lines (as found directly in a
// .knotignore file, sans comments/blanks) into matchable Rule values.
func Rules(lines []string) []Rule {
	out := make([]Rule, 0, len(lines))
	for _, line := range lines {
		if r, ok := parseRule(line); ok {
			out = append(out, r)
		}
	}
	return out
}

func parseRule(line string) (Rule, bool) {
	line = strings.TrimRight(line, "\r\n")
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Rule{}, false
	}
	r := Rule{pattern: trimmed}
	if strings.HasSuffix(trimmed, "/") {
		r.dirOnly = true
		r.pattern = strings.TrimSuffix(trimmed, "/")
	}
	if strings.HasPrefix(r.pattern, "*.") && !strings.ContainsAny(r.pattern[2:], "*/") {
		r.extension = r.pattern[1:] // keep the leading dot: ".ext"
	}
	return r, true
}

// LoadRules reads srcDir/.knotignore if present and merges it with
// DefaultRules; a missing or unreadable file silently falls back to
// defaults, matching the resilience of hashicorp-go-slug's
// parseIgnoreFile.
func LoadRules(srcDir string) []Rule {
	f, err := os.Open(filepath.Join(srcDir, ".knotignore"))
	if err != nil {
		return DefaultRules
	}
	defer f.Close()

	custom := parseIgnoreReader(f)
	return append(append([]Rule{}, DefaultRules...), custom...)
}

func parseIgnoreReader(r io.Reader) []Rule {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return Rules(lines)
}

// Match reports whether relPath (forward-slash or OS-separated, a
// directory or not) is excluded by any rule. Matching is attempted against
// both the full relative path and the basename, per spec.md §4.6.
func Match(relPath string, isDir bool, rules []Rule) bool {
	slashPath := filepath.ToSlash(relPath)
	base := path.Base(slashPath)

	for _, r := range rules {
		if r.dirOnly && !isDir {
			continue
		}
		if r.extension != "" {
			if strings.HasSuffix(base, r.extension) {
				return true
			}
			continue
		}
		if matched, _ := path.Match(r.pattern, slashPath); matched {
			return true
		}
		if matched, _ := path.Match(r.pattern, base); matched {
			return true
		}
	}
	return false
}
