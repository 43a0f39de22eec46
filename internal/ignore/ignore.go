// Package ignore reads gitignore-style files to exclude paths from indexing.
//
// Supported syntax is a subset of gitignore: blank lines and # comments are
// skipped, a trailing slash matches directories only, a pattern containing
// a slash is anchored to the root, and a leading **/ matches at any depth.
// Negation (!) is not supported.
package ignore

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultFiles are the ignore files read from the root of an indexed tree.
var DefaultFiles = []string{".ragdocsignore", ".gitignore"}

type rule struct {
	pattern  string
	anchored bool
	dirOnly  bool
}

// Matcher reports whether a path relative to the root is ignored.
type Matcher struct {
	rules []rule
}

// Load reads the named ignore files from root. Missing files are skipped;
// a root without any yields a Matcher that ignores nothing.
func Load(root string, names ...string) (*Matcher, error) {
	if len(names) == 0 {
		names = DefaultFiles
	}
	m := &Matcher{}
	for _, name := range names {
		rules, err := parseFile(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		m.rules = append(m.rules, rules...)
	}
	return m, nil
}

// Len returns the number of rules.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}

// Match reports whether rel, a slash-separated path relative to the root,
// is ignored. A nil Matcher ignores nothing.
func (m *Matcher) Match(rel string, isDir bool) bool {
	if m == nil {
		return false
	}
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "./")
	base := path.Base(rel)
	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		target := base
		if r.anchored {
			target = rel
		}
		if ok, _ := path.Match(r.pattern, target); ok {
			return true
		}
	}
	return false
}

func parseFile(name string) ([]rule, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var rules []rule
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if r, ok := parseLine(scanner.Text()); ok {
			rules = append(rules, r)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

// parseLine parses one gitignore line. Comments, blank lines and negations
// yield false.
func parseLine(line string) (rule, bool) {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return rule{}, false
	}

	var r rule
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	line = strings.TrimPrefix(line, "**/")
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	if strings.Contains(line, "/") {
		r.anchored = true
	}
	if line == "" {
		return rule{}, false
	}
	if _, err := path.Match(line, ""); err != nil {
		return rule{}, false
	}
	r.pattern = line
	return r, true
}
