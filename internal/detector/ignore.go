package detector

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-root ignore file. The detector reads it once at
// start and folds its patterns in after the configured ones, so the file can
// tighten or relax what the config excludes.
const IgnoreFileName = ".distriboxignore"

// ignoreRule is one parsed pattern. A rule containing '/' is anchored: its
// glob segments are matched against the leading segments of the relative
// path, so "build/*" covers build/out.bin and everything deeper. A bare name
// matches any single segment, so "node_modules" also excludes files inside a
// node_modules directory anywhere in the tree. A '!' prefix turns the rule
// into a re-include.
type ignoreRule struct {
	negate   bool
	anchored bool
	segs     []string
}

func parseIgnoreRule(raw string) (ignoreRule, bool) {
	var r ignoreRule

	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return r, false
	}
	if strings.HasPrefix(raw, "!") {
		r.negate = true
		raw = strings.TrimSpace(raw[1:])
		if raw == "" {
			return r, false
		}
	}

	// A trailing slash names a directory; contents are covered by segment
	// matching either way, so the slash itself carries no extra meaning.
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return r, false
	}

	r.anchored = strings.Contains(raw, "/")
	r.segs = strings.Split(raw, "/")
	for _, seg := range r.segs {
		if _, err := filepath.Match(seg, ""); err != nil {
			// Malformed glob. Dropping the rule beats ignoring nothing or
			// everything.
			return r, false
		}
	}
	return r, true
}

func (r ignoreRule) matches(segs []string) bool {
	if r.anchored {
		if len(segs) < len(r.segs) {
			return false
		}
		for i, pat := range r.segs {
			if ok, _ := filepath.Match(pat, segs[i]); !ok {
				return false
			}
		}
		return true
	}

	pat := r.segs[0]
	for _, seg := range segs {
		if ok, _ := filepath.Match(pat, seg); ok {
			return true
		}
	}
	return false
}

// IgnoreSet decides which root-relative paths never enter the event stream.
// Rules apply in order and the last matching rule wins, so a later !pattern
// can re-include a path a broader rule excluded. The ignore file itself is
// always excluded: it describes local taste and must not sync to peers.
type IgnoreSet struct {
	rules []ignoreRule
}

// NewIgnoreSet parses the raw patterns into an IgnoreSet. Blank lines,
// comments, and malformed globs are dropped.
func NewIgnoreSet(patterns []string) *IgnoreSet {
	rules := []ignoreRule{{segs: []string{IgnoreFileName}}}
	for _, raw := range patterns {
		if r, ok := parseIgnoreRule(raw); ok {
			rules = append(rules, r)
		}
	}
	return &IgnoreSet{rules: rules}
}

// Match reports whether the root-relative path is ignored. The path may use
// either separator; it is split into segments before matching.
func (s *IgnoreSet) Match(rel string) bool {
	segs := strings.Split(filepath.ToSlash(rel), "/")

	ignored := false
	for _, r := range s.rules {
		if r.matches(segs) {
			ignored = !r.negate
		}
	}
	return ignored
}

// LoadIgnoreFile reads root's ignore file and returns its raw lines. A
// missing file is not an error; an unreadable one is.
func LoadIgnoreFile(root string) ([]string, error) {
	f, err := os.Open(filepath.Join(root, IgnoreFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return lines, nil
}
