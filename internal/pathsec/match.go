package pathsec

import (
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// compiled caches glob alternatives per pattern. A nil entry marks a
// malformed pattern.
var compiled sync.Map // map[string][]glob.Glob

// Match reports whether rel matches pattern. Matching is case-insensitive.
//
//   - "*" and "?" stay within one path segment
//   - "**" crosses segments
//   - "**/x" also matches "x" at the root, "a/**/b" also matches "a/b",
//     and "a/**" also matches "a" itself
//
// A malformed pattern never matches.
func Match(pattern, rel string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	rel = strings.ToLower(strings.TrimPrefix(rel, "./"))
	for _, g := range globsFor(pattern) {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// MatchAny reports whether rel matches any pattern. An empty list matches nothing.
func MatchAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if Match(pattern, rel) {
			return true
		}
	}
	return false
}

// Valid reports whether pattern compiles.
func Valid(pattern string) bool {
	return len(globsFor(pattern)) > 0
}

func globsFor(pattern string) []glob.Glob {
	if cached, ok := compiled.Load(pattern); ok {
		return cached.([]glob.Glob)
	}
	lowered := strings.ToLower(strings.TrimPrefix(pattern, "./"))
	var globs []glob.Glob
	for _, alt := range alternatives(lowered) {
		g, err := glob.Compile(alt, '/')
		if err != nil {
			globs = nil
			break
		}
		globs = append(globs, g)
	}
	compiled.Store(pattern, globs)
	return globs
}

// alternatives expands the zero-segment readings of "**" into explicit
// patterns, since the glob engine requires the surrounding separators.
func alternatives(pattern string) []string {
	out := []string{pattern}
	seen := map[string]bool{pattern: true}
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for i := 0; i < len(out); i++ {
		p := out[i]
		if strings.HasPrefix(p, "**/") {
			add(p[3:])
		}
		if strings.HasSuffix(p, "/**") {
			add(p[:len(p)-3])
		}
		for offset := 0; ; {
			idx := strings.Index(p[offset:], "/**/")
			if idx < 0 {
				break
			}
			idx += offset
			add(p[:idx] + "/" + p[idx+4:])
			offset = idx + 1
		}
	}
	return out
}
