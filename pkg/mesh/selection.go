package mesh

import (
	"regexp"
	"sync"
)

// MatchesNameList reports whether name is selected under the given mode
// and selection list (spec §3 "Selection lists", tools & prompts match by
// exact name).
//
// Inclusion mode: empty/nil selected means nothing from this child.
// Exclusion mode: empty/nil selected means everything passes.
func MatchesNameList(name string, selected []string, mode ToolSelectionMode) bool {
	if mode == SelectionExclusion {
		if len(selected) == 0 {
			return true
		}
		for _, s := range selected {
			if s == name {
				return false
			}
		}
		return true
	}
	// inclusion
	for _, s := range selected {
		if s == name {
			return true
		}
	}
	return false
}

// ResourcePatternRegexp compiles a resource selection pattern into a
// regexp per spec §4.F: escape regex metacharacters except '*', replace
// '**' with '.*', remaining '*' with '[^/]*', anchor with '^...$'.
// An invalid pattern returns nil, never an error — matching must be
// total and never panic.
func ResourcePatternRegexp(pattern string) *regexp.Regexp {
	var b []byte
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				b = append(b, ".*"...)
				i++
			} else {
				b = append(b, "[^/]*"...)
			}
		case '.', '+', '?', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
			b = append(b, '\\', byte(r))
		default:
			b = append(b, string(r)...)
		}
	}
	re, err := regexp.Compile("^" + string(b) + "$")
	if err != nil {
		return nil
	}
	return re
}

// MatchesResourceList reports whether uri is selected under the given
// mode and list of URI patterns (spec §3, §4.F). matches is total: a
// malformed pattern never matches and never panics.
func MatchesResourceList(uri string, patterns []string, mode ToolSelectionMode) bool {
	return matchesResourceList(uri, patterns, mode, nil)
}

// ResourcePatternCache memoizes ResourcePatternRegexp by raw pattern
// string, so an aggregator matching many resource URIs against the same
// selection list per call recompiles each pattern once rather than once
// per URI (spec §4.F's matching runs inside DefaultAggregator's
// per-child fan-out, so one cache is scoped per aggregator instance).
type ResourcePatternCache struct {
	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
}

// NewResourcePatternCache builds an empty cache.
func NewResourcePatternCache() *ResourcePatternCache {
	return &ResourcePatternCache{compiled: make(map[string]*regexp.Regexp)}
}

// Get returns the compiled regexp for pattern, compiling and storing it
// on first use. A nil entry (pattern failed to compile) is cached too,
// so a malformed pattern isn't recompiled on every call either.
func (c *ResourcePatternCache) Get(pattern string) *regexp.Regexp {
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.compiled[pattern]; ok {
		return re
	}
	re := ResourcePatternRegexp(pattern)
	c.compiled[pattern] = re
	return re
}

// MatchesResourceListCached is MatchesResourceList backed by cache
// instead of compiling every pattern fresh. Passing a nil cache falls
// back to uncached compilation.
func MatchesResourceListCached(uri string, patterns []string, mode ToolSelectionMode, cache *ResourcePatternCache) bool {
	return matchesResourceList(uri, patterns, mode, cache)
}

func matchesResourceList(uri string, patterns []string, mode ToolSelectionMode, cache *ResourcePatternCache) bool {
	matchAny := func() bool {
		for _, p := range patterns {
			var re *regexp.Regexp
			if cache != nil {
				re = cache.Get(p)
			} else {
				re = ResourcePatternRegexp(p)
			}
			if re != nil && re.MatchString(uri) {
				return true
			}
		}
		return false
	}

	if mode == SelectionExclusion {
		if len(patterns) == 0 {
			return true
		}
		return !matchAny()
	}
	if len(patterns) == 0 {
		return false
	}
	return matchAny()
}
