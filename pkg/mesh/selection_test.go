package mesh

import "testing"

func TestMatchesNameList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		toolName string
		selected []string
		mode     ToolSelectionMode
		want     bool
	}{
		{"inclusion empty means nothing", "t1", nil, SelectionInclusion, false},
		{"inclusion matches", "t1", []string{"t1", "t2"}, SelectionInclusion, true},
		{"inclusion no match", "t3", []string{"t1", "t2"}, SelectionInclusion, false},
		{"exclusion empty means everything", "t1", nil, SelectionExclusion, true},
		{"exclusion excludes named", "t1", []string{"t1"}, SelectionExclusion, false},
		{"exclusion passes unnamed", "t2", []string{"t1"}, SelectionExclusion, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := MatchesNameList(tt.toolName, tt.selected, tt.mode)
			if got != tt.want {
				t.Errorf("MatchesNameList(%q, %v, %v) = %v, want %v", tt.toolName, tt.selected, tt.mode, got, tt.want)
			}
		})
	}
}

// TestMatchesResourceList_S2 is seed scenario S2 from spec §8.
func TestMatchesResourceList_S2(t *testing.T) {
	t.Parallel()

	patterns := []string{"file:///a/**"}
	uris := []string{"file:///a/x", "file:///b/y", "file:///a/sub/z"}
	var exposed []string
	for _, u := range uris {
		if MatchesResourceList(u, patterns, SelectionInclusion) {
			exposed = append(exposed, u)
		}
	}

	want := []string{"file:///a/x", "file:///a/sub/z"}
	if len(exposed) != len(want) {
		t.Fatalf("exposed = %v, want %v", exposed, want)
	}
	for i := range want {
		if exposed[i] != want[i] {
			t.Errorf("exposed[%d] = %q, want %q", i, exposed[i], want[i])
		}
	}
}

// TestPatternMatcherRoundTrip is spec §8 invariant 8.
func TestPatternMatcherRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		uri     string
		pattern string
		want    bool
	}{
		{"file:///a/b/c.txt", "file:///a/**", true},
		{"file:///a/b/c.txt", "file:///a/*", false},
		{"file:///x", "file:///x", true},
	}
	for _, c := range cases {
		re := ResourcePatternRegexp(c.pattern)
		if re == nil {
			t.Fatalf("pattern %q failed to compile", c.pattern)
		}
		got := re.MatchString(c.uri)
		if got != c.want {
			t.Errorf("matches(%q, %q) = %v, want %v", c.uri, c.pattern, got, c.want)
		}
	}
}

func TestResourcePatternRegexp_InvalidNeverPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("ResourcePatternRegexp panicked: %v", r)
		}
	}()

	// Unbalanced-looking input that would be invalid regex if
	// metacharacters weren't escaped.
	re := ResourcePatternRegexp("file:///a/(b*")
	if re == nil {
		t.Fatal("expected a compiled regexp even for unusual input")
	}
}

func TestResourcePatternCache_ReusesCompiledRegexp(t *testing.T) {
	t.Parallel()

	cache := NewResourcePatternCache()
	first := cache.Get("file:///a/**")
	second := cache.Get("file:///a/**")
	if first != second {
		t.Fatal("expected the same *regexp.Regexp instance on repeated Get for the same pattern")
	}
}

func TestResourcePatternCache_CachesDistinctPatternsIndependently(t *testing.T) {
	t.Parallel()

	cache := NewResourcePatternCache()
	if got := cache.Get("file:///a/**"); got == nil {
		t.Fatal("expected a valid compiled pattern")
	}
	// A second distinct pattern is compiled and cached independently.
	if got := cache.Get("file:///b/*"); got == nil {
		t.Fatal("expected a valid compiled pattern")
	}
}

func TestMatchesResourceListCached_MatchesUncachedBehavior(t *testing.T) {
	t.Parallel()

	cache := NewResourcePatternCache()
	patterns := []string{"file:///a/**"}
	for _, uri := range []string{"file:///a/x", "file:///b/y"} {
		want := MatchesResourceList(uri, patterns, SelectionInclusion)
		got := MatchesResourceListCached(uri, patterns, SelectionInclusion, cache)
		if got != want {
			t.Errorf("MatchesResourceListCached(%q) = %v, want %v", uri, got, want)
		}
	}
}

func TestMatchesResourceList_ExclusionMode(t *testing.T) {
	t.Parallel()

	if !MatchesResourceList("file:///x", nil, SelectionExclusion) {
		t.Error("exclusion mode with no patterns should match everything")
	}
	if MatchesResourceList("file:///a/x", []string{"file:///a/**"}, SelectionExclusion) {
		t.Error("exclusion mode should exclude matched URIs")
	}
	if !MatchesResourceList("file:///b/x", []string{"file:///a/**"}, SelectionExclusion) {
		t.Error("exclusion mode should pass unmatched URIs")
	}
}
