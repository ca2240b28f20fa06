// Package candidate holds the records shared by the index, the matcher and the search pipeline.
package candidate

import (
	"sort"
	"strings"

	"github.com/rivo/uniseg"
	"golang.org/x/text/unicode/norm"
)

// Source is the per-namespace metadata of a candidate.
type Source struct {
	Icon string `msgpack:"icon,omitempty"`
	// Page is true when the namespace contains the titled page itself,
	// false when the title only exists as a link target there.
	Page      bool  `msgpack:"page"`
	UpdatedAt int64 `msgpack:"updated"`
	Refs      int   `msgpack:"refs"`
}

// Candidate is one aggregated title across all loaded namespaces.
type Candidate struct {
	Title     string            `msgpack:"title"`
	Key       string            `msgpack:"key"`
	UpdatedAt int64             `msgpack:"updated"`
	Backlinks int               `msgpack:"backlinks"`
	Sources   map[string]Source `msgpack:"sources"`
}

// Namespaces returns the namespaces the candidate appears in, sorted.
func (c *Candidate) Namespaces() []string {
	out := make([]string, 0, len(c.Sources))
	for ns := range c.Sources {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Icon returns the icon of the first namespace, in name order, whose page
// has one.
func (c *Candidate) Icon() string {
	for _, ns := range c.Namespaces() {
		if src := c.Sources[ns]; src.Page && src.Icon != "" {
			return src.Icon
		}
	}
	return ""
}

// Span is a half-open [Start, End) grapheme range inside a title.
type Span struct {
	Start int `msgpack:"s"`
	End   int `msgpack:"e"`
}

// Overlaps reports whether the two spans share at least one grapheme.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// MatchInfo describes how a query matched one candidate during one pass.
type MatchInfo struct {
	Distance int
	Spans    []Span
}

// Match pairs a candidate with its match info.
type Match struct {
	Candidate
	MatchInfo
	titleLen int
}

// NewMatch builds a Match and caches the title length used for ordering.
func NewMatch(c Candidate, info MatchInfo) Match {
	return Match{Candidate: c, MatchInfo: info, titleLen: uniseg.GraphemeClusterCount(c.Title)}
}

// Key normalizes a title into its index key: NFC, lower case, spaces as underscores.
func Key(title string) string {
	k := norm.NFC.String(title)
	k = strings.ToLower(k)
	return strings.ReplaceAll(k, " ", "_")
}

// Less orders matches by ascending distance, shorter titles first,
// then newer first, then by title for a stable total order.
func Less(a, b *Match) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	if a.titleLen != b.titleLen {
		return a.titleLen < b.titleLen
	}
	if a.UpdatedAt != b.UpdatedAt {
		return a.UpdatedAt > b.UpdatedAt
	}
	return a.Title < b.Title
}

// SortMatches sorts matches in place using Less.
func SortMatches(ms []Match) {
	sort.SliceStable(ms, func(i, j int) bool { return Less(&ms[i], &ms[j]) })
}

// MergeSorted merges two sorted slices into a new one, keeping at most limit
// entries when limit > 0. Neither input is modified.
func MergeSorted(a, b []Match, limit int) []Match {
	n := len(a) + len(b)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]Match, 0, n)
	i, j := 0, 0
	for len(out) < n {
		switch {
		case i == len(a):
			out = append(out, b[j])
			j++
		case j == len(b):
			out = append(out, a[i])
			i++
		case Less(&b[j], &a[i]):
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
		}
	}
	return out
}
