package candidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func match(title string, dist int, updated int64) Match {
	return NewMatch(Candidate{Title: title, UpdatedAt: updated}, MatchInfo{Distance: dist})
}

func titles(ms []Match) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Title
	}
	return out
}

func TestKey(t *testing.T) {
	assert.Equal(t, "graph_theory", Key("Graph Theory"))
	// Composed and decomposed forms share a key.
	assert.Equal(t, Key("Caf\u00e9"), Key("Cafe\u0301"))
	assert.Equal(t, "", Key(""))
}

func TestSortMatches(t *testing.T) {
	ms := []Match{
		match("alphx", 1, 9),
		match("alpha old", 0, 1),
		match("alpha", 0, 0),
		match("alpha new", 0, 2),
		match("alpha bee", 0, 2),
	}
	SortMatches(ms)
	assert.Equal(t, []string{"alpha", "alpha bee", "alpha new", "alpha old", "alphx"}, titles(ms))
}

func TestLengthCountsGraphemes(t *testing.T) {
	// Five graphemes, six code points.
	decomposed := match("cafe\u0301s", 0, 0)
	plain := match("cafess", 0, 0)
	assert.True(t, Less(&decomposed, &plain))
}

func TestMergeSorted(t *testing.T) {
	a := []Match{match("a", 0, 0), match("ccc", 1, 0)}
	b := []Match{match("bb", 0, 0), match("dddd", 2, 0)}

	assert.Equal(t, []string{"a", "bb", "ccc", "dddd"}, titles(MergeSorted(a, b, 0)))
	assert.Equal(t, []string{"a", "bb"}, titles(MergeSorted(a, b, 2)))
	assert.Equal(t, []string{"a", "ccc"}, titles(MergeSorted(a, nil, 0)))
	assert.Empty(t, MergeSorted(nil, nil, 3))
	assert.Len(t, a, 2)
}

func TestNamespacesAndIcon(t *testing.T) {
	c := Candidate{Sources: map[string]Source{
		"wiki":  {Page: true, Icon: "W"},
		"notes": {Page: false, Refs: 2},
		"blog":  {Page: true},
	}}
	assert.Equal(t, []string{"blog", "notes", "wiki"}, c.Namespaces())
	assert.Equal(t, "W", c.Icon())
	assert.Equal(t, "", (&Candidate{}).Icon())
}

func TestSpanOverlaps(t *testing.T) {
	assert.True(t, Span{0, 3}.Overlaps(Span{2, 5}))
	assert.False(t, Span{0, 3}.Overlaps(Span{3, 5}))
	assert.False(t, Span{4, 5}.Overlaps(Span{0, 4}))
}
