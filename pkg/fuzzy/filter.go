package fuzzy

import (
	"sort"
	"strings"
	"unicode"

	"github.com/bastiangx/titleserve/pkg/candidate"
)

// Filter keeps the candidates matching every query token.
// The returned matches follow the input order.
type Filter func(cands []candidate.Candidate) []candidate.Match

// distanceSteps[i] is the smallest token length allowed i+1 edits.
var distanceSteps = [...]int{3, 5, 9, 15, 25, 49}

// MaxDistance returns the edit budget of a token of n graphemes.
func MaxDistance(n int) int {
	d := 0
	for _, step := range distanceSteps {
		if n < step {
			break
		}
		d++
	}
	return d
}

// Tokenize splits a query on whitespace and underscores.
func Tokenize(query string) []string {
	return strings.FieldsFunc(query, func(r rune) bool {
		return r == '_' || unicode.IsSpace(r)
	})
}

// MakeFilter compiles query into a Filter. It returns a nil Filter and no
// error for blank queries, meaning nothing should be searched.
func MakeFilter(query string) (Filter, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	matchers := make([]*Matcher, 0, len(tokens))
	for _, tok := range tokens {
		mt, err := NewMatcher(tok)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, mt)
	}
	// Longer tokens reject more candidates, run them first.
	sort.SliceStable(matchers, func(i, j int) bool {
		return matchers[i].Len() > matchers[j].Len()
	})

	return func(cands []candidate.Candidate) []candidate.Match {
		var out []candidate.Match
		for _, c := range cands {
			if info, ok := matchAll(matchers, c.Title); ok {
				out = append(out, candidate.NewMatch(c, info))
			}
		}
		return out
	}, nil
}

type position struct {
	end  int
	dist int
}

func matchAll(matchers []*Matcher, title string) (candidate.MatchInfo, bool) {
	gs := graphemes(title)
	info := candidate.MatchInfo{Spans: make([]candidate.Span, 0, len(matchers))}

	for _, mt := range matchers {
		limit := MaxDistance(mt.Len())
		ds := mt.distances(gs)

		var alive []position
		for end := 1; end < len(ds); end++ {
			if ds[end] <= limit {
				alive = append(alive, position{end: end, dist: ds[end]})
			}
		}
		if len(alive) == 0 {
			return candidate.MatchInfo{}, false
		}
		sort.SliceStable(alive, func(i, j int) bool {
			return alive[i].dist < alive[j].dist
		})

		found := false
		for _, p := range alive {
			sp, _ := mt.span(gs, p.end, mt.Len()+p.dist)
			if overlapsAny(sp, info.Spans) {
				continue
			}
			info.Distance += p.dist
			info.Spans = append(info.Spans, sp)
			found = true
			break
		}
		if !found {
			return candidate.MatchInfo{}, false
		}
	}

	sort.Slice(info.Spans, func(i, j int) bool {
		return info.Spans[i].Start < info.Spans[j].Start
	})
	return info, true
}

func overlapsAny(sp candidate.Span, claimed []candidate.Span) bool {
	for _, c := range claimed {
		if sp.Overlaps(c) {
			return true
		}
	}
	return false
}
