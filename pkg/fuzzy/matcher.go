// Package fuzzy implements approximate title matching.
//
// The Matcher is a bit-parallel edit distance matcher (Myers' bit-vector
// algorithm, in Hyyrö's formulation) for one query against arbitrary texts.
// The query is packed into a single 64-bit word, one bit per grapheme, so a
// text of n graphemes is scanned in n word operations.
//
// Filter builds on the Matcher to match whitespace separated query tokens
// against candidate titles with per-token distance budgets.
package fuzzy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bastiangx/titleserve/pkg/candidate"
	"github.com/rivo/uniseg"
)

// WordSize is the largest query length, in graphemes, a Matcher accepts.
const WordSize = 64

// ErrQueryTooLong is returned for queries that do not fit in one machine word.
var ErrQueryTooLong = errors.New("fuzzy: query exceeds word size")

// Matcher matches one query against texts.
type Matcher struct {
	query []string
	// peq has bit i set for graphemes equal to query[i].
	peq map[string]uint64
	// rpeq has bit i set for graphemes equal to the (i+1)-th-from-last query grapheme.
	rpeq map[string]uint64
	mask uint64
	high uint64
}

// NewMatcher precomputes the equality masks of query.
func NewMatcher(query string) (*Matcher, error) {
	gs := graphemes(query)
	m := len(gs)
	if m > WordSize {
		return nil, fmt.Errorf("%w: %d graphemes (max %d)", ErrQueryTooLong, m, WordSize)
	}

	mt := &Matcher{
		query: gs,
		peq:   make(map[string]uint64, m*2),
		rpeq:  make(map[string]uint64, m*2),
	}
	if m == 0 {
		return mt, nil
	}
	mt.high = 1 << (m - 1)
	mt.mask = ^uint64(0) >> (WordSize - m)

	for i, g := range gs {
		bit := uint64(1) << i
		rbit := uint64(1) << (m - 1 - i)
		for _, v := range variants(g) {
			mt.peq[v] |= bit
			mt.rpeq[v] |= rbit
		}
	}
	return mt, nil
}

// Len returns the query length in graphemes.
func (mt *Matcher) Len() int {
	return len(mt.query)
}

// Distances returns n+1 values for a text of n graphemes. Entry j is the
// smallest edit distance between the query and any substring of text that
// ends right before grapheme j. Entry 0 is always the query length.
func (mt *Matcher) Distances(text string) []int {
	return mt.distances(graphemes(text))
}

// Span returns the grapheme range of the closest alignment ending before
// grapheme end, together with its distance. Among equally close alignments
// the shortest one wins.
func (mt *Matcher) Span(text string, end int) (candidate.Span, int) {
	gs := graphemes(text)
	if end < 0 || end > len(gs) {
		return candidate.Span{}, len(mt.query)
	}
	return mt.span(gs, end, len(mt.query)+len(gs))
}

func (mt *Matcher) distances(gs []string) []int {
	m := len(mt.query)
	out := make([]int, len(gs)+1)
	if m == 0 {
		return out
	}

	score := m
	out[0] = score
	pv, mv := mt.mask, uint64(0)
	for j, g := range gs {
		eq := mt.peq[g]
		xv := eq | mv
		xh := (((eq & pv) + pv) ^ pv) | eq
		ph := mv | ^(xh | pv)
		mh := pv & xh
		if ph&mt.high != 0 {
			score++
		} else if mh&mt.high != 0 {
			score--
		}
		// Free start anywhere in the text: nothing shifted into row 0.
		ph <<= 1
		mh <<= 1
		pv = (mh | ^(xv | ph)) & mt.mask
		mv = ph & xv
		out[j+1] = score
	}
	return out
}

// span walks the text backwards from end with the reversed query masks. The
// first row is anchored (one extra edit per consumed grapheme), so after t
// steps score is the distance between the query and gs[end-t:end].
func (mt *Matcher) span(gs []string, end, window int) (candidate.Span, int) {
	m := len(mt.query)
	if m == 0 {
		return candidate.Span{Start: end, End: end}, 0
	}

	best, bestLen := m, 0
	score := m
	pv, mv := mt.mask, uint64(0)
	for t := 1; t <= end && t <= window; t++ {
		eq := mt.rpeq[gs[end-t]]
		xv := eq | mv
		xh := (((eq & pv) + pv) ^ pv) | eq
		ph := mv | ^(xh | pv)
		mh := pv & xh
		if ph&mt.high != 0 {
			score++
		} else if mh&mt.high != 0 {
			score--
		}
		ph = ph<<1 | 1
		mh <<= 1
		pv = (mh | ^(xv | ph)) & mt.mask
		mv = ph & xv
		if score < best {
			best, bestLen = score, t
		}
	}
	return candidate.Span{Start: end - bestLen, End: end}, best
}

// variants returns g with its simple case foldings.
func variants(g string) []string {
	lower, upper := strings.ToLower(g), strings.ToUpper(g)
	vs := []string{g}
	if lower != g {
		vs = append(vs, lower)
	}
	if upper != g && upper != lower {
		vs = append(vs, upper)
	}
	return vs
}

// graphemes splits s into extended grapheme clusters.
func graphemes(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, len(s))
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		out = append(out, g.Str())
	}
	return out
}
