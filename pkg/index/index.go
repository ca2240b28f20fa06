// Package index maintains the in-memory candidate index.
//
// Candidates are keyed by candidate.Key(title) in a patricia trie. The index
// merges add/update/delete events from several namespaces and keeps per
// namespace page state and reference counts, so that events may arrive
// repeatedly or out of order without corrupting backlink counts.
//
// An Index is not safe for concurrent writers. Stored candidates are never
// mutated in place: every write replaces the entry with a fresh copy, which
// keeps slices returned by Snapshot immutable.
package index

import (
	"github.com/bastiangx/titleserve/pkg/candidate"
	"github.com/bastiangx/titleserve/pkg/feed"
	"github.com/tchap/go-patricia/v2/patricia"
)

// Index maps title keys to aggregated candidates.
type Index struct {
	trie *patricia.Trie
	size int
	snap []candidate.Candidate
}

// New returns an empty index.
func New() *Index {
	return &Index{trie: patricia.NewTrie()}
}

// Len returns the number of candidates.
func (x *Index) Len() int {
	return x.size
}

// Get returns the candidate for title.
func (x *Index) Get(title string) (candidate.Candidate, bool) {
	c := x.get(candidate.Key(title))
	if c == nil {
		return candidate.Candidate{}, false
	}
	return *c, true
}

// Snapshot returns all candidates in key order. The slice is shared between
// callers until the next write and must not be modified.
func (x *Index) Snapshot() []candidate.Candidate {
	if x.snap != nil {
		return x.snap
	}
	out := make([]candidate.Candidate, 0, x.size)
	_ = x.trie.Visit(func(_ patricia.Prefix, item patricia.Item) error {
		out = append(out, *item.(*candidate.Candidate))
		return nil
	})
	x.snap = out
	return out
}

// Prefix returns the candidates whose key starts with the key of prefix.
func (x *Index) Prefix(prefix string) []candidate.Candidate {
	var out []candidate.Candidate
	_ = x.trie.VisitSubtree(patricia.Prefix(candidate.Key(prefix)), func(_ patricia.Prefix, item patricia.Item) error {
		out = append(out, *item.(*candidate.Candidate))
		return nil
	})
	return out
}

// AddLink records the page l and one reference for each title it links to.
// Events not newer than what the namespace already holds for the page are
// ignored. It reports whether the index changed.
func (x *Index) AddLink(l feed.Link) bool {
	key := candidate.Key(l.Title)
	if key == "" {
		return false
	}
	ts := timestamp(l.UpdatedAt)

	cur := x.get(key)
	if cur != nil {
		// Newest wins per (title, namespace) source, not per title.
		if src, ok := cur.Sources[l.Namespace]; ok && src.Page && src.UpdatedAt >= ts {
			return false
		}
	}

	next := clone(cur, key, l.Title)
	src := next.Sources[l.Namespace]
	src.Page = true
	src.UpdatedAt = ts
	src.Icon = l.Icon
	next.Sources[l.Namespace] = src
	if ts >= next.UpdatedAt {
		next.Title = l.Title
	}
	x.put(next)

	for _, target := range targets(key, l.Links) {
		x.reference(target, l.Namespace, 1)
	}
	return true
}

// DeleteLink removes the page l and the references it held. Nothing happens
// when the namespace holds a newer version of the page.
func (x *Index) DeleteLink(l feed.Link) bool {
	key := candidate.Key(l.Title)
	cur := x.get(key)
	if cur == nil {
		return false
	}
	src, ok := cur.Sources[l.Namespace]
	if !ok || !src.Page || src.UpdatedAt > timestamp(l.UpdatedAt) {
		return false
	}

	next := clone(cur, key, l.Title)
	src.Page = false
	src.UpdatedAt = 0
	src.Icon = ""
	if src.Refs > 0 {
		next.Sources[l.Namespace] = src
	} else {
		delete(next.Sources, l.Namespace)
	}
	x.put(next)

	for _, target := range targets(key, l.Links) {
		x.reference(target, l.Namespace, -1)
	}
	return true
}

// ApplyDiff merges d. Updates are applied as a delete of the old version
// followed by an add of the new one, so the old timestamp guards the removal.
func (x *Index) ApplyDiff(d feed.Diff) bool {
	changed := false
	for _, l := range d.Added {
		changed = x.AddLink(l) || changed
	}
	for _, u := range d.Updated {
		changed = x.DeleteLink(u.Before) || changed
		changed = x.AddLink(u.After) || changed
	}
	for _, l := range d.Deleted {
		changed = x.DeleteLink(l) || changed
	}
	return changed
}

// reference adjusts the reference count of title in namespace ns by delta,
// creating a placeholder candidate when needed.
func (x *Index) reference(title, ns string, delta int) {
	key := candidate.Key(title)
	cur := x.get(key)
	if cur == nil && delta < 0 {
		return
	}

	next := clone(cur, key, title)
	src, ok := next.Sources[ns]
	if !ok && delta < 0 {
		return
	}
	src.Refs += delta
	if src.Refs < 0 {
		src.Refs = 0
	}
	if src.Refs == 0 && !src.Page {
		delete(next.Sources, ns)
	} else {
		next.Sources[ns] = src
	}
	x.put(next)
}

func (x *Index) get(key string) *candidate.Candidate {
	item := x.trie.Get(patricia.Prefix(key))
	if item == nil {
		return nil
	}
	return item.(*candidate.Candidate)
}

// put stores c, or removes it when no namespace refers to it any more.
func (x *Index) put(c *candidate.Candidate) {
	x.snap = nil
	if len(c.Sources) == 0 {
		if x.trie.Delete(patricia.Prefix(c.Key)) {
			x.size--
		}
		return
	}

	c.Backlinks, c.UpdatedAt = 0, 0
	for _, src := range c.Sources {
		c.Backlinks += src.Refs
		if src.Page && src.UpdatedAt > c.UpdatedAt {
			c.UpdatedAt = src.UpdatedAt
		}
	}
	if x.trie.Get(patricia.Prefix(c.Key)) == nil {
		x.size++
	}
	x.trie.Set(patricia.Prefix(c.Key), c)
}

// clone copies cur, or starts a new candidate for title.
func clone(cur *candidate.Candidate, key, title string) *candidate.Candidate {
	if cur == nil {
		return &candidate.Candidate{
			Title:   title,
			Key:     key,
			Sources: make(map[string]candidate.Source, 1),
		}
	}
	next := *cur
	next.Sources = make(map[string]candidate.Source, len(cur.Sources)+1)
	for ns, src := range cur.Sources {
		next.Sources[ns] = src
	}
	return &next
}

// targets de-duplicates link titles by key and drops self references.
func targets(self string, links []string) []string {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, t := range links {
		k := candidate.Key(t)
		if k == "" || k == self {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out
}

// timestamp treats missing or invalid timestamps as 0.
func timestamp(ts int64) int64 {
	if ts < 0 {
		return 0
	}
	return ts
}
