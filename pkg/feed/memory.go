package feed

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Feed. Writes are published synchronously to the
// subscribers of the written namespace.
type Memory struct {
	mu     sync.RWMutex
	pages  map[string]map[string]Link // namespace -> title -> link
	subs   map[int]subscription
	nextID int
}

type subscription struct {
	namespaces map[string]struct{}
	onDiff     func(Diff)
}

// NewMemory returns an empty in-memory feed.
func NewMemory() *Memory {
	return &Memory{
		pages: make(map[string]map[string]Link),
		subs:  make(map[int]subscription),
	}
}

// Load implements Feed.
func (m *Memory) Load(ctx context.Context, namespaces []string) ([]Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Link
	for _, ns := range namespaces {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		titles := make([]string, 0, len(m.pages[ns]))
		for t := range m.pages[ns] {
			titles = append(titles, t)
		}
		sort.Strings(titles)
		for _, t := range titles {
			out = append(out, m.pages[ns][t])
		}
	}
	return out, nil
}

// Subscribe implements Feed.
func (m *Memory) Subscribe(namespaces []string, onDiff func(Diff)) (func(), error) {
	set := make(map[string]struct{}, len(namespaces))
	for _, ns := range namespaces {
		set[ns] = struct{}{}
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = subscription{namespaces: set, onDiff: onDiff}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}, nil
}

// Put adds or replaces a page and publishes the change.
func (m *Memory) Put(l Link) {
	m.mu.Lock()
	pages := m.pages[l.Namespace]
	if pages == nil {
		pages = make(map[string]Link)
		m.pages[l.Namespace] = pages
	}
	before, exists := pages[l.Title]
	pages[l.Title] = l
	m.mu.Unlock()

	if exists {
		m.Publish(l.Namespace, Diff{Updated: []Update{{Before: before, After: l}}})
	} else {
		m.Publish(l.Namespace, Diff{Added: []Link{l}})
	}
}

// Delete removes a page and publishes the change.
func (m *Memory) Delete(namespace, title string) bool {
	m.mu.Lock()
	l, ok := m.pages[namespace][title]
	if ok {
		delete(m.pages[namespace], title)
	}
	m.mu.Unlock()

	if ok {
		m.Publish(namespace, Diff{Deleted: []Link{l}})
	}
	return ok
}

// Publish delivers d to every subscriber of namespace.
func (m *Memory) Publish(namespace string, d Diff) {
	m.mu.RLock()
	var targets []func(Diff)
	for _, s := range m.subs {
		if _, ok := s.namespaces[namespace]; ok {
			targets = append(targets, s.onDiff)
		}
	}
	m.mu.RUnlock()

	for _, fn := range targets {
		fn(d)
	}
}
