/*
Package engine wires the candidate index, the change feed and the search
pipeline together.

An Engine owns exactly one index. LoadIndex (re)builds it from a feed for a
set of namespaces and keeps it current from the feed's diffs; Search runs a
query over an immutable snapshot taken when the search starts, so index
writes during a running search only show up in the next one.

	eng := engine.New(store, engine.DefaultOptions())
	n, err := eng.LoadIndex(ctx, []string{"notes", "wiki"})
	results, err := eng.Search(ctx, "grph notes", 0)
	for r := range results {
		// r.Matches is sorted, r.Progress reaches 1 on the last batch
	}

Runner adapts Search to session.Session, accumulating batches and flushing
progress at most once per Options.ProgressFlushInterval.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bastiangx/titleserve/internal/logger"
	"github.com/bastiangx/titleserve/pkg/candidate"
	"github.com/bastiangx/titleserve/pkg/feed"
	"github.com/bastiangx/titleserve/pkg/fuzzy"
	"github.com/bastiangx/titleserve/pkg/index"
	"github.com/bastiangx/titleserve/pkg/search"
	"github.com/bastiangx/titleserve/pkg/session"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrNotLoaded is returned by Search before the first successful LoadIndex.
var ErrNotLoaded = errors.New("engine: index not loaded")

// Options tune searches.
type Options struct {
	ChunkSize             int
	ProgressFlushInterval time.Duration
	// MaxResults caps the accumulated results handed to sessions, 0 means no cap.
	MaxResults int
}

// DefaultOptions returns the defaults used by the server.
func DefaultOptions() Options {
	return Options{
		ChunkSize:             search.DefaultChunkSize,
		ProgressFlushInterval: 500 * time.Millisecond,
	}
}

// Result is one sorted batch of a search.
type Result struct {
	Matches  []candidate.Match
	Progress float64
	Err      error
}

// Engine serves searches over an index fed by a feed.Feed.
type Engine struct {
	feed feed.Feed
	exec *search.Executor
	log  *log.Logger

	mu          sync.Mutex
	idx         *index.Index
	namespaces  []string
	loaded      bool
	unsubscribe func()
	opts        Options

	lmu       sync.Mutex
	listeners map[int]func(int)
	nextLID   int
}

// New returns an engine reading from f.
func New(f feed.Feed, opts Options) *Engine {
	return &Engine{
		feed:      f,
		exec:      search.NewExecutor(),
		log:       logger.New("engine"),
		idx:       index.New(),
		opts:      opts,
		listeners: make(map[int]func(int)),
	}
}

// Options returns the current options.
func (e *Engine) Options() Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts
}

// SetOptions replaces the options used by searches started afterwards.
func (e *Engine) SetOptions(opts Options) {
	e.mu.Lock()
	e.opts = opts
	e.mu.Unlock()
}

// Namespaces returns the loaded namespaces, sorted.
func (e *Engine) Namespaces() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.namespaces)
}

// Len returns the number of candidates.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idx.Len()
}

// Snapshot returns the current candidates. The slice must not be modified.
func (e *Engine) Snapshot() []candidate.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idx.Snapshot()
}

// Prefix returns the candidates whose key starts with prefix.
func (e *Engine) Prefix(prefix string) []candidate.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idx.Prefix(prefix)
}

// LoadIndex rebuilds the index for namespaces and subscribes to their
// changes. Loading the same set of namespaces again, in any order, is a
// no-op. It returns the number of candidates.
func (e *Engine) LoadIndex(ctx context.Context, namespaces []string) (int, error) {
	set := normalize(namespaces)

	e.mu.Lock()
	if e.loaded && slices.Equal(set, e.namespaces) {
		n := e.idx.Len()
		e.mu.Unlock()
		e.log.Debug("namespaces unchanged, skipping reload", "namespaces", set)
		return n, nil
	}
	e.mu.Unlock()

	idx := index.New()
	unsubscribe, err := e.feed.Subscribe(set, func(d feed.Diff) {
		e.apply(idx, d)
	})
	if err != nil {
		return 0, fmt.Errorf("subscribe %v: %w", set, err)
	}

	start := time.Now()
	pages := make([][]feed.Link, len(set))
	g, gctx := errgroup.WithContext(ctx)
	for i, ns := range set {
		g.Go(func() error {
			links, err := e.feed.Load(gctx, []string{ns})
			if err != nil {
				return fmt.Errorf("load namespace %q: %w", ns, err)
			}
			pages[i] = links
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		unsubscribe()
		return 0, err
	}

	e.mu.Lock()
	for _, links := range pages {
		idx.ApplyDiff(feed.Diff{Added: links})
	}
	prev := e.unsubscribe
	e.idx, e.namespaces, e.loaded, e.unsubscribe = idx, set, true, unsubscribe
	n := idx.Len()
	e.mu.Unlock()

	if prev != nil {
		prev()
	}
	e.log.Info("index loaded", "namespaces", set, "candidates", n, "took", time.Since(start))
	e.broadcast(n)
	return n, nil
}

// Apply merges d into the current index.
func (e *Engine) Apply(d feed.Diff) bool {
	e.mu.Lock()
	idx := e.idx
	e.mu.Unlock()
	return e.apply(idx, d)
}

// apply merges d into idx. Diffs for an index that is still loading are
// merged as well and win over older loaded pages by timestamp.
func (e *Engine) apply(idx *index.Index, d feed.Diff) bool {
	e.mu.Lock()
	changed := idx.ApplyDiff(d)
	current := idx == e.idx
	n := idx.Len()
	e.mu.Unlock()

	if changed && current {
		e.log.Debug("diff applied", "added", len(d.Added), "updated", len(d.Updated), "deleted", len(d.Deleted))
		e.broadcast(n)
	}
	return changed
}

// OnChange registers fn to be called with the candidate count after every
// index change. The returned function removes it.
func (e *Engine) OnChange(fn func(count int)) func() {
	e.lmu.Lock()
	id := e.nextLID
	e.nextLID++
	e.listeners[id] = fn
	e.lmu.Unlock()

	return func() {
		e.lmu.Lock()
		delete(e.listeners, id)
		e.lmu.Unlock()
	}
}

func (e *Engine) broadcast(n int) {
	e.lmu.Lock()
	fns := make([]func(int), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.lmu.Unlock()

	for _, fn := range fns {
		fn(n)
	}
}

// Search streams the matches of query in sorted batches. A blank query
// yields one empty batch with progress 1. Canceling ctx closes the stream
// without error.
func (e *Engine) Search(ctx context.Context, query string, chunkSize int) (<-chan Result, error) {
	filter, err := fuzzy.MakeFilter(query)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return nil, ErrNotLoaded
	}
	snap := e.idx.Snapshot()
	if chunkSize <= 0 {
		chunkSize = e.opts.ChunkSize
	}
	e.mu.Unlock()

	batches := e.exec.Run(ctx, filter, snap, chunkSize)
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		for b := range batches {
			candidate.SortMatches(b.Matches)
			select {
			case out <- Result{Matches: b.Matches, Progress: b.Progress, Err: b.Err}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Runner returns a session.Runner searching this engine.
func (e *Engine) Runner() session.Runner {
	return func(ctx context.Context, query string, emit func(float64, []candidate.Match)) error {
		return e.Stream(ctx, query, 0, emit)
	}
}

// Stream runs a search and calls emit with the accumulated, sorted and
// capped results, at most once per ProgressFlushInterval and always for the
// last batch. Until the first match arrives emit gets nil results, meaning
// whatever is shown may stay. It returns ctx.Err() when canceled.
func (e *Engine) Stream(ctx context.Context, query string, chunkSize int, emit func(progress float64, matches []candidate.Match)) error {
	opts := e.Options()
	results, err := e.Search(ctx, query, chunkSize)
	if err != nil {
		return err
	}

	every := rate.Inf
	if opts.ProgressFlushInterval > 0 {
		every = rate.Every(opts.ProgressFlushInterval)
	}
	flush := rate.NewLimiter(every, 1)

	var acc []candidate.Match
	for r := range results {
		if r.Err != nil {
			return r.Err
		}
		if len(r.Matches) > 0 {
			acc = candidate.MergeSorted(acc, r.Matches, opts.MaxResults)
		}
		done := r.Progress >= 1
		if !done && !flush.Allow() {
			continue
		}
		var cands []candidate.Match
		if len(acc) > 0 || done {
			cands = acc
			if cands == nil {
				cands = []candidate.Match{}
			}
		}
		emit(r.Progress, cands)
	}
	return ctx.Err()
}

// Close stops following the feed.
func (e *Engine) Close() {
	e.mu.Lock()
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// normalize returns the sorted, de-duplicated namespace set.
func normalize(namespaces []string) []string {
	set := slices.Clone(namespaces)
	slices.Sort(set)
	return slices.Compact(set)
}
