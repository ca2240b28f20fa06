// Package search runs a fuzzy.Filter over candidate lists in cancelable chunks.
package search

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/bastiangx/titleserve/pkg/candidate"
	"github.com/bastiangx/titleserve/pkg/fuzzy"
)

// DefaultChunkSize is used when a run asks for a non-positive chunk size.
const DefaultChunkSize = 1000

// ErrFilterPanic wraps a panic raised by a filter.
var ErrFilterPanic = errors.New("search: filter panicked")

// Batch is what a run emits after each chunk. A batch with a non-nil Err is
// the last one of its run.
type Batch struct {
	Matches  []candidate.Match
	Progress float64
	Err      error
}

// Executor runs filters chunk by chunk.
type Executor struct {
	// Yield is called between chunks. It defaults to runtime.Gosched.
	Yield func()
}

// NewExecutor returns an executor yielding to the Go scheduler between chunks.
func NewExecutor() *Executor {
	return &Executor{Yield: runtime.Gosched}
}

// Run filters cands in chunks of chunkSize and streams one Batch per chunk.
// The channel is closed when the run completes, fails or ctx is canceled.
// Canceled runs emit nothing further and report no error. A nil filter
// produces a single empty batch with progress 1.
func (e *Executor) Run(ctx context.Context, filter fuzzy.Filter, cands []candidate.Candidate, chunkSize int) <-chan Batch {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	out := make(chan Batch, 1)

	go func() {
		defer close(out)

		send := func(b Batch) bool {
			if ctx.Err() != nil {
				return false
			}
			select {
			case out <- b:
				return true
			case <-ctx.Done():
				return false
			}
		}

		total := (len(cands) + chunkSize - 1) / chunkSize
		if filter == nil || total == 0 {
			send(Batch{Progress: 1})
			return
		}

		for i := 0; i < total; i++ {
			if ctx.Err() != nil {
				return
			}
			lo := i * chunkSize
			hi := min(lo+chunkSize, len(cands))

			matches, err := apply(filter, cands[lo:hi])
			if err != nil {
				send(Batch{Err: err})
				return
			}

			progress := float64(i+1) / float64(total)
			if i == total-1 {
				progress = 1
			}
			if !send(Batch{Matches: matches, Progress: progress}) {
				return
			}
			if i < total-1 && e.Yield != nil {
				e.Yield()
			}
		}
	}()

	return out
}

func apply(filter fuzzy.Filter, chunk []candidate.Candidate) (matches []candidate.Match, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrFilterPanic, r)
		}
	}()
	return filter(chunk), nil
}
