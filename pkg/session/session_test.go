package session

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bastiangx/titleserve/internal/logger"
	"github.com/bastiangx/titleserve/pkg/candidate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matchesFor(query string, n int) []candidate.Match {
	out := make([]candidate.Match, n)
	for i := range out {
		out[i] = candidate.NewMatch(candidate.Candidate{Title: query}, candidate.MatchInfo{})
	}
	return out
}

// fakeStart records calls and returns inert jobs.
type fakeStart struct {
	prevs []*Job
}

func (f *fakeStart) start(prev *Job, query string) *Job {
	f.prevs = append(f.prevs, prev)
	_, cancel := context.WithCancel(context.Background())
	return &Job{id: uint64(len(f.prevs)), query: query, cancel: cancel, done: make(chan struct{})}
}

func TestReduceSameQueryKeepsIdentity(t *testing.T) {
	f := &fakeStart{}
	s := Reduce(Initial(), QueryChanged{Query: "abc"}, f.start)
	assert.Same(t, s, Reduce(s, QueryChanged{Query: "abc"}, f.start))
	assert.Same(t, Initial(), Reduce(Initial(), QueryChanged{Query: ""}, f.start))
	assert.Len(t, f.prevs, 1)
}

func TestReduceQueryChangeKeepsCandidates(t *testing.T) {
	f := &fakeStart{}
	s1 := Reduce(Initial(), QueryChanged{Query: "q1"}, f.start).(*Searching)
	c := matchesFor("q1", 3)
	s1 = Reduce(s1, ProgressUpdated{Job: s1.Job, Progress: 1, Candidates: c}, f.start).(*Searching)

	s2, ok := Reduce(s1, QueryChanged{Query: "q2"}, f.start).(*Searching)
	require.True(t, ok)
	assert.Equal(t, "q2", s2.Query)
	assert.Equal(t, 0.0, s2.Progress)
	require.Len(t, s2.Candidates, 3)
	assert.Same(t, &c[0], &s2.Candidates[0])
	assert.Same(t, s1.Job, f.prevs[1])
	assert.NotSame(t, s1.Job, s2.Job)
}

func TestReduceEmptyQueryAborts(t *testing.T) {
	f := &fakeStart{}
	s := Reduce(Initial(), QueryChanged{Query: "q"}, f.start).(*Searching)
	next := Reduce(s, QueryChanged{Query: ""}, f.start)
	assert.IsType(t, &Idle{}, next)
	// The fake job's context was canceled by Abort; a second Abort is harmless.
	s.Job.Abort()
}

func TestReduceProgress(t *testing.T) {
	f := &fakeStart{}
	s := Reduce(Initial(), QueryChanged{Query: "q"}, f.start).(*Searching)

	// Same progress and no candidates: identity preserved.
	assert.Same(t, s, Reduce(s, ProgressUpdated{Job: s.Job, Progress: 0}, f.start))

	c := matchesFor("q", 1)
	s2 := Reduce(s, ProgressUpdated{Job: s.Job, Progress: 0.5, Candidates: c}, f.start).(*Searching)
	assert.Equal(t, 0.5, s2.Progress)
	assert.Len(t, s2.Candidates, 1)

	// Same slice again: no change.
	assert.Same(t, s2, Reduce(s2, ProgressUpdated{Job: s.Job, Progress: 0.5, Candidates: c}, f.start))

	// Progress only keeps candidates.
	s3 := Reduce(s2, ProgressUpdated{Job: s.Job, Progress: 1}, f.start).(*Searching)
	assert.Len(t, s3.Candidates, 1)

	// Events of other jobs and in Idle are ignored.
	other := &Job{id: 99}
	assert.Same(t, s3, Reduce(s3, ProgressUpdated{Job: other, Progress: 0.1}, f.start))
	assert.Same(t, Initial(), Reduce(Initial(), ProgressUpdated{Job: s.Job, Progress: 0.3}, f.start))
}

func TestReduceJobFailed(t *testing.T) {
	f := &fakeStart{}
	s := Reduce(Initial(), QueryChanged{Query: "q"}, f.start).(*Searching)
	boom := errors.New("boom")
	s2 := Reduce(s, JobFailed{Job: s.Job, Err: boom}, f.start).(*Searching)
	assert.ErrorIs(t, s2.Err, boom)
	assert.Same(t, Initial(), Reduce(Initial(), JobFailed{Job: s.Job, Err: boom}, f.start))
}

// recorder collects every state a session publishes.
type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) add(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func TestSessionRapidQueriesOnlyLastVisible(t *testing.T) {
	var mu sync.Mutex
	var started []string
	active := 0
	overlapped := false

	run := func(ctx context.Context, query string, emit func(float64, []candidate.Match)) error {
		mu.Lock()
		started = append(started, query)
		active++
		if active > 1 {
			overlapped = true
		}
		mu.Unlock()
		defer func() {
			mu.Lock()
			active--
			mu.Unlock()
		}()

		if query != "abc" {
			<-ctx.Done()
			// A late emit from an aborted job must be dropped.
			emit(1, matchesFor(query, 5))
			return ctx.Err()
		}
		emit(0.5, matchesFor(query, 1))
		emit(1, matchesFor(query, 2))
		return nil
	}

	s := New(run)
	rec := &recorder{}
	s.Subscribe(rec.add)

	s.SetQuery("a")
	s.SetQuery("ab")
	s.SetQuery("abc")

	require.Eventually(t, func() bool {
		st, ok := s.State().(*Searching)
		return ok && st.Progress == 1
	}, 2*time.Second, 5*time.Millisecond)
	s.Wait()

	mu.Lock()
	assert.False(t, overlapped, "two jobs ran at the same time")
	assert.Equal(t, "abc", started[len(started)-1])
	mu.Unlock()

	for _, st := range rec.snapshot() {
		searching, ok := st.(*Searching)
		require.True(t, ok)
		for _, m := range searching.Candidates {
			assert.Equal(t, "abc", m.Title, "stale candidates from query %q", searching.Query)
		}
		if searching.Progress > 0 {
			assert.Equal(t, "abc", searching.Query)
		}
	}

	final := s.State().(*Searching)
	assert.Len(t, final.Candidates, 2)
	assert.NoError(t, final.Err)
}

func TestSessionEmptyQueryReturnsToIdle(t *testing.T) {
	release := make(chan struct{})
	run := func(ctx context.Context, query string, emit func(float64, []candidate.Match)) error {
		select {
		case <-ctx.Done():
		case <-release:
			emit(1, matchesFor(query, 1))
		}
		return nil
	}

	s := New(run)
	st := s.SetQuery("q").(*Searching)
	assert.IsType(t, &Idle{}, s.SetQuery(""))
	<-st.Job.Done()
	close(release)
	assert.IsType(t, &Idle{}, s.State())
}

func TestSessionJobError(t *testing.T) {
	boom := errors.New("boom")
	s := New(func(ctx context.Context, query string, emit func(float64, []candidate.Match)) error {
		return boom
	})
	s.SetQuery("q")
	s.Wait()
	st := s.State().(*Searching)
	assert.ErrorIs(t, st.Err, boom)
	assert.ErrorIs(t, st.Job.Err(), boom)
}

func TestSessionLogsWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })

	s := New(func(ctx context.Context, query string, emit func(float64, []candidate.Match)) error {
		return errors.New("boom")
	})
	s.SetQuery("q")
	s.Wait()

	assert.Contains(t, buf.String(), "session")
	assert.Contains(t, buf.String(), "search job failed")
}

func TestSessionClose(t *testing.T) {
	t.Run("before the runner starts", func(t *testing.T) {
		ran := make(chan struct{}, 1)
		release := make(chan struct{})
		s := New(func(ctx context.Context, query string, emit func(float64, []candidate.Match)) error {
			if query == "first" {
				<-release
				return nil
			}
			ran <- struct{}{}
			return nil
		})
		s.SetQuery("first")
		// The second job is queued behind the first one and aborted there.
		second := s.SetQuery("second").(*Searching)
		s.SetQuery("")
		close(release)
		s.Close()

		assert.IsType(t, &Idle{}, s.State())
		assert.ErrorIs(t, second.Job.Err(), context.Canceled)
		assert.Empty(t, ran)
	})

	t.Run("while the runner is running", func(t *testing.T) {
		running := make(chan struct{})
		s := New(func(ctx context.Context, query string, emit func(float64, []candidate.Match)) error {
			close(running)
			<-ctx.Done()
			return ctx.Err()
		})
		st := s.SetQuery("q").(*Searching)
		<-running
		s.Close()

		assert.IsType(t, &Idle{}, s.State())
		assert.ErrorIs(t, st.Job.Err(), context.Canceled)
	})
}
