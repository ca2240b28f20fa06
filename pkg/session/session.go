package session

import (
	"context"
	"errors"
	"sync"

	"github.com/bastiangx/titleserve/internal/logger"
	"github.com/bastiangx/titleserve/pkg/candidate"
	"github.com/charmbracelet/log"
)

// Runner executes one search. It calls emit with the accumulated results
// whenever it has something to show and returns when done or when ctx is
// canceled.
type Runner func(ctx context.Context, query string, emit func(progress float64, matches []candidate.Match)) error

// Job is one cancelable run of a Runner.
type Job struct {
	id     uint64
	query  string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// ID returns the job sequence number, 0 for a nil job.
func (j *Job) ID() uint64 {
	if j == nil {
		return 0
	}
	return j.id
}

// Query returns the query the job runs for.
func (j *Job) Query() string {
	return j.query
}

// Abort requests cancellation. It does not wait.
func (j *Job) Abort() {
	j.cancel()
}

// Done is closed once the job has stopped.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Err returns the runner error after Done is closed.
func (j *Job) Err() error {
	<-j.done
	return j.err
}

// Session drives Reduce for one host query signal. Jobs run one at a time:
// a new job starts only after the job it replaces has acknowledged its abort.
type Session struct {
	run Runner
	log *log.Logger

	mu     sync.Mutex
	state  State
	nextID uint64
	subs   map[int]func(State)
	subID  int
}

// New returns an idle session searching with run.
func New(run Runner) *Session {
	return &Session{
		run:   run,
		log:   logger.New("session"),
		state: Initial(),
		subs:  make(map[int]func(State)),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetQuery feeds a query change into the session.
func (s *Session) SetQuery(query string) State {
	return s.Dispatch(QueryChanged{Query: query})
}

// Dispatch applies ev and notifies subscribers when the state changed.
func (s *Session) Dispatch(ev Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := ev.(ProgressUpdated); ok {
		if cur, ok := s.state.(*Searching); !ok || cur.Job != p.Job {
			s.log.Debug("dropping stale progress", "job", p.Job.ID())
		}
	}
	next := Reduce(s.state, ev, s.start)
	if next == s.state {
		return next
	}
	s.state = next
	for _, fn := range s.subs {
		fn(next)
	}
	return next
}

// Subscribe registers fn for every state change. Callbacks run in order,
// under the session lock, and must not call back into the session.
func (s *Session) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.subID
	s.subID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Wait blocks until the current job, if any, has stopped.
func (s *Session) Wait() {
	if st, ok := s.State().(*Searching); ok {
		<-st.Job.Done()
	}
}

// Close aborts the running job and waits for it.
func (s *Session) Close() {
	var job *Job
	if st, ok := s.State().(*Searching); ok {
		job = st.Job
	}
	s.SetQuery("")
	if job != nil {
		<-job.Done()
	}
}

// start is the StartFunc of the session. It is called with s.mu held.
func (s *Session) start(prev *Job, query string) *Job {
	s.nextID++
	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		id:     s.nextID,
		query:  query,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if prev != nil {
		prev.Abort()
	}

	go func() {
		defer close(j.done)
		defer cancel()

		if prev != nil {
			<-prev.Done()
		}
		if err := ctx.Err(); err != nil {
			s.log.Debug("job superseded before start", "job", j.id, "query", query)
			j.err = err
			return
		}

		err := s.run(ctx, query, func(progress float64, matches []candidate.Match) {
			if ctx.Err() != nil {
				return
			}
			s.Dispatch(ProgressUpdated{Job: j, Progress: progress, Candidates: matches})
		})
		if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			s.log.Warn("search job failed", "job", j.id, "query", query, "err", err)
			s.Dispatch(JobFailed{Job: j, Err: err})
		}
		j.err = err
	}()
	return j
}
