// Package session owns the lifecycle of "current query -> running search job".
//
// The lifecycle is a small state machine. Reduce is its pure transition
// function over the two states Idle and Searching; Session drives it, starts
// jobs and guarantees that at most one job's results are ever visible.
package session

import (
	"github.com/bastiangx/titleserve/pkg/candidate"
)

// State is either *Idle or *Searching.
type State interface {
	isState()
}

// Idle is the state of a session without query.
type Idle struct{}

// Searching is the state of a session with a running or finished job.
type Searching struct {
	Query    string
	Job      *Job
	Progress float64
	// Candidates are the newest results. Right after a query change they
	// still hold the previous query's results.
	Candidates []candidate.Match
	Err        error
}

func (*Idle) isState()      {}
func (*Searching) isState() {}

var idle = &Idle{}

// Initial returns the state of a new session.
func Initial() State {
	return idle
}

// Query returns the query of s, "" for Idle.
func Query(s State) string {
	if st, ok := s.(*Searching); ok {
		return st.Query
	}
	return ""
}

// Event is an input of Reduce.
type Event interface {
	isEvent()
}

// QueryChanged is sent by the host whenever its query text changes.
type QueryChanged struct {
	Query string
}

// ProgressUpdated is sent by a job after each flushed batch. A nil
// Candidates slice leaves the current candidates untouched.
type ProgressUpdated struct {
	Job        *Job
	Progress   float64
	Candidates []candidate.Match
}

// JobFailed is sent by a job that stopped with an error.
type JobFailed struct {
	Job *Job
	Err error
}

func (QueryChanged) isEvent()    {}
func (ProgressUpdated) isEvent() {}
func (JobFailed) isEvent()       {}

// StartFunc starts a job for query once prev, if any, has finished.
type StartFunc func(prev *Job, query string) *Job

// Reduce returns the state following s after ev. Transitions that change
// nothing return s itself, so callers can compare states by identity.
func Reduce(s State, ev Event, start StartFunc) State {
	switch ev := ev.(type) {
	case QueryChanged:
		if ev.Query == Query(s) {
			return s
		}
		cur, searching := s.(*Searching)
		if ev.Query == "" {
			if searching {
				cur.Job.Abort()
			}
			return idle
		}

		var prev *Job
		var kept []candidate.Match
		if searching {
			prev, kept = cur.Job, cur.Candidates
		}
		return &Searching{
			Query:      ev.Query,
			Job:        start(prev, ev.Query),
			Candidates: kept,
		}

	case ProgressUpdated:
		cur, ok := s.(*Searching)
		if !ok || ev.Job != cur.Job {
			return s
		}
		progressChanged := ev.Progress != cur.Progress
		candidatesChanged := ev.Candidates != nil && !sameMatches(ev.Candidates, cur.Candidates)
		if !progressChanged && !candidatesChanged {
			return s
		}
		next := *cur
		next.Progress = ev.Progress
		if candidatesChanged {
			next.Candidates = ev.Candidates
		}
		return &next

	case JobFailed:
		cur, ok := s.(*Searching)
		if !ok || ev.Job != cur.Job || ev.Err == nil {
			return s
		}
		next := *cur
		next.Err = ev.Err
		return &next
	}
	return s
}

// sameMatches reports whether a and b are the same slice.
func sameMatches(a, b []candidate.Match) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}
