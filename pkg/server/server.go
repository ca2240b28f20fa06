package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bastiangx/titleserve/internal/logger"
	"github.com/bastiangx/titleserve/pkg/candidate"
	"github.com/bastiangx/titleserve/pkg/engine"
	"github.com/bastiangx/titleserve/pkg/fuzzy"
	"github.com/bastiangx/titleserve/pkg/session"
	"github.com/charmbracelet/log"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultMaxQueryLen is used when no query length limit is configured.
const DefaultMaxQueryLen = 256

// Server handles the IPC of one client.
type Server struct {
	engine *engine.Engine
	dec    *msgpack.Decoder
	log    *log.Logger

	wmu sync.Mutex
	enc *msgpack.Encoder

	session     *session.Session
	unsubscribe func()

	mu          sync.Mutex
	queryID     string
	queryLimit  int
	maxQueryLen int
	searches    map[string]context.CancelFunc
	running     sync.WaitGroup
}

// NewServer creates a server reading requests from r and writing responses
// to w. Typically r is os.Stdin and w is os.Stdout.
func NewServer(e *engine.Engine, r io.Reader, w io.Writer) *Server {
	s := &Server{
		engine:      e,
		dec:         msgpack.NewDecoder(r),
		enc:         msgpack.NewEncoder(w),
		log:         logger.New("server"),
		maxQueryLen: DefaultMaxQueryLen,
		searches:    make(map[string]context.CancelFunc),
	}
	s.session = session.New(e.Runner())
	s.unsubscribe = s.session.Subscribe(s.sendSession)
	return s
}

// SetMaxQueryLen changes the longest accepted query, in runes.
func (s *Server) SetMaxQueryLen(n int) {
	if n <= 0 {
		n = DefaultMaxQueryLen
	}
	s.mu.Lock()
	s.maxQueryLen = n
	s.mu.Unlock()
}

// Start serves requests until the input ends or ctx is done. Running
// searches are allowed to finish when the input ends.
func (s *Server) Start(ctx context.Context) error {
	s.log.Debug("Starting server")
	defer s.shutdown()

	s.send(map[string]string{"status": "ready"})

	for {
		if err := ctx.Err(); err != nil {
			s.cancelAll()
			return nil
		}
		var req Request
		if err := s.dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Debug("input closed")
				return nil
			}
			s.sendError("", fmt.Sprintf("invalid request: %v", err), CodeBadRequest)
			s.cancelAll()
			return fmt.Errorf("decode request: %w", err)
		}
		s.handleRequest(ctx, req)
	}
}

// shutdown waits for one-shot searches and the current query job, then
// closes the session without reporting its idle state.
func (s *Server) shutdown() {
	s.running.Wait()
	s.session.Wait()
	s.unsubscribe()
	s.session.Close()
}

func (s *Server) handleRequest(ctx context.Context, req Request) {
	s.log.Debug("request", "id", req.ID, "action", req.Action)

	switch req.Action {
	case ActionQuery:
		s.handleQuery(req)
	case ActionSearch:
		s.handleSearch(ctx, req)
	case ActionCancel:
		s.handleCancel(req)
	case ActionLoad:
		s.handleLoad(ctx, req)
	case ActionPrefix:
		s.handlePrefix(req)
	case ActionStats:
		s.handleStats(req)
	default:
		s.sendError(req.ID, fmt.Sprintf("unknown action: %q", req.Action), CodeBadRequest)
	}
}

func (s *Server) validQuery(req Request) bool {
	s.mu.Lock()
	limit := s.maxQueryLen
	s.mu.Unlock()
	if n := utf8.RuneCountInString(req.Query); n > limit {
		s.sendError(req.ID, fmt.Sprintf("query exceeds maximum length of %d characters", limit), CodeQueryLength)
		return false
	}
	return true
}

// handleQuery feeds the session. Its responses are sent by sendSession.
func (s *Server) handleQuery(req Request) {
	if !s.validQuery(req) {
		return
	}
	if req.Query != "" {
		// Fail fast on queries no job could run.
		if _, err := fuzzy.MakeFilter(req.Query); err != nil {
			s.sendError(req.ID, err.Error(), codeFor(err))
			return
		}
	}
	s.mu.Lock()
	s.queryID, s.queryLimit = req.ID, req.Limit
	s.mu.Unlock()
	s.session.SetQuery(req.Query)
}

// sendSession is the session subscriber. It runs under the session lock.
func (s *Server) sendSession(st session.State) {
	s.mu.Lock()
	id, limit := s.queryID, s.queryLimit
	s.mu.Unlock()

	resp := SessionResponse{ID: id, State: "idle", Results: []MatchResult{}}
	if st, ok := st.(*session.Searching); ok {
		resp.State = "searching"
		resp.Query = st.Query
		resp.Progress = st.Progress
		resp.Results = toResults(st.Candidates, limit)
		resp.Count = len(st.Candidates)
		if st.Err != nil {
			resp.Error = st.Err.Error()
		}
	}
	s.send(resp)
}

func (s *Server) handleSearch(ctx context.Context, req Request) {
	if req.ID == "" {
		s.sendError("", "search needs an id", CodeBadRequest)
		return
	}
	if !s.validQuery(req) {
		return
	}

	s.mu.Lock()
	if _, busy := s.searches[req.ID]; busy {
		s.mu.Unlock()
		s.sendError(req.ID, "a search with this id is running", CodeBadRequest)
		return
	}
	sctx, cancel := context.WithCancel(ctx)
	s.searches[req.ID] = cancel
	s.mu.Unlock()

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer func() {
			s.mu.Lock()
			delete(s.searches, req.ID)
			s.mu.Unlock()
			cancel()
		}()

		start := time.Now()
		err := s.engine.Stream(sctx, req.Query, req.Chunk, func(progress float64, matches []candidate.Match) {
			if matches == nil {
				matches = []candidate.Match{}
			}
			s.send(SearchResponse{
				ID:        req.ID,
				Progress:  progress,
				Results:   toResults(matches, req.Limit),
				Count:     len(matches),
				Done:      progress >= 1,
				TimeTaken: time.Since(start).Microseconds(),
			})
		})
		switch {
		case errors.Is(err, context.Canceled):
			s.log.Debug("search canceled", "id", req.ID)
		case err != nil:
			s.sendError(req.ID, err.Error(), codeFor(err))
		}
	}()
}

func (s *Server) handleCancel(req Request) {
	s.mu.Lock()
	cancel, ok := s.searches[req.ID]
	s.mu.Unlock()
	if !ok {
		s.sendError(req.ID, "no running search with this id", CodeNotFound)
		return
	}
	cancel()
	s.send(StatusResponse{ID: req.ID, Status: "canceled"})
}

func (s *Server) handleLoad(ctx context.Context, req Request) {
	start := time.Now()
	n, err := s.engine.LoadIndex(ctx, req.Namespaces)
	if err != nil {
		s.log.Error("load failed", "namespaces", req.Namespaces, "err", err)
		s.sendError(req.ID, err.Error(), codeFor(err))
		return
	}
	s.send(StatusResponse{
		ID:         req.ID,
		Status:     "ok",
		Count:      n,
		Namespaces: s.engine.Namespaces(),
		TimeTaken:  time.Since(start).Microseconds(),
	})
}

func (s *Server) handlePrefix(req Request) {
	cands := s.engine.Prefix(req.Query)
	if req.Limit > 0 && len(cands) > req.Limit {
		cands = cands[:req.Limit]
	}
	out := make([]CandidateResult, len(cands))
	for i := range cands {
		c := &cands[i]
		out[i] = CandidateResult{
			Title:      c.Title,
			Backlinks:  c.Backlinks,
			UpdatedAt:  c.UpdatedAt,
			Namespaces: c.Namespaces(),
		}
	}
	s.send(PrefixResponse{ID: req.ID, Results: out, Count: len(out)})
}

func (s *Server) handleStats(req Request) {
	opts := s.engine.Options()
	s.mu.Lock()
	maxQueryLen, running := s.maxQueryLen, len(s.searches)
	s.mu.Unlock()

	namespaces := s.engine.Namespaces()
	if namespaces == nil {
		namespaces = []string{}
	}
	s.send(StatsResponse{
		ID:              req.ID,
		Count:           s.engine.Len(),
		Namespaces:      namespaces,
		ChunkSize:       opts.ChunkSize,
		FlushIntervalMs: opts.ProgressFlushInterval.Milliseconds(),
		MaxResults:      opts.MaxResults,
		MaxQueryLen:     maxQueryLen,
		Running:         running,
	})
}

func (s *Server) cancelAll() {
	s.mu.Lock()
	for _, cancel := range s.searches {
		cancel()
	}
	s.mu.Unlock()
}

// send encodes one response. Responses of concurrent searches never interleave.
func (s *Server) send(v any) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.enc.Encode(v); err != nil {
		s.log.Error("encoding response", "err", err)
	}
}

// sendError sends an error response
func (s *Server) sendError(id, message string, code int) {
	s.send(ErrorResponse{ID: id, Error: message, Code: code})
}

func codeFor(err error) int {
	switch {
	case errors.Is(err, fuzzy.ErrQueryTooLong):
		return CodeQueryLength
	case errors.Is(err, engine.ErrNotLoaded):
		return CodeNotLoaded
	default:
		return CodeInternal
	}
}

func toResults(matches []candidate.Match, limit int) []MatchResult {
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]MatchResult, len(matches))
	for i := range matches {
		m := &matches[i]
		spans := make([][2]int, len(m.Spans))
		for j, sp := range m.Spans {
			spans[j] = [2]int{sp.Start, sp.End}
		}
		out[i] = MatchResult{
			Title:      m.Title,
			Distance:   m.Distance,
			Spans:      spans,
			Backlinks:  m.Backlinks,
			UpdatedAt:  m.UpdatedAt,
			Namespaces: m.Candidate.Namespaces(),
			Icon:       m.Candidate.Icon(),
		}
	}
	return out
}
