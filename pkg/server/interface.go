/*
Package server implements msgpack IPC for fuzzy title search.

Clients write a stream of msgpack encoded Requests to stdin and read a
stream of msgpack encoded responses from stdout. Logs go to stderr. Every
message carries the id of the request it answers.

# IPC

The server greets with:

	{"status": "ready"}

A query request feeds the long-lived search session of the connection, as
a text field would on every keystroke:

	{"id": "q_001", "action": "query", "q": "grph thry", "l": 20}

Each session state change is answered with a SessionResponse. Results arrive
progressively; the last response of a search has p = 1:

	{"id": "q_001", "st": "searching", "q": "grph thry", "p": 0.4, "r": [...], "c": 3}

An empty query returns the session to idle. Only the newest query's results
are ever sent.

One-shot searches run independently of the session and may be canceled:

	{"id": "s_001", "action": "search", "q": "graph", "chunk": 500}
	{"id": "s_001", "action": "cancel"}

They are answered by SearchResponses, the last one with done set.

Index management:

	{"id": "l_001", "action": "load", "ns": ["notes", "wiki"]}
	{"id": "p_001", "action": "prefix", "q": "graph", "l": 10}
	{"id": "x_001", "action": "stats"}

Failures are answered with an ErrorResponse.

# Message Types

MatchResult is one result row: the candidate title, its distance and the
matched grapheme spans for highlighting, plus the aggregated backlinks and
update time.
*/
package server

// Actions understood by the server.
const (
	ActionQuery  = "query"
	ActionSearch = "search"
	ActionCancel = "cancel"
	ActionLoad   = "load"
	ActionPrefix = "prefix"
	ActionStats  = "stats"
)

// Error codes of ErrorResponse.
const (
	CodeBadRequest  = 400
	CodeNotFound    = 404
	CodeNotLoaded   = 503
	CodeInternal    = 500
	CodeQueryLength = 413
)

// Request is any client message.
type Request struct {
	ID         string   `msgpack:"id"`
	Action     string   `msgpack:"action"`
	Query      string   `msgpack:"q,omitempty"`
	Limit      int      `msgpack:"l,omitempty"`
	Chunk      int      `msgpack:"chunk,omitempty"`
	Namespaces []string `msgpack:"ns,omitempty"`
}

// MatchResult is one ranked candidate.
type MatchResult struct {
	Title      string   `msgpack:"t"`
	Distance   int      `msgpack:"d"`
	Spans      [][2]int `msgpack:"s"`
	Backlinks  int      `msgpack:"b"`
	UpdatedAt  int64    `msgpack:"u"`
	Namespaces []string `msgpack:"n"`
	Icon       string   `msgpack:"i,omitempty"`
}

// SessionResponse reports a state of the query session.
type SessionResponse struct {
	ID       string        `msgpack:"id"`
	State    string        `msgpack:"st"`
	Query    string        `msgpack:"q"`
	Progress float64       `msgpack:"p"`
	Results  []MatchResult `msgpack:"r"`
	Count    int           `msgpack:"c"`
	Error    string        `msgpack:"e,omitempty"`
}

// SearchResponse is one flushed batch of a one-shot search.
type SearchResponse struct {
	ID        string        `msgpack:"id"`
	Progress  float64       `msgpack:"p"`
	Results   []MatchResult `msgpack:"r"`
	Count     int           `msgpack:"c"`
	Done      bool          `msgpack:"done"`
	TimeTaken int64         `msgpack:"t"`
}

// CandidateResult is one candidate returned by a prefix lookup.
type CandidateResult struct {
	Title      string   `msgpack:"t"`
	Backlinks  int      `msgpack:"b"`
	UpdatedAt  int64    `msgpack:"u"`
	Namespaces []string `msgpack:"n"`
}

// PrefixResponse answers a prefix lookup.
type PrefixResponse struct {
	ID      string            `msgpack:"id"`
	Results []CandidateResult `msgpack:"r"`
	Count   int               `msgpack:"c"`
}

// StatusResponse answers load and cancel requests.
type StatusResponse struct {
	ID         string   `msgpack:"id"`
	Status     string   `msgpack:"status"`
	Count      int      `msgpack:"c,omitempty"`
	Namespaces []string `msgpack:"ns,omitempty"`
	TimeTaken  int64    `msgpack:"t,omitempty"`
}

// StatsResponse describes the loaded index and the active search options.
type StatsResponse struct {
	ID              string   `msgpack:"id"`
	Count           int      `msgpack:"c"`
	Namespaces      []string `msgpack:"ns"`
	ChunkSize       int      `msgpack:"chunk"`
	FlushIntervalMs int64    `msgpack:"flush_ms"`
	MaxResults      int      `msgpack:"max_results"`
	MaxQueryLen     int      `msgpack:"max_query_len"`
	Running         int      `msgpack:"running"`
}

// ErrorResponse holds basic error information for a failed request
type ErrorResponse struct {
	ID    string `msgpack:"id"`
	Error string `msgpack:"e"`
	Code  int    `msgpack:"c"`
}
