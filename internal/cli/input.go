// Package cli provides an interactive prompt for trying searches against
// the loaded index in real time.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bastiangx/titleserve/internal/logger"
	"github.com/bastiangx/titleserve/pkg/candidate"
	"github.com/bastiangx/titleserve/pkg/engine"
	"github.com/bastiangx/titleserve/pkg/session"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/rivo/uniseg"
)

var (
	matchStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Bold(true)
	metaStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// InputHandler reads queries line by line and prints the ranked titles.
// Lines starting with ':' are commands:
//
//	:prefix <text>   list titles whose key starts with text
//	:load <ns...>    load other namespaces
//	:stats           show the index size and namespaces
//	:quit            leave
type InputHandler struct {
	engine  *engine.Engine
	session *session.Session
	limit   int
	out     *log.Logger
	status  *log.Logger
	mark    func(string) string
}

// NewInputHandler creates a handler printing at most limit results to w.
func NewInputHandler(e *engine.Engine, limit int, w io.Writer) *InputHandler {
	h := &InputHandler{
		engine:  e,
		session: session.New(e.Runner()),
		limit:   limit,
		out:     log.New(w),
		status:  logger.NewWithConfig("cli", log.GetLevel(), false, false, log.TextFormatter),
		mark:    func(s string) string { return matchStyle.Render(s) },
	}
	h.session.Subscribe(func(st session.State) {
		if st, ok := st.(*session.Searching); ok && st.Progress < 1 {
			h.status.Debug("progress", "query", st.Query, "progress", fmt.Sprintf("%.0f%%", st.Progress*100), "results", len(st.Candidates))
		}
	})
	return h
}

// Start runs the prompt until r is exhausted or ctx is done.
func (h *InputHandler) Start(ctx context.Context, r io.Reader) error {
	defer h.session.Close()

	h.out.Print("titleserve CLI")
	h.out.Print("type a query and press Enter to search, :quit to exit")

	scanner := bufio.NewScanner(r)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		h.out.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			h.session.SetQuery("")
			continue
		}
		if strings.HasPrefix(line, ":") {
			if quit := h.handleCommand(ctx, line[1:]); quit {
				return nil
			}
			continue
		}
		h.handleQuery(line)
	}
}

func (h *InputHandler) handleCommand(ctx context.Context, line string) (quit bool) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "q", "quit", "exit":
		return true
	case "prefix":
		cands := h.engine.Prefix(arg)
		if len(cands) == 0 {
			h.status.Warnf("No titles start with '%s'", arg)
			return false
		}
		if h.limit > 0 && len(cands) > h.limit {
			cands = cands[:h.limit]
		}
		for i := range cands {
			c := &cands[i]
			h.out.Printf("%2d. %-40s %s", i+1, c.Title, metaStyle.Render(fmt.Sprintf("(%d backlinks)", c.Backlinks)))
		}
	case "load":
		n, err := h.engine.LoadIndex(ctx, strings.Fields(arg))
		if err != nil {
			h.status.Errorf("Loading namespaces: %v", err)
			return false
		}
		h.out.Printf("Loaded %d titles from %v", n, h.engine.Namespaces())
	case "stats":
		h.out.Printf("%d titles in %v", h.engine.Len(), h.engine.Namespaces())
	default:
		h.status.Errorf("Unknown command: %s", cmd)
	}
	return false
}

// handleQuery runs one query through the session and prints its final results.
func (h *InputHandler) handleQuery(query string) {
	start := time.Now()
	h.session.SetQuery(query)
	h.session.Wait()
	elapsed := time.Since(start)

	st, ok := h.session.State().(*session.Searching)
	if !ok {
		return
	}
	if st.Err != nil {
		if errors.Is(st.Err, engine.ErrNotLoaded) {
			h.status.Error("No index loaded, use :load <namespace...>")
			return
		}
		h.status.Errorf("Search failed: %v", st.Err)
		return
	}
	h.status.Debugf("Took [ %v ] for query '%s'", elapsed, query)

	if len(st.Candidates) == 0 {
		h.status.Warnf("No titles found for '%s'", query)
		return
	}
	shown := st.Candidates
	if h.limit > 0 && len(shown) > h.limit {
		shown = shown[:h.limit]
	}
	h.out.Printf("Found %d titles for '%s':", len(st.Candidates), query)
	for i := range shown {
		m := &shown[i]
		meta := metaStyle.Render(fmt.Sprintf("(dist %d, %d backlinks)", m.Distance, m.Backlinks))
		h.out.Printf("%2d. %s %s", i+1, Highlight(m.Title, m.Spans, h.mark), meta)
	}
}

// Highlight applies mark to the parts of title covered by spans. Spans are
// grapheme offsets, sorted and disjoint.
func Highlight(title string, spans []candidate.Span, mark func(string) string) string {
	if len(spans) == 0 {
		return title
	}
	var b, run strings.Builder
	inSpan := false
	flush := func() {
		if run.Len() == 0 {
			return
		}
		if inSpan {
			b.WriteString(mark(run.String()))
		} else {
			b.WriteString(run.String())
		}
		run.Reset()
	}

	gr := uniseg.NewGraphemes(title)
	for i := 0; gr.Next(); i++ {
		covered := false
		for _, sp := range spans {
			if i >= sp.Start && i < sp.End {
				covered = true
				break
			}
		}
		if covered != inSpan {
			flush()
			inSpan = covered
		}
		run.WriteString(gr.Str())
	}
	flush()
	return b.String()
}
