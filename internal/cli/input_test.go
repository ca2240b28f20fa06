package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/bastiangx/titleserve/pkg/candidate"
	"github.com/bastiangx/titleserve/pkg/engine"
	"github.com/bastiangx/titleserve/pkg/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func brackets(s string) string { return "[" + s + "]" }

func TestHighlight(t *testing.T) {
	tests := []struct {
		title string
		spans []candidate.Span
		want  string
	}{
		{"Test Page", nil, "Test Page"},
		{"Test Page", []candidate.Span{{Start: 0, End: 4}}, "[Test] Page"},
		{"Graph Theory", []candidate.Span{{Start: 0, End: 5}, {Start: 6, End: 12}}, "[Graph] [Theory]"},
		{"abcabc", []candidate.Span{{Start: 2, End: 4}}, "ab[ca]bc"},
		{"café noir", []candidate.Span{{Start: 0, End: 4}}, "[café] noir"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Highlight(tt.title, tt.spans, brackets), tt.title)
	}
}

func newHandler(t *testing.T, out *bytes.Buffer) *InputHandler {
	t.Helper()
	mem := feed.NewMemory()
	mem.Put(feed.Link{Namespace: "notes", Title: "Graph Theory", UpdatedAt: 2})
	mem.Put(feed.Link{Namespace: "notes", Title: "Graph Coloring", UpdatedAt: 1})
	mem.Put(feed.Link{Namespace: "wiki", Title: "Cooking", UpdatedAt: 1})

	e := engine.New(mem, engine.DefaultOptions())
	t.Cleanup(e.Close)
	_, err := e.LoadIndex(context.Background(), []string{"notes"})
	require.NoError(t, err)

	h := NewInputHandler(e, 10, out)
	h.mark = brackets
	return h
}

func TestInputHandlerQueries(t *testing.T) {
	var out bytes.Buffer
	h := newHandler(t, &out)

	in := strings.NewReader("grph thory\n:prefix graph\n:load notes wiki\n:stats\ncooking\n:quit\nnever read\n")
	require.NoError(t, h.Start(context.Background(), in))

	got := out.String()
	assert.Contains(t, got, "Found 1 titles for 'grph thory'")
	assert.Contains(t, got, "[Graph] [Theory]")
	assert.Contains(t, got, "Graph Coloring")
	assert.Contains(t, got, "Loaded 3 titles from [notes wiki]")
	assert.Contains(t, got, "3 titles in [notes wiki]")
	assert.Contains(t, got, "[Cooking]")
}

func TestInputHandlerEOF(t *testing.T) {
	var out bytes.Buffer
	h := newHandler(t, &out)
	assert.NoError(t, h.Start(context.Background(), strings.NewReader("graph")))
	assert.Contains(t, out.String(), "Found 2 titles for 'graph'")
}
