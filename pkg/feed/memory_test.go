package feed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLoad(t *testing.T) {
	m := NewMemory()
	m.Put(Link{Namespace: "a", Title: "b"})
	m.Put(Link{Namespace: "a", Title: "a"})
	m.Put(Link{Namespace: "z", Title: "z"})

	links, err := m.Load(context.Background(), []string{"a", "missing"})
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "a", links[0].Title)
	assert.Equal(t, "b", links[1].Title)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Load(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryPublishes(t *testing.T) {
	m := NewMemory()
	var got []Diff
	unsubscribe, err := m.Subscribe([]string{"a"}, func(d Diff) { got = append(got, d) })
	require.NoError(t, err)

	v1 := Link{Namespace: "a", Title: "t", UpdatedAt: 1}
	v2 := Link{Namespace: "a", Title: "t", UpdatedAt: 2}
	m.Put(v1)
	m.Put(v2)
	m.Put(Link{Namespace: "b", Title: "t"})
	assert.True(t, m.Delete("a", "t"))
	assert.False(t, m.Delete("a", "t"))

	require.Len(t, got, 3)
	assert.Equal(t, []Link{v1}, got[0].Added)
	assert.Equal(t, []Update{{Before: v1, After: v2}}, got[1].Updated)
	assert.Equal(t, []Link{v2}, got[2].Deleted)

	unsubscribe()
	m.Put(v1)
	assert.Len(t, got, 3)
}

func TestDiffEmpty(t *testing.T) {
	assert.True(t, Diff{}.Empty())
	assert.False(t, Diff{Deleted: []Link{{Title: "x"}}}.Empty())
}
