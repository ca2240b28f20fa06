package index

import (
	"testing"

	"github.com/bastiangx/titleserve/pkg/candidate"
	"github.com/bastiangx/titleserve/pkg/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func link(ns, title string, ts int64, links ...string) feed.Link {
	return feed.Link{Namespace: ns, Title: title, UpdatedAt: ts, Links: links}
}

func mustGet(t *testing.T, x *Index, title string) candidate.Candidate {
	t.Helper()
	c, ok := x.Get(title)
	require.True(t, ok, "missing candidate %q", title)
	return c
}

func TestAddLinkIdempotent(t *testing.T) {
	x := New()
	l := link("proj", "Home", 10, "Todo", "Ideas")

	assert.True(t, x.AddLink(l))
	once := x.Snapshot()

	assert.False(t, x.AddLink(l))
	assert.Equal(t, once, x.Snapshot())
	assert.Equal(t, 1, mustGet(t, x, "Todo").Backlinks)
}

func TestAddLinkNewestWins(t *testing.T) {
	x := New()
	newer := link("proj", "Home", 20, "B")
	newer.Icon = "new.png"
	older := link("proj", "home", 10, "A")
	older.Icon = "old.png"

	require.True(t, x.AddLink(newer))
	assert.False(t, x.AddLink(older))

	c := mustGet(t, x, "Home")
	assert.Equal(t, "Home", c.Title)
	assert.Equal(t, int64(20), c.UpdatedAt)
	assert.Equal(t, "new.png", c.Sources["proj"].Icon)
	_, ok := x.Get("A")
	assert.False(t, ok)
}

func TestBacklinkAccounting(t *testing.T) {
	x := New()
	a := link("proj", "A", 1, "Target")
	b := link("other", "B", 1, "Target")
	x.AddLink(a)
	x.AddLink(b)

	target := mustGet(t, x, "Target")
	assert.Equal(t, 2, target.Backlinks)
	assert.Len(t, target.Sources, 2)
	assert.Equal(t, int64(0), target.UpdatedAt)

	require.True(t, x.DeleteLink(a))
	target = mustGet(t, x, "Target")
	assert.Equal(t, 1, target.Backlinks)
	assert.NotContains(t, target.Sources, "proj")

	require.True(t, x.DeleteLink(b))
	_, ok := x.Get("Target")
	assert.False(t, ok)
	assert.Equal(t, 0, x.Len())
}

func TestDuplicateAndSelfLinksCountOnce(t *testing.T) {
	x := New()
	x.AddLink(link("proj", "Page", 1, "Other", "other", "Page", "page", ""))

	assert.Equal(t, 1, mustGet(t, x, "Other").Backlinks)
	assert.Equal(t, 0, mustGet(t, x, "Page").Backlinks)
	assert.Equal(t, 2, x.Len())
}

func TestPlaceholderBecomesPage(t *testing.T) {
	x := New()
	x.AddLink(link("proj", "Index", 5, "new page"))

	c := mustGet(t, x, "New Page")
	assert.Equal(t, "new page", c.Title)
	assert.False(t, c.Sources["proj"].Page)

	x.AddLink(link("proj", "New Page", 3))
	c = mustGet(t, x, "new_page")
	assert.Equal(t, "New Page", c.Title)
	assert.Equal(t, int64(3), c.UpdatedAt)
	assert.Equal(t, 1, c.Backlinks)
	assert.True(t, c.Sources["proj"].Page)

	// Deleting the page keeps the referenced placeholder.
	require.True(t, x.DeleteLink(link("proj", "New Page", 3)))
	c = mustGet(t, x, "New Page")
	assert.Equal(t, 1, c.Backlinks)
	assert.False(t, c.Sources["proj"].Page)
	assert.Equal(t, int64(0), c.UpdatedAt)
}

func TestDeleteGuardedByNewerVersion(t *testing.T) {
	x := New()
	x.AddLink(link("proj", "Page", 20, "X"))

	assert.False(t, x.DeleteLink(link("proj", "Page", 10, "X")))
	assert.Equal(t, 1, mustGet(t, x, "X").Backlinks)

	assert.True(t, x.DeleteLink(link("proj", "Page", 20, "X")))
	assert.Equal(t, 0, x.Len())
}

func TestNewestWinsPerNamespace(t *testing.T) {
	x := New()
	require.True(t, x.AddLink(link("a", "Shared", 20)))

	// An older page from another namespace still registers its source.
	assert.True(t, x.AddLink(link("b", "Shared", 5, "Other")))
	c := mustGet(t, x, "Shared")
	assert.Equal(t, int64(20), c.UpdatedAt)
	assert.Equal(t, int64(5), c.Sources["b"].UpdatedAt)
	assert.Equal(t, 1, mustGet(t, x, "Other").Backlinks)

	// The same namespace ignores anything not newer.
	assert.False(t, x.AddLink(link("b", "Shared", 5)))
	assert.False(t, x.AddLink(link("a", "Shared", 19)))
}

func TestMultipleNamespacesSameTitle(t *testing.T) {
	x := New()
	x.AddLink(link("a", "Shared", 10))
	x.AddLink(link("b", "shared", 5))

	c := mustGet(t, x, "Shared")
	assert.Equal(t, "Shared", c.Title)
	assert.Equal(t, int64(10), c.UpdatedAt)
	assert.Len(t, c.Sources, 2)

	x.DeleteLink(link("a", "Shared", 10))
	c = mustGet(t, x, "Shared")
	assert.Equal(t, int64(5), c.UpdatedAt)
	assert.Len(t, c.Sources, 1)
}

func TestApplyDiffUpdateOrdering(t *testing.T) {
	x := New()
	v1 := link("proj", "Page", 1, "Old", "Kept")
	v2 := link("proj", "Page", 2, "New", "Kept")
	x.AddLink(v1)

	changed := x.ApplyDiff(feed.Diff{Updated: []feed.Update{{Before: v1, After: v2}}})
	require.True(t, changed)

	_, ok := x.Get("Old")
	assert.False(t, ok)
	assert.Equal(t, 1, mustGet(t, x, "New").Backlinks)
	assert.Equal(t, 1, mustGet(t, x, "Kept").Backlinks)
	assert.Equal(t, int64(2), mustGet(t, x, "Page").UpdatedAt)

	// Replaying the same update is a no-op.
	assert.False(t, x.ApplyDiff(feed.Diff{Updated: []feed.Update{{Before: v1, After: v2}}}))
	assert.Equal(t, 1, mustGet(t, x, "Kept").Backlinks)
}

func TestMissingTimestamp(t *testing.T) {
	x := New()
	assert.True(t, x.AddLink(feed.Link{Namespace: "proj", Title: "Untimed", UpdatedAt: -5}))
	c := mustGet(t, x, "Untimed")
	assert.Equal(t, int64(0), c.UpdatedAt)
	assert.False(t, x.AddLink(feed.Link{Namespace: "proj", Title: "Untimed"}))
}

func TestSnapshotIsImmutable(t *testing.T) {
	x := New()
	x.AddLink(link("proj", "A", 1, "B"))
	snap := x.Snapshot()
	require.Len(t, snap, 2)
	b := snap[1]

	x.AddLink(link("proj", "C", 1, "B"))
	assert.Equal(t, 1, b.Backlinks)
	assert.Len(t, b.Sources, 1)
	assert.Equal(t, 1, snap[1].Backlinks)
	assert.Equal(t, 2, mustGet(t, x, "B").Backlinks)
}

func TestPrefix(t *testing.T) {
	x := New()
	x.AddLink(link("proj", "Daily 2024-01-01", 1))
	x.AddLink(link("proj", "Daily 2024-01-02", 1))
	x.AddLink(link("proj", "Weekly", 1))

	got := x.Prefix("daily ")
	require.Len(t, got, 2)
	assert.Equal(t, "Daily 2024-01-01", got[0].Title)
}
