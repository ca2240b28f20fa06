// Package feed defines the change feed the candidate index is built from.
//
// A Feed delivers the pages of one or more namespaces as Links, first as an
// initial Load and then as incremental Diffs to subscribers. Memory is an
// in-process Feed; internal/store provides a persistent one.
package feed

import (
	"context"
)

// Link is one page of a namespace together with the titles it links to.
type Link struct {
	Title     string   `msgpack:"title" json:"title"`
	Namespace string   `msgpack:"ns" json:"namespace"`
	UpdatedAt int64    `msgpack:"updated" json:"updated"`
	Links     []string `msgpack:"links,omitempty" json:"links,omitempty"`
	Icon      string   `msgpack:"icon,omitempty" json:"icon,omitempty"`
}

// Update pairs the previous and the new version of a page.
type Update struct {
	Before Link
	After  Link
}

// Diff is one batch of changes.
type Diff struct {
	Added   []Link
	Updated []Update
	Deleted []Link
}

// Empty reports whether the diff carries no change.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Deleted) == 0
}

// Feed is the external source of links.
type Feed interface {
	// Load returns the current links of the given namespaces.
	Load(ctx context.Context, namespaces []string) ([]Link, error)
	// Subscribe registers onDiff for changes in the given namespaces.
	// The returned function removes the subscription.
	Subscribe(namespaces []string, onDiff func(Diff)) (func(), error)
}
