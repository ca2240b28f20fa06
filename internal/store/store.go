// Package store persists namespaced page links in a bbolt database and
// implements feed.Feed on top of it. Each namespace is a top-level bucket
// keyed by page title with msgpack encoded feed.Link values. Every committed
// write is published as a feed.Diff to the subscribers of its namespace.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bastiangx/titleserve/internal/logger"
	"github.com/bastiangx/titleserve/pkg/feed"
	"github.com/charmbracelet/log"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

// ErrNoNamespace is returned when an operation names a namespace the
// database has no bucket for.
var ErrNoNamespace = errors.New("store: no such namespace")

// Store is a persistent feed.Feed.
type Store struct {
	db  *bolt.DB
	log *log.Logger

	mu     sync.RWMutex
	subs   map[int]subscription
	nextID int
}

type subscription struct {
	namespaces map[string]struct{}
	onDiff     func(feed.Diff)
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt open %s: %w", path, err)
	}
	return &Store{
		db:   db,
		log:  logger.New("store"),
		subs: make(map[int]subscription),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

// Namespaces returns the namespaces present in the database, sorted.
func (s *Store) Namespaces() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			out = append(out, string(name))
			return nil
		})
	})
	return out, err
}

// Count returns the number of pages in namespace.
func (s *Store) Count(namespace string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return ErrNoNamespace
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// Load implements feed.Feed. Namespaces without a bucket yield no links.
// Links come back in title byte order per namespace.
func (s *Store) Load(ctx context.Context, namespaces []string) ([]feed.Link, error) {
	var out []feed.Link
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, ns := range namespaces {
			b := tx.Bucket([]byte(ns))
			if b == nil {
				s.log.Debug("namespace not in database", "ns", ns)
				continue
			}
			err := b.ForEach(func(_, v []byte) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				l, err := decode(v)
				if err != nil {
					return fmt.Errorf("namespace %q: %w", ns, err)
				}
				out = append(out, l)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Subscribe implements feed.Feed.
func (s *Store) Subscribe(namespaces []string, onDiff func(feed.Diff)) (func(), error) {
	set := make(map[string]struct{}, len(namespaces))
	for _, ns := range namespaces {
		set[ns] = struct{}{}
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = subscription{namespaces: set, onDiff: onDiff}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}, nil
}

// Put writes l and publishes it as added or updated. Writing a link equal
// to the stored one publishes nothing.
func (s *Store) Put(ctx context.Context, l feed.Link) error {
	if l.Namespace == "" || l.Title == "" {
		return fmt.Errorf("store: link needs a namespace and a title")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := msgpack.Marshal(&l)
	if err != nil {
		return err
	}

	var before []byte
	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(l.Namespace))
		if err != nil {
			return err
		}
		if old := b.Get([]byte(l.Title)); old != nil {
			before = bytes.Clone(old)
		}
		return b.Put([]byte(l.Title), v)
	})
	if err != nil {
		return err
	}

	switch {
	case before == nil:
		s.publish(l.Namespace, feed.Diff{Added: []feed.Link{l}})
	case bytes.Equal(before, v):
	default:
		prev, err := decode(before)
		if err != nil {
			return err
		}
		s.publish(l.Namespace, feed.Diff{Updated: []feed.Update{{Before: prev, After: l}}})
	}
	return nil
}

// Delete removes a page. It reports whether the page existed.
func (s *Store) Delete(ctx context.Context, namespace, title string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var removed *feed.Link
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return ErrNoNamespace
		}
		v := b.Get([]byte(title))
		if v == nil {
			return nil
		}
		l, err := decode(v)
		if err != nil {
			return err
		}
		removed = &l
		return b.Delete([]byte(title))
	})
	if err != nil || removed == nil {
		return false, err
	}
	s.publish(namespace, feed.Diff{Deleted: []feed.Link{*removed}})
	return true, nil
}

// DropNamespace removes a namespace with all its pages.
func (s *Store) DropNamespace(ctx context.Context, namespace string) error {
	links, err := s.Load(ctx, []string{namespace})
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(namespace)); err != nil {
			if errors.Is(err, bolt.ErrBucketNotFound) {
				return ErrNoNamespace
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(links) > 0 {
		s.publish(namespace, feed.Diff{Deleted: links})
	}
	return nil
}

// Import writes links in one transaction and publishes one diff per
// namespace. It returns the number of links that changed.
func (s *Store) Import(ctx context.Context, links []feed.Link) (int, error) {
	diffs := make(map[string]*feed.Diff)
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, l := range links {
			if err := ctx.Err(); err != nil {
				return err
			}
			if l.Namespace == "" || l.Title == "" {
				return fmt.Errorf("store: link %+v needs a namespace and a title", l)
			}
			b, err := tx.CreateBucketIfNotExists([]byte(l.Namespace))
			if err != nil {
				return err
			}
			v, err := msgpack.Marshal(&l)
			if err != nil {
				return err
			}
			old := b.Get([]byte(l.Title))
			if old != nil && bytes.Equal(old, v) {
				continue
			}

			d := diffs[l.Namespace]
			if d == nil {
				d = &feed.Diff{}
				diffs[l.Namespace] = d
			}
			if old == nil {
				d.Added = append(d.Added, l)
			} else {
				prev, err := decode(old)
				if err != nil {
					return err
				}
				d.Updated = append(d.Updated, feed.Update{Before: prev, After: l})
			}
			if err := b.Put([]byte(l.Title), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	namespaces := make([]string, 0, len(diffs))
	for ns := range diffs {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	n := 0
	for _, ns := range namespaces {
		d := diffs[ns]
		n += len(d.Added) + len(d.Updated)
		s.publish(ns, *d)
	}
	s.log.Info("import finished", "links", len(links), "changed", n)
	return n, nil
}

// publish delivers d to the subscribers of namespace, outside of any lock.
func (s *Store) publish(namespace string, d feed.Diff) {
	if d.Empty() {
		return
	}
	s.mu.RLock()
	var targets []func(feed.Diff)
	for _, sub := range s.subs {
		if _, ok := sub.namespaces[namespace]; ok {
			targets = append(targets, sub.onDiff)
		}
	}
	s.mu.RUnlock()

	for _, fn := range targets {
		fn(d)
	}
}

func decode(v []byte) (feed.Link, error) {
	var l feed.Link
	if err := msgpack.Unmarshal(v, &l); err != nil {
		return feed.Link{}, fmt.Errorf("decode link: %w", err)
	}
	return l, nil
}
