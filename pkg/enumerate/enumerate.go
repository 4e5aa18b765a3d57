// Package enumerate selects the files a stream archives. The stream only
// depends on Source, so any listing strategy can feed it.
package enumerate

import (
	"context"
	"path/filepath"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/btree"

	"github.com/beam-cloud/tarstream/pkg/common"
)

// Source is a pull-based sequence of files to archive.
type Source interface {
	// Next returns the next entry, or false once the sequence is exhausted.
	Next() (common.FileEntry, bool)
	// Len is the number of entries not yet returned.
	Len() int
}

// Filter reports whether an entry should be kept.
type Filter func(entry common.FileEntry) bool

type options struct {
	filters []Filter
}

type Option func(*options)

// WithFilter drops entries for which keep returns false.
func WithFilter(keep Filter) Option {
	return func(o *options) {
		o.filters = append(o.filters, keep)
	}
}

// List is a fully materialized Source. It is consumed front to back.
type List struct {
	entries []common.FileEntry
	next    int
}

// FromEntries builds a List from explicit entries, in the given order.
func FromEntries(entries ...common.FileEntry) *List {
	return &List{entries: entries}
}

func (l *List) Next() (common.FileEntry, bool) {
	if l.next >= len(l.entries) {
		return common.FileEntry{}, false
	}
	e := l.entries[l.next]
	l.entries[l.next] = common.FileEntry{}
	l.next++
	return e, true
}

func (l *List) Len() int {
	return len(l.entries) - l.next
}

// Entries returns the entries not yet consumed.
func (l *List) Entries() []common.FileEntry {
	return append([]common.FileEntry(nil), l.entries[l.next:]...)
}

// Dir lists the regular files directly inside dir, ordered by name. Symlinks,
// directories and special files are skipped. Any listing or type-query error
// fails the whole enumeration.
func Dir(ctx context.Context, dir string, opts ...Option) (*List, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	dirents, err := godirwalk.ReadDirents(dir, nil)
	if err != nil {
		return nil, common.NewStreamError(common.ErrEnumeration, dir, err)
	}

	index := newIndex()
	for _, de := range dirents {
		if err := ctx.Err(); err != nil {
			return nil, common.NewStreamError(common.ErrEnumeration, dir, err)
		}

		// godirwalk resolves entries the kernel reported as unknown with an
		// lstat while reading, so the type here is never a guess.
		path := filepath.Join(dir, de.Name())
		if !de.IsRegular() {
			log.Debug().Str("path", path).Str("type", de.ModeType().String()).Msg("skipping non-regular entry")
			continue
		}

		entry := common.FileEntry{Path: path, Name: de.Name()}
		if !o.keep(entry) {
			continue
		}
		index.Set(entry)
	}

	entries := make([]common.FileEntry, 0, index.Len())
	index.Scan(func(e common.FileEntry) bool {
		entries = append(entries, e)
		return true
	})

	log.Debug().Str("dir", dir).Int("files", len(entries)).Int("entries", len(dirents)).Msg("directory enumerated")
	return FromEntries(entries...), nil
}

func (o options) keep(entry common.FileEntry) bool {
	for _, f := range o.filters {
		if f != nil && !f(entry) {
			return false
		}
	}
	return true
}

func newIndex() *btree.BTreeG[common.FileEntry] {
	compare := func(a, b common.FileEntry) bool {
		return a.Name < b.Name
	}
	return btree.NewBTreeGOptions(compare, btree.Options{NoLocks: true})
}
