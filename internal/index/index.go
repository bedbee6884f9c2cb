package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.trai.ch/zerr"

	"github.com/frederic-klein/nbpm/internal/pkgdb"
)

// StaleAfter is the age after which a cached index should be refreshed.
const StaleAfter = 24 * time.Hour

// ErrIndexLoad is returned when the cached index cannot be loaded.
var ErrIndexLoad = zerr.New("cannot load repository index")

// LoadError wraps the failure behind an index load.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("cannot load repository index %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() []error { return []error{ErrIndexLoad, e.Err} }

// Fetcher downloads url into destPath.
type Fetcher interface {
	Fetch(ctx context.Context, url, destPath string) error
}

// Index is the Universe PkgDb cached at a local path.
type Index struct {
	url     string
	path    string
	fetcher Fetcher
}

// NewIndex creates an index mirrored from url into path.
func NewIndex(url, path string, fetcher Fetcher) *Index {
	return &Index{
		url:     url,
		path:    path,
		fetcher: fetcher,
	}
}

// Path returns the location of the cached index.
func (idx *Index) Path() string {
	return idx.path
}

// Update downloads the index and replaces the cached copy. The cached copy
// is only replaced by a document that loads as a universe PkgDb.
func (idx *Index) Update(ctx context.Context) (*pkgdb.PkgDb, error) {
	if err := os.MkdirAll(filepath.Dir(idx.path), 0755); err != nil {
		return nil, zerr.Wrap(err, "creating index directory")
	}

	download := idx.path + ".download"
	defer os.Remove(download)

	if err := idx.fetcher.Fetch(ctx, idx.url, download); err != nil {
		return nil, err
	}

	db, err := load(download)
	if err != nil {
		return nil, err
	}

	if err := os.Rename(download, idx.path); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "replacing index"), "path", idx.path)
	}
	return db, nil
}

// Load reads the cached index.
func (idx *Index) Load() (*pkgdb.PkgDb, error) {
	return load(idx.path)
}

func load(path string) (*pkgdb.PkgDb, error) {
	db, err := pkgdb.Load(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	if db.Set() != pkgdb.SetUniverse {
		return nil, &LoadError{
			Path: path,
			Err:  &pkgdb.SetConsistencyError{Name: filepath.Base(path), Expected: pkgdb.SetUniverse},
		}
	}
	return db, nil
}

// IsStale reports whether the cached index is missing or older than maxAge.
func (idx *Index) IsStale(maxAge time.Duration) bool {
	info, err := os.Stat(idx.path)
	if err != nil {
		return true
	}
	return time.Since(info.ModTime()) >= maxAge
}

// Search returns the record named term if there is one. Otherwise it
// returns every record whose name contains term, ignoring case, sorted by
// name. No match is a *pkgdb.NotFoundError.
func Search(db *pkgdb.PkgDb, term string) ([]*pkgdb.Record, error) {
	if rec, ok := db.Lookup(term); ok {
		return []*pkgdb.Record{rec}, nil
	}

	needle := strings.ToLower(term)
	var matches []*pkgdb.Record
	for _, name := range db.Names() {
		if strings.Contains(strings.ToLower(name), needle) {
			rec, _ := db.Lookup(name)
			matches = append(matches, rec)
		}
	}
	if len(matches) == 0 {
		return nil, &pkgdb.NotFoundError{Name: term}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })
	return matches, nil
}
