// Package pkgdb implements the package database: the mapping from package
// name to Record for one Set, persisted as TOML.
package pkgdb

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"go.trai.ch/zerr"
)

// PkgDb holds every Record of one Set, keyed by package name.
type PkgDb struct {
	set     Set
	records map[string]*Record
}

// New creates an empty PkgDb for the given set.
func New(set Set) *PkgDb {
	return &PkgDb{
		set:     set,
		records: make(map[string]*Record),
	}
}

// Load reads and decodes the PkgDb stored at path.
func Load(path string) (*PkgDb, error) {
	//nolint:gosec // Path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	db, err := Decode(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
		}
		return nil, err
	}
	return db, nil
}

// LoadOrNew is like Load, but returns an empty PkgDb of the given set when
// no file exists at path yet. An existing file of a different set is a set
// consistency error.
func LoadOrNew(path string, set Set) (*PkgDb, error) {
	db, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(set), nil
	}
	if err != nil {
		return nil, err
	}
	if db.set != set {
		return nil, &SetConsistencyError{Name: filepath.Base(path), Expected: set}
	}
	return db, nil
}

// Set returns the set this PkgDb describes.
func (db *PkgDb) Set() Set {
	return db.set
}

// Len returns the number of records.
func (db *PkgDb) Len() int {
	return len(db.records)
}

// Get returns the record for name, or a *NotFoundError.
func (db *PkgDb) Get(name string) (*Record, error) {
	rec, ok := db.records[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return rec, nil
}

// Lookup returns the record for name and whether it exists.
func (db *PkgDb) Lookup(name string) (*Record, bool) {
	rec, ok := db.records[name]
	return rec, ok
}

// Insert adds or replaces the record stored under name and returns the
// previous record, if any. The record's payload must belong to this PkgDb's
// set.
func (db *PkgDb) Insert(name string, rec *Record) (*Record, error) {
	if rec.SetInfo != nil && rec.SetInfo.Set() != db.set {
		return nil, &SetConsistencyError{Name: name, Expected: db.set}
	}
	rec.Name = name
	prev := db.records[name]
	db.records[name] = rec
	return prev, nil
}

// Remove deletes the record stored under name and returns it.
func (db *PkgDb) Remove(name string) (*Record, bool) {
	rec, ok := db.records[name]
	if ok {
		delete(db.records, name)
	}
	return rec, ok
}

// ContainsName reports whether a record named name exists.
func (db *PkgDb) ContainsName(name string) bool {
	_, ok := db.records[name]
	return ok
}

// Contains reports whether a record named name exists with exactly version v.
func (db *PkgDb) Contains(name string, v *semver.Version) bool {
	rec, ok := db.records[name]
	return ok && rec.Version.Equal(v)
}

// Names returns all package names in sorted order.
func (db *PkgDb) Names() []string {
	names := make([]string, 0, len(db.records))
	for name := range db.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Persist serializes the PkgDb to its TOML form.
func (db *PkgDb) Persist() ([]byte, error) {
	return Encode(db)
}

// Save persists the PkgDb and writes it to path, replacing any previous file
// atomically.
func (db *PkgDb) Save(path string) error {
	data, err := db.Persist()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return zerr.Wrap(err, "creating PkgDb directory")
	}

	// Write to temp file first, then rename
	tmpPath := path + ".tmp"
	//nolint:gosec // Path comes from configuration
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return zerr.With(zerr.Wrap(err, "writing PkgDb"), "path", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return zerr.With(zerr.Wrap(err, "renaming PkgDb"), "path", path)
	}
	return nil
}
