package remove

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/frederic-klein/nbpm/internal/logger"
	"github.com/frederic-klein/nbpm/internal/pkgdb"
	"github.com/frederic-klein/nbpm/internal/resolver"
)

// Remover deletes installed packages.
type Remover struct {
	logger *slog.Logger

	// removeFile deletes one non-directory path.
	removeFile func(string) error
}

// New creates a Remover. A nil log discards log output.
func New(log *slog.Logger) *Remover {
	if log == nil {
		log = logger.Discard()
	}
	return &Remover{logger: log, removeFile: os.Remove}
}

// Target resolves the packages to remove. With recursive set, the
// installed dependencies of names are included.
func Target(names []string, recursive bool, local *pkgdb.PkgDb) (resolver.Subgraph, error) {
	return resolver.Resolve(local, names, recursive)
}

// CheckConflicts fails with a *ConflictError if a package of local outside
// target depends on a target package through a requirement the target's
// version satisfies. Packages are checked in name order.
func CheckConflicts(target resolver.Subgraph, local *pkgdb.PkgDb) error {
	for _, name := range local.Names() {
		if _, ok := target[name]; ok {
			continue
		}
		rec, _ := local.Lookup(name)
		for _, dep := range rec.Depends {
			victim, ok := target[dep.Name]
			if !ok {
				continue
			}
			if dep.Requirement.Matches(victim.Version) {
				return &ConflictError{Dependency: dep.Name, Dependent: name}
			}
		}
	}
	return nil
}

type deferredDir struct {
	path  string
	owner string
}

// Remove deletes the files of every target package and drops the packages
// from local.
//
// Conflicts abort the batch before anything is touched. Files go first,
// then directories deepest first and only when empty, so directories
// shared with packages that stay installed are kept. A package with a path
// that could not be deleted stays in local and is reported in a
// *PackagesError; the others are removed.
func (r *Remover) Remove(target resolver.Subgraph, local *pkgdb.PkgDb) error {
	if err := CheckConflicts(target, local); err != nil {
		return err
	}

	failures := make(map[string]*PathsError)
	fail := func(pkg, path string, err error) {
		r.logger.Warn("cannot remove path", "package", pkg, "path", path, "error", err)
		pe, ok := failures[pkg]
		if !ok {
			pe = &PathsError{Package: pkg}
			failures[pkg] = pe
		}
		pe.Paths = append(pe.Paths, PathError{Path: path, Err: err})
	}

	var dirs []deferredDir
	for _, name := range target.Names() {
		rec := target[name]
		switch info := rec.SetInfo.(type) {
		case nil:
			r.logger.Info("removing meta-package", "package", name)
		case pkgdb.Local:
			r.logger.Info("removing package", "package", name, "version", rec.Version)
			for _, path := range info.Paths {
				st, err := os.Lstat(path)
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				if err != nil {
					fail(name, path, err)
					continue
				}
				if st.IsDir() {
					dirs = append(dirs, deferredDir{path: path, owner: name})
					continue
				}
				if err := r.removeFile(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
					fail(name, path, err)
				}
			}
		default:
			fail(name, "", &pkgdb.SetConsistencyError{Name: name, Expected: pkgdb.SetLocal})
		}
	}

	sort.SliceStable(dirs, func(i, j int) bool {
		return depth(dirs[i].path) > depth(dirs[j].path)
	})
	for _, d := range dirs {
		entries, err := os.ReadDir(d.path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			fail(d.owner, d.path, err)
			continue
		}
		if len(entries) > 0 {
			r.logger.Debug("keeping non-empty directory", "path", d.path)
			continue
		}
		if err := os.Remove(d.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			fail(d.owner, d.path, err)
		}
	}

	for _, name := range target.Names() {
		if _, failed := failures[name]; !failed {
			local.Remove(name)
		}
	}

	if len(failures) == 0 {
		return nil
	}
	agg := &PackagesError{}
	for _, name := range target.Names() {
		if pe, ok := failures[name]; ok {
			agg.Packages = append(agg.Packages, pe)
		}
	}
	return agg
}

func depth(path string) int {
	return strings.Count(filepath.Clean(path), string(filepath.Separator))
}
