package remove

import (
	"fmt"
	"strings"

	"go.trai.ch/zerr"
)

var (
	// ErrBreaksPackage is returned when a package left installed depends on a removal target.
	ErrBreaksPackage = zerr.New("removal breaks package")

	// ErrCannotRemove is returned when some paths of a package could not be deleted.
	ErrCannotRemove = zerr.New("cannot remove paths")

	// ErrCannotRemovePackages is returned when at least one package of a batch failed.
	ErrCannotRemovePackages = zerr.New("cannot remove packages")
)

// ConflictError names a dependency that cannot be removed because an
// installed package outside the batch still needs it.
type ConflictError struct {
	Dependency string
	Dependent  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("removing %s breaks %s, which depends on it", e.Dependency, e.Dependent)
}

func (e *ConflictError) Unwrap() error { return ErrBreaksPackage }

// PathError is one path that could not be deleted.
type PathError struct {
	Path string
	Err  error
}

func (e PathError) String() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// PathsError lists the paths of one package that could not be deleted.
type PathsError struct {
	Package string
	Paths   []PathError
}

func (e *PathsError) Error() string {
	parts := make([]string, len(e.Paths))
	for i, p := range e.Paths {
		parts[i] = p.String()
	}
	return fmt.Sprintf("cannot remove %d paths of %s: %s", len(e.Paths), e.Package, strings.Join(parts, "; "))
}

func (e *PathsError) Unwrap() error { return ErrCannotRemove }

// PackagesError aggregates the per-package failures of one removal batch.
type PackagesError struct {
	Packages []*PathsError
}

func (e *PackagesError) Error() string {
	parts := make([]string, len(e.Packages))
	for i, p := range e.Packages {
		parts[i] = p.Error()
	}
	return "cannot remove packages:\n  " + strings.Join(parts, "\n  ")
}

func (e *PackagesError) Unwrap() []error {
	errs := make([]error, 0, len(e.Packages)+1)
	errs = append(errs, ErrCannotRemovePackages)
	for _, p := range e.Packages {
		errs = append(errs, p)
	}
	return errs
}
