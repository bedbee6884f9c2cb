package pkgdb

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"go.trai.ch/zerr"

	"github.com/frederic-klein/nbpm/internal/query"
)

var (
	// ErrPackageNotFound is returned when a name is absent from a PkgDb.
	ErrPackageNotFound = zerr.New("package not found")

	// ErrMissingDependency is returned when a dependency is absent from a resolved graph.
	ErrMissingDependency = zerr.New("missing dependency")

	// ErrBrokenDependency is returned when a dependency is present but its version does not match.
	ErrBrokenDependency = zerr.New("broken dependency")

	// ErrBrokenSetConsistency is returned when a record's payload belongs to another set.
	ErrBrokenSetConsistency = zerr.New("broken set consistency")

	// ErrLoad is returned when a PkgDb document cannot be read or decoded.
	ErrLoad = zerr.New("cannot load PkgDb")
)

// NotFoundError names the package that was looked up.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("package %s not found", e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrPackageNotFound }

// MissingDependencyError reports a dependency edge whose target is absent.
type MissingDependencyError struct {
	Dependency  string
	Dependent   string
	Requirement query.Requirement
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("missing dependency %s (%s) required by %s",
		e.Dependency, e.Requirement.Describe(), e.Dependent)
}

func (e *MissingDependencyError) Unwrap() error { return ErrMissingDependency }

// BrokenDependencyError reports a dependency edge whose target version does
// not satisfy the requirement.
type BrokenDependencyError struct {
	Dependency  string
	Dependent   string
	Requirement query.Requirement
	Actual      *semver.Version
}

func (e *BrokenDependencyError) Error() string {
	return fmt.Sprintf("broken dependency: expected version (%s), got (%s): %s required by %s",
		e.Requirement.Describe(), e.Actual, e.Dependency, e.Dependent)
}

func (e *BrokenDependencyError) Unwrap() error { return ErrBrokenDependency }

// SetConsistencyError reports a record that does not belong to the expected set.
type SetConsistencyError struct {
	Name     string
	Expected Set
}

func (e *SetConsistencyError) Error() string {
	return fmt.Sprintf("package %s breaks set consistency, the expected set is %s", e.Name, e.Expected)
}

func (e *SetConsistencyError) Unwrap() error { return ErrBrokenSetConsistency }

// LoadError wraps the I/O or decoding failure behind a PkgDb load.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("cannot load PkgDb: %v", e.Err)
	}
	return fmt.Sprintf("cannot load PkgDb %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() []error { return []error{ErrLoad, e.Err} }
