package install

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.trai.ch/zerr"
)

var (
	// ErrRequiresDowngrade is returned when a target is older than the installed package.
	ErrRequiresDowngrade = zerr.New("package requires downgrade")

	// ErrCleanUninstall is returned when an install failed and every copied file was removed.
	ErrCleanUninstall = zerr.New("installation failed, copied files were removed")

	// ErrDirtyUninstall is returned when an install failed and some copied files remain.
	ErrDirtyUninstall = zerr.New("installation failed, some copied files could not be removed")

	// ErrBadMetadata is returned when an archive's metadata does not describe the package.
	ErrBadMetadata = zerr.New("invalid package metadata")
)

// DowngradeError names the package whose target version is older than the
// installed one.
type DowngradeError struct {
	Name      string
	Installed *semver.Version
	Target    *semver.Version
}

func (e *DowngradeError) Error() string {
	return fmt.Sprintf("package %s requires downgrade from %s to %s", e.Name, e.Installed, e.Target)
}

func (e *DowngradeError) Unwrap() error { return ErrRequiresDowngrade }

// RollbackError is the terminal error of a failed install. Leftover lists
// the files that could not be removed or restored again.
type RollbackError struct {
	Package  string
	Cause    error
	Leftover []string
}

func (e *RollbackError) Clean() bool {
	return len(e.Leftover) == 0
}

func (e *RollbackError) Error() string {
	if e.Clean() {
		return fmt.Sprintf("installing %s: %v (all copied files were rolled back)", e.Package, e.Cause)
	}
	return fmt.Sprintf("installing %s: %v (cannot roll back %d files: %s)",
		e.Package, e.Cause, len(e.Leftover), strings.Join(e.Leftover, ", "))
}

func (e *RollbackError) Unwrap() []error {
	if e.Clean() {
		return []error{ErrCleanUninstall, e.Cause}
	}
	return []error{ErrDirtyUninstall, e.Cause}
}

// MetadataError reports an archive whose metadata file does not match the
// record being installed.
type MetadataError struct {
	Package string
	Reason  string
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("package %s: %s", e.Package, e.Reason)
}

func (e *MetadataError) Unwrap() error { return ErrBadMetadata }
