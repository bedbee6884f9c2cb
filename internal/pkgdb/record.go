package pkgdb

import (
	"fmt"
	"path/filepath"

	"github.com/Masterminds/semver/v3"

	"github.com/frederic-klein/nbpm/internal/query"
)

// Set identifies which namespace a PkgDb describes.
type Set string

const (
	SetUniverse Set = "universe" // available in the remote repository
	SetLocal    Set = "local"    // installed on this system
)

// ParseSet parses the textual form of a Set.
func ParseSet(s string) (Set, error) {
	switch Set(s) {
	case SetUniverse, SetLocal:
		return Set(s), nil
	}
	return "", fmt.Errorf("unknown set %q", s)
}

// SetInfo is the set-specific payload of a Record. It is either Universe,
// Local, or nil for a meta-package.
type SetInfo interface {
	Set() Set
	setInfo()
}

// Universe holds the payload of a package available for installation.
type Universe struct {
	Location string // e.g., "core/x86_64"
}

// Set implements SetInfo.
func (Universe) Set() Set { return SetUniverse }

func (Universe) setInfo() {}

// Local holds the payload of an installed package.
type Local struct {
	Paths []string // files and directories owned by the package
}

// Set implements SetInfo.
func (Local) Set() Set { return SetLocal }

func (Local) setInfo() {}

// WithRoot returns a copy with every path anchored below root.
func (l Local) WithRoot(root string) Local {
	paths := make([]string, len(l.Paths))
	for i, p := range l.Paths {
		paths[i] = filepath.Join(root, p)
	}
	return Local{Paths: paths}
}

// Record represents one package of a PkgDb.
type Record struct {
	Name        string
	Version     *semver.Version
	Depends     []query.Query // nil when the package has no dependencies
	Description string
	SetInfo     SetInfo // nil for meta-packages
}

// IsMeta reports whether the record is a meta-package.
func (r *Record) IsMeta() bool {
	return r.SetInfo == nil
}

// Clone returns a copy of r that shares no mutable state with it.
func (r *Record) Clone() *Record {
	c := *r
	if r.Depends != nil {
		c.Depends = append([]query.Query(nil), r.Depends...)
	}
	if l, ok := r.SetInfo.(Local); ok {
		c.SetInfo = Local{Paths: append([]string(nil), l.Paths...)}
	}
	return &c
}

func (r *Record) String() string {
	return fmt.Sprintf("%s   %s", r.Version, r.Description)
}
