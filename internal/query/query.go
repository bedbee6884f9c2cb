package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.trai.ch/zerr"
)

// ErrInvalidQuery is returned when a package reference carries an operator
// followed by something that is not a version.
var ErrInvalidQuery = zerr.New("invalid package query")

// ParseError reports the text that failed to parse.
type ParseError struct {
	Text string
	Err  error // version parse failure, if any
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid package query %q: %v", e.Text, e.Err)
	}
	return fmt.Sprintf("invalid package query %q", e.Text)
}

func (e *ParseError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidQuery, e.Err}
	}
	return []error{ErrInvalidQuery}
}

// Op is a version comparison operator.
type Op string

const (
	OpAny Op = ""
	OpEq  Op = "=="
	OpGe  Op = ">="
	OpLe  Op = "<="
	OpGt  Op = ">"
	OpLt  Op = "<"
)

// operators in detection order: two-character operators come first so that
// ">=" is not mistaken for ">".
var operators = []Op{OpEq, OpGe, OpLe, OpGt, OpLt}

// Requirement is an immutable version comparison, e.g. ">=1.2.0".
// The zero value matches any version.
type Requirement struct {
	op      Op
	raw     string
	version *semver.Version
}

// Any returns the requirement that matches every version.
func Any() Requirement {
	return Requirement{}
}

// NewRequirement builds a requirement from an operator and a version text.
func NewRequirement(op Op, raw string) (Requirement, error) {
	if op == OpAny {
		return Requirement{}, nil
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return Requirement{}, &ParseError{Text: string(op) + raw, Err: err}
	}
	return Requirement{op: op, raw: raw, version: v}, nil
}

// IsAny reports whether the requirement accepts every version.
func (r Requirement) IsAny() bool { return r.op == OpAny }

// Matches reports whether v satisfies the requirement.
func (r Requirement) Matches(v *semver.Version) bool {
	if r.op == OpAny {
		return true
	}
	if v == nil {
		return false
	}
	cmp := v.Compare(r.version)
	switch r.op {
	case OpEq:
		return cmp == 0
	case OpGe:
		return cmp >= 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpLt:
		return cmp < 0
	}
	return false
}

// String renders the requirement exactly as it was parsed. The "any"
// requirement renders as the empty string.
func (r Requirement) String() string {
	return string(r.op) + r.raw
}

// Describe is like String but spells out the "any" requirement, for messages.
func (r Requirement) Describe() string {
	if r.op == OpAny {
		return "any"
	}
	return r.String()
}

// Query is a package name with a version requirement.
type Query struct {
	Name        string
	Requirement Requirement
}

// String renders the query in the same grammar Parse accepts.
func (q Query) String() string {
	return q.Name + q.Requirement.String()
}

// Parse parses "name" or "name<op><version>", e.g. "linux>=5.5.3".
func Parse(text string) (Query, error) {
	for _, op := range operators {
		name, rest, found := strings.Cut(text, string(op))
		if !found {
			continue
		}
		if name == "" {
			return Query{}, &ParseError{Text: text}
		}
		req, err := NewRequirement(op, rest)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				err = pe.Err
			}
			return Query{}, &ParseError{Text: text, Err: err}
		}
		return Query{Name: name, Requirement: req}, nil
	}
	if text == "" {
		return Query{}, &ParseError{Text: text}
	}
	return Query{Name: text}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// static tables.
func MustParse(text string) Query {
	q, err := Parse(text)
	if err != nil {
		panic(fmt.Sprintf("query: parse %q: %v", text, err))
	}
	return q
}

// ParseVersion parses a strict semantic version (major.minor.patch with an
// optional pre-release and build metadata).
func ParseVersion(text string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(text)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "invalid version"), "version", text)
	}
	return v, nil
}

// MustParseVersion is like ParseVersion but panics on error.
func MustParseVersion(text string) *semver.Version {
	v, err := ParseVersion(text)
	if err != nil {
		panic(fmt.Sprintf("query: parse version %q: %v", text, err))
	}
	return v
}
