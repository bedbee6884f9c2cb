package pkgdb

import (
	"bytes"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"go.trai.ch/zerr"

	"github.com/frederic-klein/nbpm/internal/query"
)

const setKey = "set"

// Field names of a record table.
const (
	fieldVersion     = "version"
	fieldDepends     = "depends"
	fieldDescription = "description"
	fieldLocation    = "location"
	fieldPaths       = "paths"
)

// Decode parses a PkgDb document: a top-level "set" key plus one table per
// package.
func Decode(data []byte) (*PkgDb, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, &LoadError{Err: zerr.Wrap(err, "parsing TOML")}
	}

	setRaw, ok := raw[setKey].(string)
	if !ok {
		return nil, &LoadError{Err: fmt.Errorf("missing or non-string %q field", setKey)}
	}
	set, err := ParseSet(setRaw)
	if err != nil {
		return nil, &LoadError{Err: err}
	}
	delete(raw, setKey)

	records, err := decodeRecords(raw, set)
	if err != nil {
		return nil, err
	}
	return &PkgDb{set: set, records: records}, nil
}

// DecodeRecords parses a document made only of package tables, as found in
// a package archive's metadata file. Every record must be a member of set.
func DecodeRecords(data []byte, set Set) (map[string]*Record, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, &LoadError{Err: zerr.Wrap(err, "parsing TOML")}
	}
	return decodeRecords(raw, set)
}

func decodeRecords(raw map[string]any, set Set) (map[string]*Record, error) {
	records := make(map[string]*Record, len(raw))
	for name, v := range raw {
		table, ok := v.(map[string]any)
		if !ok {
			return nil, &LoadError{Err: fmt.Errorf("package %s: expected a table, got %T", name, v)}
		}
		rec, err := decodeRecord(name, table)
		if err != nil {
			return nil, err
		}
		if rec.SetInfo != nil && rec.SetInfo.Set() != set {
			return nil, &SetConsistencyError{Name: name, Expected: set}
		}
		records[name] = rec
	}
	return records, nil
}

func decodeRecord(name string, table map[string]any) (*Record, error) {
	fail := func(format string, args ...any) error {
		return &LoadError{Err: fmt.Errorf("package %s: "+format, append([]any{name}, args...)...)}
	}

	rec := &Record{Name: name}
	var location *string
	var paths []string
	hasPaths := false

	for key, v := range table {
		switch key {
		case fieldVersion:
			s, ok := v.(string)
			if !ok {
				return nil, fail("%s must be a string", key)
			}
			ver, err := query.ParseVersion(s)
			if err != nil {
				return nil, fail("%v", err)
			}
			rec.Version = ver
		case fieldDescription:
			s, ok := v.(string)
			if !ok {
				return nil, fail("%s must be a string", key)
			}
			rec.Description = s
		case fieldDepends:
			list, err := stringList(v)
			if err != nil {
				return nil, fail("%s: %v", key, err)
			}
			for _, item := range list {
				q, err := query.Parse(item)
				if err != nil {
					return nil, fail("dependency %q: %v", item, err)
				}
				rec.Depends = append(rec.Depends, q)
			}
		case fieldLocation:
			s, ok := v.(string)
			if !ok {
				return nil, fail("%s must be a string", key)
			}
			location = &s
		case fieldPaths:
			list, err := stringList(v)
			if err != nil {
				return nil, fail("%s: %v", key, err)
			}
			paths = list
			hasPaths = true
		default:
			return nil, fail("unknown field %q", key)
		}
	}

	if rec.Version == nil {
		return nil, fail("missing %s", fieldVersion)
	}

	switch {
	case location != nil && hasPaths:
		return nil, fail("both %s and %s are set", fieldLocation, fieldPaths)
	case location != nil:
		rec.SetInfo = Universe{Location: *location}
	case hasPaths:
		rec.SetInfo = Local{Paths: paths}
	}
	return rec, nil
}

func stringList(v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list of strings, got %T", v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}

// Encode renders the PkgDb as an indented TOML document.
func Encode(db *PkgDb) ([]byte, error) {
	doc := encodeRecords(db.records)
	doc[setKey] = string(db.set)
	return marshal(doc)
}

// EncodeRecords renders package tables without a "set" key, the layout of a
// package archive's metadata file.
func EncodeRecords(records map[string]*Record) ([]byte, error) {
	return marshal(encodeRecords(records))
}

func encodeRecords(records map[string]*Record) map[string]any {
	doc := make(map[string]any, len(records)+1)
	for name, rec := range records {
		table := map[string]any{
			fieldVersion:     rec.Version.String(),
			fieldDescription: rec.Description,
		}
		if len(rec.Depends) > 0 {
			deps := make([]string, len(rec.Depends))
			for i, d := range rec.Depends {
				deps[i] = d.String()
			}
			table[fieldDepends] = deps
		}
		switch info := rec.SetInfo.(type) {
		case Universe:
			table[fieldLocation] = info.Location
		case Local:
			paths := info.Paths
			if paths == nil {
				paths = []string{}
			}
			table[fieldPaths] = paths
		case nil:
			// meta-package
		}
		doc[name] = table
	}
	return doc
}

func marshal(doc map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(doc); err != nil {
		return nil, zerr.Wrap(err, "encoding PkgDb")
	}
	return buf.Bytes(), nil
}
