package resolver

import (
	"sort"

	"github.com/frederic-klein/nbpm/internal/pkgdb"
	"github.com/frederic-klein/nbpm/internal/query"
)

// Subgraph maps package names to records borrowed from the PkgDb it was
// resolved from. It must not be used after that PkgDb is mutated.
type Subgraph map[string]*pkgdb.Record

// Names returns the package names of the subgraph in sorted order.
func (g Subgraph) Names() []string {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve computes a subgraph of db.
//
// A nil selection starts from every record of db. With follow set, the
// result is the transitive closure of the selection over dependency edges,
// checked with CheckIntegrity. Without it, the result is exactly the selected
// records.
func Resolve(db *pkgdb.PkgDb, selection []string, follow bool) (Subgraph, error) {
	if selection == nil {
		selection = db.Names()
	}

	if !follow {
		graph := make(Subgraph, len(selection))
		for _, name := range selection {
			rec, err := db.Get(name)
			if err != nil {
				return nil, err
			}
			graph[name] = rec
		}
		return graph, nil
	}

	// Work list used as a stack; a name enters it at most once.
	pending := make([]string, 0, len(selection))
	queued := make(map[string]bool, len(selection))
	for _, name := range selection {
		if _, err := db.Get(name); err != nil {
			return nil, err
		}
		if !queued[name] {
			queued[name] = true
			pending = append(pending, name)
		}
	}

	resolved := make(Subgraph)
	for len(pending) > 0 {
		current := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		// Absent dependencies are reported by CheckIntegrity.
		rec, ok := db.Lookup(current)
		if !ok {
			continue
		}
		for _, dep := range rec.Depends {
			if queued[dep.Name] {
				continue
			}
			if _, ok := resolved[dep.Name]; ok {
				continue
			}
			queued[dep.Name] = true
			pending = append(pending, dep.Name)
		}
		resolved[current] = rec
	}

	if err := CheckIntegrity(resolved); err != nil {
		return nil, err
	}
	return resolved, nil
}

// SelectionDependent names the user's selection as the dependent in errors
// about requested versions.
const SelectionDependent = "(selection)"

// ResolveQueries is like Resolve with follow set, starting from the names of
// queries. Each selected record must also satisfy its query's requirement,
// otherwise a *pkgdb.BrokenDependencyError is returned.
func ResolveQueries(db *pkgdb.PkgDb, queries []query.Query) (Subgraph, error) {
	names := make([]string, len(queries))
	for i, q := range queries {
		names[i] = q.Name
	}
	graph, err := Resolve(db, names, true)
	if err != nil {
		return nil, err
	}
	for _, q := range queries {
		rec := graph[q.Name]
		if !q.Requirement.Matches(rec.Version) {
			return nil, &pkgdb.BrokenDependencyError{
				Dependency:  q.Name,
				Dependent:   SelectionDependent,
				Requirement: q.Requirement,
				Actual:      rec.Version,
			}
		}
	}
	return graph, nil
}

// CheckIntegrity verifies that every dependency edge of graph points at a
// record inside graph whose version satisfies the edge's requirement.
// Records are visited in name order so the reported error is deterministic.
func CheckIntegrity(graph Subgraph) error {
	for _, name := range graph.Names() {
		rec := graph[name]
		for _, dep := range rec.Depends {
			target, ok := graph[dep.Name]
			if !ok {
				return &pkgdb.MissingDependencyError{
					Dependency:  dep.Name,
					Dependent:   name,
					Requirement: dep.Requirement,
				}
			}
			if !dep.Requirement.Matches(target.Version) {
				return &pkgdb.BrokenDependencyError{
					Dependency:  dep.Name,
					Dependent:   name,
					Requirement: dep.Requirement,
					Actual:      target.Version,
				}
			}
		}
	}
	return nil
}

// InstallOrder returns the names of graph with every dependency ahead of its
// dependents. Ties are broken by name; edges leaving the graph and edges
// closing a cycle are ignored.
func InstallOrder(graph Subgraph) []string {
	order := make([]string, 0, len(graph))
	visited := make(map[string]bool, len(graph))

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		rec, ok := graph[name]
		if !ok {
			return
		}
		deps := make([]string, 0, len(rec.Depends))
		for _, dep := range rec.Depends {
			deps = append(deps, dep.Name)
		}
		sort.Strings(deps)
		for _, dep := range deps {
			if _, ok := graph[dep]; ok {
				visit(dep)
			}
		}
		order = append(order, name)
	}

	for _, name := range graph.Names() {
		visit(name)
	}
	return order
}
