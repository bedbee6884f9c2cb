package install

import (
	"github.com/Masterminds/semver/v3"

	"github.com/frederic-klein/nbpm/internal/pkgdb"
	"github.com/frederic-klein/nbpm/internal/resolver"
)

// Action tells what installing a record does to the local system.
type Action int

const (
	ActionInstall Action = iota // nothing of that name is installed
	ActionUpdate                // an older version is installed
)

func (a Action) String() string {
	switch a {
	case ActionInstall:
		return "install"
	case ActionUpdate:
		return "update"
	}
	return "unknown"
}

// Step is one record of a Plan.
type Step struct {
	Name      string
	Record    *pkgdb.Record
	Action    Action
	Installed *semver.Version // nil unless Action is ActionUpdate
}

// Plan is the filtered install target, ordered so that every dependency is
// installed before its dependents.
type Plan struct {
	Graph resolver.Subgraph
	Steps []Step
}

// Empty reports whether there is nothing left to install.
func (p *Plan) Empty() bool {
	return len(p.Steps) == 0
}

// Classify compares target against the installed packages. Records whose
// exact version is installed are left out of the plan; a record older than
// the installed one fails the whole plan with a *DowngradeError. Neither
// target nor local is modified.
func Classify(target resolver.Subgraph, local *pkgdb.PkgDb) (*Plan, error) {
	graph := make(resolver.Subgraph, len(target))
	installed := make(map[string]*semver.Version)

	for _, name := range target.Names() {
		rec := target[name]
		cur, ok := local.Lookup(name)
		if !ok {
			graph[name] = rec
			continue
		}
		switch rec.Version.Compare(cur.Version) {
		case 0:
			// already satisfied
		case -1:
			return nil, &DowngradeError{Name: name, Installed: cur.Version, Target: rec.Version}
		default:
			graph[name] = rec
			installed[name] = cur.Version
		}
	}

	plan := &Plan{Graph: graph}
	for _, name := range resolver.InstallOrder(graph) {
		step := Step{Name: name, Record: graph[name], Action: ActionInstall}
		if v, ok := installed[name]; ok {
			step.Action = ActionUpdate
			step.Installed = v
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}
