package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"go.trai.ch/zerr"

	"github.com/frederic-klein/nbpm/internal/config"
	"github.com/frederic-klein/nbpm/internal/index"
	"github.com/frederic-klein/nbpm/internal/install"
	"github.com/frederic-klein/nbpm/internal/lock"
	"github.com/frederic-klein/nbpm/internal/logger"
	"github.com/frederic-klein/nbpm/internal/pkgdb"
	"github.com/frederic-klein/nbpm/internal/prompt"
	"github.com/frederic-klein/nbpm/internal/query"
	"github.com/frederic-klein/nbpm/internal/remove"
	"github.com/frederic-klein/nbpm/internal/resolver"
)

// ErrLocalDBLoad is returned when the Local PkgDb cannot be loaded.
var ErrLocalDBLoad = zerr.New("cannot load local package database")

// LocalDBError wraps the failure behind a Local PkgDb load.
type LocalDBError struct {
	Path string
	Err  error
}

func (e *LocalDBError) Error() string {
	return fmt.Sprintf("cannot load local package database %s: %v", e.Path, e.Err)
}

func (e *LocalDBError) Unwrap() []error { return []error{ErrLocalDBLoad, e.Err} }

// Fetcher downloads remote files.
type Fetcher interface {
	Fetch(ctx context.Context, url, destPath string) error
}

// Deps are the capabilities App runs on.
type Deps struct {
	Fetcher   Fetcher
	Extractor install.Extractor
	Confirmer prompt.Confirmer
	Out       io.Writer
	Logger    *slog.Logger
}

// App runs nbpm commands against one configuration.
type App struct {
	cfg       *config.Config
	index     *index.Index
	installer *install.Installer
	remover   *remove.Remover
	confirm   prompt.Confirmer
	out       io.Writer
	logger    *slog.Logger
}

// New creates an App.
func New(cfg *config.Config, deps Deps) *App {
	log := deps.Logger
	if log == nil {
		log = logger.Discard()
	}
	confirm := deps.Confirmer
	if confirm == nil {
		confirm = prompt.Always(true)
	}
	out := deps.Out
	if out == nil {
		out = io.Discard
	}
	return &App{
		cfg:       cfg,
		index:     index.NewIndex(cfg.IndexURL(), cfg.IndexPath(), deps.Fetcher),
		installer: install.New(cfg, deps.Fetcher, deps.Extractor, log),
		remover:   remove.New(log),
		confirm:   confirm,
		out:       out,
		logger:    log,
	}
}

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
)

// Update refreshes the cached Universe index.
func (a *App) Update(ctx context.Context) error {
	l, err := a.lock()
	if err != nil {
		return err
	}
	defer a.unlock(l)

	a.logger.Info("updating repository index", "url", a.cfg.IndexURL())
	db, err := a.index.Update(ctx)
	if err != nil {
		return err
	}
	green.Fprintf(a.out, "Repository index updated: %d packages\n", db.Len())
	return nil
}

// Search prints the index records matching term.
func (a *App) Search(term string) error {
	universe, err := a.loadIndex()
	if err != nil {
		return err
	}
	matches, err := index.Search(universe, term)
	if err != nil {
		return err
	}
	for _, rec := range matches {
		a.printRecord(rec)
	}
	return nil
}

// List prints the installed packages.
func (a *App) List() error {
	local, err := a.loadLocal()
	if err != nil {
		return err
	}
	if local.Len() == 0 {
		fmt.Fprintln(a.out, "No packages installed")
		return nil
	}
	for _, name := range local.Names() {
		rec, _ := local.Lookup(name)
		a.printRecord(rec)
	}
	return nil
}

// Install installs targets and their dependencies from the index. Each
// target is a package name, optionally constrained as in "bash>=5.0.0".
func (a *App) Install(ctx context.Context, targets []string) error {
	queries := make([]query.Query, len(targets))
	for i, text := range targets {
		q, err := query.Parse(text)
		if err != nil {
			return err
		}
		queries[i] = q
	}

	l, err := a.lock()
	if err != nil {
		return err
	}
	defer a.unlock(l)

	universe, err := a.loadIndex()
	if err != nil {
		return err
	}
	target, err := resolver.ResolveQueries(universe, queries)
	if err != nil {
		return err
	}

	local, err := a.loadLocal()
	if err != nil {
		return err
	}
	plan, err := install.Classify(target, local)
	if err != nil {
		return err
	}
	if plan.Empty() {
		fmt.Fprintln(a.out, "All packages are already installed")
		return nil
	}

	bold.Fprintf(a.out, "The following packages are going to be installed (%d):\n", len(plan.Steps))
	for _, step := range plan.Steps {
		switch step.Action {
		case install.ActionUpdate:
			fmt.Fprintf(a.out, "     %s %s -> %s\n", cyan.Sprint(step.Name), step.Installed, step.Record.Version)
		default:
			fmt.Fprintf(a.out, "     %s %s\n", cyan.Sprint(step.Name), step.Record.Version)
		}
	}
	ok, err := a.confirm.Confirm("\nDo you want to install these packages?")
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(a.out, "Operation cancelled")
		return nil
	}

	if err := a.installer.Install(ctx, plan, local); err != nil {
		return err
	}
	if err := local.Save(a.cfg.LocalDBPath()); err != nil {
		return err
	}
	green.Fprintf(a.out, "Installed %d packages\n", len(plan.Steps))
	return nil
}

// Remove removes installed packages. With recursive set, their installed
// dependencies are removed too.
func (a *App) Remove(names []string, recursive bool) error {
	l, err := a.lock()
	if err != nil {
		return err
	}
	defer a.unlock(l)

	local, err := a.loadLocal()
	if err != nil {
		return err
	}
	target, err := remove.Target(names, recursive, local)
	if err != nil {
		return err
	}
	if err := remove.CheckConflicts(target, local); err != nil {
		return err
	}

	bold.Fprintf(a.out, "The following packages are going to be removed (%d):\n", len(target))
	for _, name := range target.Names() {
		fmt.Fprintf(a.out, "     %s %s\n", cyan.Sprint(name), target[name].Version)
	}
	ok, err := a.confirm.Confirm("\nAre you sure you want to remove these packages?")
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(a.out, "Operation cancelled")
		return nil
	}

	count := len(target)
	rmErr := a.remover.Remove(target, local)
	if errors.Is(rmErr, remove.ErrBreaksPackage) {
		return rmErr
	}
	// Packages removed before a failure must not stay recorded.
	if err := local.Save(a.cfg.LocalDBPath()); err != nil {
		return errors.Join(rmErr, err)
	}
	if rmErr != nil {
		return rmErr
	}
	green.Fprintf(a.out, "Removed %d packages\n", count)
	return nil
}

func (a *App) printRecord(rec *pkgdb.Record) {
	kind := ""
	if rec.IsMeta() {
		kind = yellow.Sprint(" (meta)")
	}
	fmt.Fprintf(a.out, "%s %s%s\n    %s\n", cyan.Sprint(rec.Name), rec.Version, kind, rec.Description)
}

func (a *App) loadIndex() (*pkgdb.PkgDb, error) {
	if a.index.IsStale(index.StaleAfter) {
		a.logger.Warn("repository index is missing or outdated, run nbpm update", "path", a.index.Path())
	}
	return a.index.Load()
}

func (a *App) loadLocal() (*pkgdb.PkgDb, error) {
	path := a.cfg.LocalDBPath()
	db, err := pkgdb.LoadOrNew(path, pkgdb.SetLocal)
	if err != nil {
		return nil, &LocalDBError{Path: path, Err: err}
	}
	return db, nil
}

func (a *App) lock() (*lock.Lock, error) {
	return lock.Acquire(a.cfg.LockPath())
}

func (a *App) unlock(l *lock.Lock) {
	if err := l.Release(); err != nil {
		a.logger.Warn("cannot release lock", "error", err)
	}
}
