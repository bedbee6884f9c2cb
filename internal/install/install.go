package install

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.trai.ch/zerr"

	"github.com/frederic-klein/nbpm/internal/config"
	"github.com/frederic-klein/nbpm/internal/logger"
	"github.com/frederic-klein/nbpm/internal/pkgdb"
)

// MetadataFile is the name of the metadata file at the root of every
// package archive. It is never copied to the installation root.
const MetadataFile = "nbinfo.toml"

// Fetcher downloads url into destPath.
type Fetcher interface {
	Fetch(ctx context.Context, url, destPath string) error
}

// Extractor unpacks archivePath into destDir.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) error
}

// Installer runs the install pipeline.
type Installer struct {
	cfg       *config.Config
	fetcher   Fetcher
	extractor Extractor
	logger    *slog.Logger

	// removeFile deletes one tracked path during rollback.
	removeFile func(string) error
}

// New creates an Installer. A nil log discards log output.
func New(cfg *config.Config, fetcher Fetcher, extractor Extractor, log *slog.Logger) *Installer {
	if log == nil {
		log = logger.Discard()
	}
	return &Installer{
		cfg:        cfg,
		fetcher:    fetcher,
		extractor:  extractor,
		logger:     log,
		removeFile: os.Remove,
	}
}

// Install installs every step of plan in order and records the installed
// packages in local.
//
// local is only modified once every step succeeded. If a step fails, the
// remaining steps are skipped, the files copied so far are removed in
// reverse order, the files they replaced are restored and a *RollbackError
// is returned.
func (in *Installer) Install(ctx context.Context, plan *Plan, local *pkgdb.PkgDb) error {
	if plan.Empty() {
		return nil
	}

	if err := in.prepareWorkDir(); err != nil {
		return err
	}

	tr := tracker{backupDir: in.cfg.BackupPath()}
	var staged []*pkgdb.Record
	for _, step := range plan.Steps {
		rec, err := in.installStep(ctx, step, &tr)
		if err != nil {
			in.logger.Error("install failed, rolling back", "package", step.Name, "error", err)
			leftover := in.rollback(&tr)
			return &RollbackError{Package: step.Name, Cause: err, Leftover: leftover}
		}
		staged = append(staged, rec)
	}

	for _, rec := range staged {
		if _, err := local.Insert(rec.Name, rec); err != nil {
			return err
		}
	}

	for _, dir := range []string{in.cfg.CurrPath(), in.cfg.BackupPath()} {
		if err := os.RemoveAll(dir); err != nil {
			in.logger.Warn("cannot clean work directory", "path", dir, "error", err)
		}
	}
	return nil
}

// prepareWorkDir discards the previous run's scratch files.
func (in *Installer) prepareWorkDir() error {
	work := in.cfg.WorkPath()
	if err := os.RemoveAll(work); err != nil {
		return zerr.With(zerr.Wrap(err, "cleaning work directory"), "path", work)
	}
	if err := os.MkdirAll(in.cfg.CurrPath(), 0o755); err != nil {
		return zerr.With(zerr.Wrap(err, "creating work directory"), "path", work)
	}
	return nil
}

func (in *Installer) installStep(ctx context.Context, step Step, tr *tracker) (*pkgdb.Record, error) {
	switch info := step.Record.SetInfo.(type) {
	case nil:
		in.logger.Info("installing meta-package", "package", step.Name, "version", step.Record.Version)
		return step.Record.Clone(), nil
	case pkgdb.Universe:
		return in.installArchive(ctx, step, info, tr)
	case pkgdb.Local:
		return nil, &pkgdb.SetConsistencyError{Name: step.Name, Expected: pkgdb.SetUniverse}
	default:
		return nil, fmt.Errorf("package %s: unsupported set payload %T", step.Name, info)
	}
}

func (in *Installer) installArchive(ctx context.Context, step Step, info pkgdb.Universe, tr *tracker) (*pkgdb.Record, error) {
	name := step.Name
	url := in.cfg.PackageURL(info.Location, name)
	archive := filepath.Join(in.cfg.WorkPath(), name+".tar.xz")

	in.logger.Info("fetching package", "package", name, "url", url)
	fetchCtx, cancel := withTimeout(ctx, time.Duration(in.cfg.FetchTimeout))
	err := in.fetcher.Fetch(fetchCtx, url, archive)
	cancel()
	if err != nil {
		return nil, err
	}

	curr := in.cfg.CurrPath()
	if err := resetDir(curr); err != nil {
		return nil, err
	}

	in.logger.Debug("extracting package", "package", name, "archive", archive)
	extractCtx, cancel := withTimeout(ctx, time.Duration(in.cfg.ExtractTimeout))
	err = in.extractor.Extract(extractCtx, archive, curr)
	cancel()
	if err != nil {
		return nil, err
	}

	rec, err := readMetadata(curr, in.cfg.Root, step.Record)
	if err != nil {
		return nil, err
	}

	in.logger.Info("copying package files", "package", name, "root", in.cfg.Root)
	if err := copyTree(curr, in.cfg.Root, tr); err != nil {
		return nil, err
	}
	return rec, nil
}
