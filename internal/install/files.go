package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.trai.ch/zerr"

	"github.com/frederic-klein/nbpm/internal/pkgdb"
)

// tracker remembers, in creation order, everything copyTree put under the
// installation root during one run. Files that were already there are moved
// into backupDir first.
type tracker struct {
	backupDir string
	entries   []trackedPath
}

type trackedPath struct {
	path   string
	dir    bool
	backup string // where the replaced file was moved, if any
}

func (t *tracker) file(path, backup string) {
	t.entries = append(t.entries, trackedPath{path: path, backup: backup})
}

func (t *tracker) dir(path string) {
	t.entries = append(t.entries, trackedPath{path: path, dir: true})
}

// preserve moves an existing file or symlink at target into the backup
// directory and returns its new location. Directories are left in place.
func (t *tracker) preserve(target string) (string, error) {
	info, err := os.Lstat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", zerr.With(zerr.Wrap(err, "inspecting file"), "path", target)
	}
	if info.IsDir() {
		return "", nil
	}
	if err := os.MkdirAll(t.backupDir, 0o755); err != nil {
		return "", zerr.With(zerr.Wrap(err, "creating backup directory"), "path", t.backupDir)
	}
	backup := filepath.Join(t.backupDir, strconv.Itoa(len(t.entries)))
	if err := moveFile(target, backup); err != nil {
		return "", zerr.With(zerr.Wrap(err, "backing up file"), "path", target)
	}
	return backup, nil
}

// rollback undoes tracked entries newest first and returns the paths left
// different from before the install. Directories are removed only when
// empty and replaced files are moved back.
func (in *Installer) rollback(t *tracker) []string {
	var leftover []string
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.dir {
			if err := os.Remove(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				in.logger.Debug("keeping directory", "path", e.path, "error", err)
			}
			continue
		}
		if err := in.removeFile(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			in.logger.Warn("cannot remove copied file", "path", e.path, "error", err)
			leftover = append(leftover, e.path)
			continue
		}
		if e.backup == "" {
			continue
		}
		if err := moveFile(e.backup, e.path); err != nil {
			in.logger.Warn("cannot restore replaced file", "path", e.path, "backup", e.backup, "error", err)
			leftover = append(leftover, e.path)
		}
	}
	return leftover
}

// moveFile renames src to dst, copying when they are on different
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		link, err := os.Readlink(src)
		if err != nil {
			return err
		}
		if err := os.Symlink(link, dst); err != nil {
			return err
		}
		return os.Remove(src)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// readMetadata loads the archive's own record for the package described by
// want and anchors its paths below root.
func readMetadata(dir, root string, want *pkgdb.Record) (*pkgdb.Record, error) {
	name := want.Name
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, &MetadataError{Package: name, Reason: fmt.Sprintf("cannot read %s: %v", MetadataFile, err)}
	}

	records, err := pkgdb.DecodeRecords(data, pkgdb.SetLocal)
	if err != nil {
		return nil, err
	}

	rec, ok := records[name]
	if !ok {
		return nil, &MetadataError{Package: name, Reason: fmt.Sprintf("%s does not describe the package", MetadataFile)}
	}
	if !rec.Version.Equal(want.Version) {
		return nil, &MetadataError{
			Package: name,
			Reason:  fmt.Sprintf("archive version %s does not match index version %s", rec.Version, want.Version),
		}
	}

	var local pkgdb.Local
	if l, ok := rec.SetInfo.(pkgdb.Local); ok {
		local = l
	}
	rec.SetInfo = local.WithRoot(root)
	rec.Name = name
	return rec, nil
}

// copyTree copies the contents of src into dst, keeping relative paths and
// skipping the metadata file. Every file and directory it creates is
// recorded in t, including a file whose copy fails half way.
func copyTree(src, dst string, t *tracker) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return zerr.With(zerr.Wrap(err, "walking package files"), "path", path)
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return zerr.Wrap(err, "resolving package file")
		}
		if rel == "." || rel == MetadataFile {
			return nil
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return makeDir(target, t)
		case d.Type()&fs.ModeSymlink != 0:
			return copySymlink(path, target, t)
		case d.Type().IsRegular():
			return copyFile(path, target, t)
		default:
			return fmt.Errorf("unsupported file type %s: %s", d.Type(), rel)
		}
	})
}

func makeDir(target string, t *tracker) error {
	info, err := os.Lstat(target)
	if err == nil {
		if info.IsDir() {
			return nil
		}
		return fmt.Errorf("cannot create directory %s: a file is in the way", target)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return zerr.With(zerr.Wrap(err, "inspecting directory"), "path", target)
	}
	if err := os.Mkdir(target, 0o755); err != nil {
		return zerr.With(zerr.Wrap(err, "creating directory"), "path", target)
	}
	t.dir(target)
	return nil
}

func copyFile(src, target string, t *tracker) error {
	info, err := os.Stat(src)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "reading package file"), "path", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "opening package file"), "path", src)
	}
	defer in.Close()

	backup, err := t.preserve(target)
	if err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		if backup != "" {
			t.file(target, backup)
		}
		return zerr.With(zerr.Wrap(err, "creating file"), "path", target)
	}
	t.file(target, backup)

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return zerr.With(zerr.Wrap(err, "copying file"), "path", target)
	}
	if err := out.Close(); err != nil {
		return zerr.With(zerr.Wrap(err, "closing file"), "path", target)
	}
	return nil
}

func copySymlink(src, target string, t *tracker) error {
	link, err := os.Readlink(src)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "reading symlink"), "path", src)
	}
	backup, err := t.preserve(target)
	if err != nil {
		return err
	}
	if err := os.Symlink(link, target); err != nil {
		if backup != "" {
			t.file(target, backup)
		}
		return zerr.With(zerr.Wrap(err, "creating symlink"), "path", target)
	}
	t.file(target, backup)
	return nil
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return zerr.With(zerr.Wrap(err, "cleaning directory"), "path", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return zerr.With(zerr.Wrap(err, "creating directory"), "path", dir)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
