package extractor

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
	"go.trai.ch/zerr"
)

var (
	// ErrProcessStart is returned when the external tar process cannot be started.
	ErrProcessStart = zerr.New("cannot start process")

	// ErrProcessExit is returned when the external tar process exits with a failure.
	ErrProcessExit = zerr.New("process exited with failure")

	// ErrUnsafePath is returned for archive entries that would land outside
	// the destination directory.
	ErrUnsafePath = zerr.New("unsafe path in archive")
)

// Kinds accepted by New.
const (
	KindTar    = "tar"
	KindNative = "native"
)

// Extractor unpacks an archive into destDir.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) error
}

// New returns the extractor registered under kind.
func New(kind string) (Extractor, error) {
	switch kind {
	case KindTar, "":
		return NewTarExtractor(), nil
	case KindNative:
		return NewNativeExtractor(), nil
	}
	return nil, fmt.Errorf("unknown extractor %q", kind)
}

// TarExtractor runs the system tar binary.
type TarExtractor struct {
	command string
}

// NewTarExtractor creates an extractor that shells out to tar.
func NewTarExtractor() *TarExtractor {
	return &TarExtractor{command: "tar"}
}

// Extract runs "tar xf archivePath -C destDir".
func (e *TarExtractor) Extract(ctx context.Context, archivePath, destDir string) error {
	//nolint:gosec // Arguments are paths owned by nbpm
	cmd := exec.CommandContext(ctx, e.command, "xf", archivePath, "-C", destDir)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return &ProcessError{Command: e.command, Err: err, start: true}
	}
	if err := cmd.Wait(); err != nil {
		return &ProcessError{Command: e.command, Err: err, Stderr: strings.TrimSpace(stderr.String())}
	}
	return nil
}

// ProcessError reports a failed external extraction.
type ProcessError struct {
	Command string
	Stderr  string
	Err     error
	start   bool
}

func (e *ProcessError) Error() string {
	if e.start {
		return fmt.Sprintf("cannot start %s: %v", e.Command, e.Err)
	}
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed: %v: %s", e.Command, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
}

func (e *ProcessError) Unwrap() []error {
	if e.start {
		return []error{ErrProcessStart, e.Err}
	}
	return []error{ErrProcessExit, e.Err}
}

// NativeExtractor decodes .tar.xz archives in-process.
type NativeExtractor struct{}

// NewNativeExtractor creates an extractor that needs no external binary.
func NewNativeExtractor() *NativeExtractor {
	return &NativeExtractor{}
}

// Extract unpacks an xz-compressed tarball into destDir.
func (e *NativeExtractor) Extract(ctx context.Context, archivePath, destDir string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return zerr.Wrap(err, "opening archive")
	}
	defer file.Close()

	xzReader, err := xz.NewReader(file)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "decompressing archive"), "path", archivePath)
	}

	tarReader := tar.NewReader(xzReader)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return zerr.With(zerr.Wrap(err, "reading archive"), "path", archivePath)
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return zerr.Wrap(err, "creating directory")
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return zerr.Wrap(err, "creating directory")
			}
			if err := writeFile(target, tarReader, os.FileMode(header.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return zerr.Wrap(err, "creating directory")
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return zerr.Wrap(err, "creating symlink")
			}
		}
	}

	return nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return zerr.Wrap(err, "creating file")
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return zerr.With(zerr.Wrap(err, "writing file"), "path", target)
	}
	return f.Close()
}

// safeJoin joins name below root, refusing absolute names and ".." escapes.
func safeJoin(root, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", zerr.With(zerr.Wrap(ErrUnsafePath, name), "entry", name)
	}
	target := filepath.Join(root, name)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", zerr.With(zerr.Wrap(ErrUnsafePath, name), "entry", name)
	}
	return target, nil
}
