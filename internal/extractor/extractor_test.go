package extractor

import (
	"archive/tar"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"
)

type entry struct {
	name    string
	content string
	dir     bool
}

func createTestArchive(t *testing.T, entries []entry) string {
	t.Helper()

	tmpDir := t.TempDir()
	archivePath := filepath.Join(tmpDir, "test.tar.xz")

	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	xw, err := xz.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}
	defer xw.Close()

	tw := tar.NewWriter(xw)
	defer tw.Close()

	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.name,
			Mode:     0644,
			Size:     int64(len(e.content)),
			Typeflag: tar.TypeReg,
		}
		if e.dir {
			hdr.Mode = 0755
			hdr.Size = 0
			hdr.Typeflag = tar.TypeDir
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if !e.dir {
			if _, err := tw.Write([]byte(e.content)); err != nil {
				t.Fatal(err)
			}
		}
	}

	return archivePath
}

var packageEntries = []entry{
	{name: "nbinfo.toml", content: "[hello]\nversion = \"1.0.0\"\ndescription = \"\"\npaths = [\"usr/bin/hello\"]\n"},
	{name: "usr/", dir: true},
	{name: "usr/bin/", dir: true},
	{name: "usr/bin/hello", content: "#!/bin/sh\necho hello\n"},
}

func assertExtracted(t *testing.T, destDir string) {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(destDir, "usr", "bin", "hello"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(data) != "#!/bin/sh\necho hello\n" {
		t.Errorf("content = %q", data)
	}
	if _, err := os.Stat(filepath.Join(destDir, "nbinfo.toml")); err != nil {
		t.Errorf("metadata file missing: %v", err)
	}
}

func TestNativeExtractor_Extract(t *testing.T) {
	// Arrange
	archive := createTestArchive(t, packageEntries)
	destDir := t.TempDir()

	// Act
	err := NewNativeExtractor().Extract(context.Background(), archive, destDir)

	// Assert
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	assertExtracted(t, destDir)
}

func TestNativeExtractor_Extract_ImplicitDirectories(t *testing.T) {
	// Arrange: no directory entries at all
	archive := createTestArchive(t, []entry{
		{name: "usr/share/doc/hello/README", content: "readme"},
	})
	destDir := t.TempDir()

	// Act
	err := NewNativeExtractor().Extract(context.Background(), archive, destDir)

	// Assert
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(destDir, "usr", "share", "doc", "hello", "README")); err != nil {
		t.Errorf("nested file missing: %v", err)
	}
}

func TestNativeExtractor_Extract_RejectsTraversal(t *testing.T) {
	// Arrange
	archive := createTestArchive(t, []entry{
		{name: "../escape", content: "x"},
	})
	parent := t.TempDir()
	destDir := filepath.Join(parent, "curr")
	if err := os.Mkdir(destDir, 0755); err != nil {
		t.Fatal(err)
	}

	// Act
	err := NewNativeExtractor().Extract(context.Background(), archive, destDir)

	// Assert
	if !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("Extract() error = %v, want ErrUnsafePath", err)
	}
	if _, err := os.Stat(filepath.Join(parent, "escape")); !os.IsNotExist(err) {
		t.Error("entry escaped the destination directory")
	}
}

func TestNativeExtractor_Extract_NotXZ(t *testing.T) {
	// Arrange
	archive := filepath.Join(t.TempDir(), "broken.tar.xz")
	if err := os.WriteFile(archive, []byte("not an archive"), 0644); err != nil {
		t.Fatal(err)
	}

	// Act
	err := NewNativeExtractor().Extract(context.Background(), archive, t.TempDir())

	// Assert
	if err == nil {
		t.Error("Extract() should fail on a corrupt archive")
	}
}

func TestTarExtractor_Extract(t *testing.T) {
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not available")
	}

	// Arrange
	archive := createTestArchive(t, packageEntries)
	destDir := t.TempDir()

	// Act
	err := NewTarExtractor().Extract(context.Background(), archive, destDir)

	// Assert
	if err != nil {
		t.Skipf("tar cannot handle xz here: %v", err)
	}
	assertExtracted(t, destDir)
}

func TestTarExtractor_Extract_ProcessStart(t *testing.T) {
	// Arrange
	e := &TarExtractor{command: filepath.Join(t.TempDir(), "no-such-tar")}

	// Act
	err := e.Extract(context.Background(), "pkg.tar.xz", t.TempDir())

	// Assert
	if !errors.Is(err, ErrProcessStart) {
		t.Errorf("Extract() error = %v, want ErrProcessStart", err)
	}
}

func TestTarExtractor_Extract_ProcessExit(t *testing.T) {
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not available")
	}

	// Arrange
	missing := filepath.Join(t.TempDir(), "missing.tar.xz")

	// Act
	err := NewTarExtractor().Extract(context.Background(), missing, t.TempDir())

	// Assert
	if !errors.Is(err, ErrProcessExit) {
		t.Errorf("Extract() error = %v, want ErrProcessExit", err)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		kind    string
		want    string
		wantErr bool
	}{
		{kind: "", want: "*extractor.TarExtractor"},
		{kind: "tar", want: "*extractor.TarExtractor"},
		{kind: "native", want: "*extractor.NativeExtractor"},
		{kind: "zip", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			got, err := New(tt.kind)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%q) error = %v, wantErr %v", tt.kind, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if typeName(got) != tt.want {
				t.Errorf("New(%q) = %s, want %s", tt.kind, typeName(got), tt.want)
			}
		})
	}
}

func typeName(e Extractor) string {
	switch e.(type) {
	case *TarExtractor:
		return "*extractor.TarExtractor"
	case *NativeExtractor:
		return "*extractor.NativeExtractor"
	}
	return "unknown"
}
