package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frederic-klein/nbpm/internal/config"
	"github.com/frederic-klein/nbpm/internal/pkgdb"
	"github.com/frederic-klein/nbpm/internal/query"
	"github.com/frederic-klein/nbpm/internal/resolver"
)

type fakeFetcher struct {
	urls []string
	fail map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, url, destPath string) error {
	f.urls = append(f.urls, url)
	if err := f.fail[url]; err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte(url), 0o644)
}

func (f *fakeFetcher) fetched() []string {
	var names []string
	for _, u := range f.urls {
		names = append(names, strings.TrimSuffix(filepath.Base(u), ".tar.xz"))
	}
	return names
}

// fakeExtractor materializes the files registered for the archive's package.
type fakeExtractor struct {
	archives map[string]map[string]string
}

func (f *fakeExtractor) Extract(_ context.Context, archivePath, destDir string) error {
	name := strings.TrimSuffix(filepath.Base(archivePath), ".tar.xz")
	files, ok := f.archives[name]
	if !ok {
		return fmt.Errorf("no archive for %s", name)
	}
	for rel, content := range files {
		path := filepath.Join(destDir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// archive returns the content of a package archive holding paths plus its
// metadata file.
func archive(name, version string, paths ...string) map[string]string {
	quoted := make([]string, len(paths))
	files := make(map[string]string, len(paths)+1)
	for i, p := range paths {
		quoted[i] = fmt.Sprintf("%q", p)
		files[p] = name + " payload"
	}
	files[MetadataFile] = fmt.Sprintf("[%s]\nversion = %q\ndescription = \"\"\npaths = [%s]\n",
		name, version, strings.Join(quoted, ", "))
	return files
}

type fixture struct {
	cfg       *config.Config
	fetcher   *fakeFetcher
	extractor *fakeExtractor
	installer *Installer
	local     *pkgdb.PkgDb
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Home = t.TempDir()
	cfg.Root = t.TempDir()
	cfg.RepoURL = "http://repo.test/x86_64"

	f := &fixture{
		cfg:       cfg,
		fetcher:   &fakeFetcher{fail: map[string]error{}},
		extractor: &fakeExtractor{archives: map[string]map[string]string{}},
		local:     pkgdb.New(pkgdb.SetLocal),
	}
	f.installer = New(cfg, f.fetcher, f.extractor, nil)
	return f
}

func (f *fixture) plan(t *testing.T, index string, names ...string) *Plan {
	t.Helper()
	universe, err := pkgdb.Decode([]byte("set = \"universe\"\n" + index))
	require.NoError(t, err)
	graph, err := resolver.Resolve(universe, names, true)
	require.NoError(t, err)
	plan, err := Classify(graph, f.local)
	require.NoError(t, err)
	return plan
}

func (f *fixture) rooted(rel string) string {
	return filepath.Join(f.cfg.Root, rel)
}

const appIndex = `
[base]
version = "1.0.0"
description = "Base system"
depends = ["app>=1.0.0"]

[app]
version = "1.0.0"
description = "Application"
location = "core"
depends = ["libfoo>=0.2.0"]

[libfoo]
version = "0.3.0"
description = "Library"
location = "extra"
`

func TestInstall_Success(t *testing.T) {
	f := newFixture(t)
	f.extractor.archives["app"] = archive("app", "1.0.0", "usr/bin/app", "usr/share/app/README")
	f.extractor.archives["libfoo"] = archive("libfoo", "0.3.0", "usr/lib/libfoo.so")
	plan := f.plan(t, appIndex, "base")

	err := f.installer.Install(context.Background(), plan, f.local)

	require.NoError(t, err)
	assert.Equal(t, []string{
		"http://repo.test/x86_64/bin/extra/libfoo.tar.xz",
		"http://repo.test/x86_64/bin/core/app.tar.xz",
	}, f.fetcher.urls)

	assert.FileExists(t, f.rooted("usr/bin/app"))
	assert.FileExists(t, f.rooted("usr/share/app/README"))
	assert.FileExists(t, f.rooted("usr/lib/libfoo.so"))
	assert.NoFileExists(t, f.rooted(MetadataFile))

	assert.Equal(t, []string{"app", "base", "libfoo"}, f.local.Names())
	app, err := f.local.Get("app")
	require.NoError(t, err)
	assert.Equal(t, pkgdb.Local{Paths: []string{f.rooted("usr/bin/app"), f.rooted("usr/share/app/README")}}, app.SetInfo)
	base, err := f.local.Get("base")
	require.NoError(t, err)
	assert.True(t, base.IsMeta())
}

func TestInstall_MetaPackageOnly(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, `
[desktop]
version = "1.0.0"
description = "Nothing but dependencies"
`, "desktop")

	err := f.installer.Install(context.Background(), plan, f.local)

	require.NoError(t, err)
	assert.Empty(t, f.fetcher.urls)
	rec, err := f.local.Get("desktop")
	require.NoError(t, err)
	assert.True(t, rec.IsMeta())

	entries, err := os.ReadDir(f.cfg.Root)
	require.NoError(t, err)
	assert.Empty(t, entries, "a meta-package copies no files")
}

const fiveIndex = `
[p1]
version = "1.0.0"
description = ""
location = "core"

[p2]
version = "1.0.0"
description = ""
location = "core"

[p3]
version = "1.0.0"
description = ""
location = "core"

[p4]
version = "1.0.0"
description = ""
location = "core"

[p5]
version = "1.0.0"
description = ""
location = "core"
`

func fiveArchives(f *fixture) {
	for _, name := range []string{"p1", "p2", "p3", "p4", "p5"} {
		f.extractor.archives[name] = archive(name, "1.0.0", "usr/bin/"+name, "usr/share/"+name+"/doc")
	}
}

// blockCopy makes copying p3's binary fail by putting a directory in its way.
func blockCopy(t *testing.T, f *fixture) {
	t.Helper()
	require.NoError(t, os.MkdirAll(f.rooted("usr/bin/p3"), 0o755))
}

func TestInstall_PartialFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	fiveArchives(f)
	blockCopy(t, f)
	plan := f.plan(t, fiveIndex, "p1", "p2", "p3", "p4", "p5")

	err := f.installer.Install(context.Background(), plan, f.local)

	require.ErrorIs(t, err, ErrCleanUninstall)
	assert.NotErrorIs(t, err, ErrDirtyUninstall)
	var re *RollbackError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "p3", re.Package)
	assert.Empty(t, re.Leftover)

	assert.Equal(t, []string{"p1", "p2", "p3"}, f.fetcher.fetched(), "p4 and p5 must never be fetched")
	for _, name := range []string{"p1", "p2"} {
		assert.NoFileExists(t, f.rooted("usr/bin/"+name))
		assert.NoDirExists(t, f.rooted("usr/share/"+name))
	}
	assert.NoDirExists(t, f.rooted("usr/share"))
	assert.DirExists(t, f.rooted("usr/bin"), "directories that existed before are kept")
	assert.Zero(t, f.local.Len(), "nothing is recorded after a failed install")
}

func TestInstall_DirtyRollback(t *testing.T) {
	f := newFixture(t)
	fiveArchives(f)
	blockCopy(t, f)
	stuck := f.rooted("usr/bin/p1")
	f.installer.removeFile = func(path string) error {
		if path == stuck {
			return os.ErrPermission
		}
		return os.Remove(path)
	}
	plan := f.plan(t, fiveIndex, "p1", "p2", "p3", "p4", "p5")

	err := f.installer.Install(context.Background(), plan, f.local)

	require.ErrorIs(t, err, ErrDirtyUninstall)
	var re *RollbackError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, []string{stuck}, re.Leftover)
	assert.Contains(t, err.Error(), stuck)
	assert.FileExists(t, stuck)
	assert.NoFileExists(t, f.rooted("usr/bin/p2"))
	assert.Zero(t, f.local.Len())
}

func TestInstall_FetchFailure(t *testing.T) {
	f := newFixture(t)
	fiveArchives(f)
	boom := errors.New("connection reset")
	f.fetcher.fail["http://repo.test/x86_64/bin/core/p2.tar.xz"] = boom
	plan := f.plan(t, fiveIndex, "p1", "p2", "p3")

	err := f.installer.Install(context.Background(), plan, f.local)

	require.ErrorIs(t, err, ErrCleanUninstall)
	require.ErrorIs(t, err, boom)
	assert.NoFileExists(t, f.rooted("usr/bin/p1"))
	assert.Equal(t, []string{"p1", "p2"}, f.fetcher.fetched())
}

func TestInstall_MetaPackageNotRecordedOnFailure(t *testing.T) {
	f := newFixture(t)
	f.extractor.archives["libfoo"] = archive("libfoo", "0.3.0", "usr/lib/libfoo.so")
	// no archive for app: extraction fails
	plan := f.plan(t, appIndex, "base")

	err := f.installer.Install(context.Background(), plan, f.local)

	require.ErrorIs(t, err, ErrCleanUninstall)
	assert.False(t, f.local.ContainsName("base"))
	assert.False(t, f.local.ContainsName("libfoo"))
	assert.NoFileExists(t, f.rooted("usr/lib/libfoo.so"))
}

func TestInstall_MetadataVersionMismatch(t *testing.T) {
	f := newFixture(t)
	f.extractor.archives["libfoo"] = archive("libfoo", "0.4.0", "usr/lib/libfoo.so")
	plan := f.plan(t, appIndex, "libfoo")

	err := f.installer.Install(context.Background(), plan, f.local)

	require.ErrorIs(t, err, ErrBadMetadata)
	require.ErrorIs(t, err, ErrCleanUninstall)
	assert.NoFileExists(t, f.rooted("usr/lib/libfoo.so"))
}

func TestInstall_MetadataForAnotherPackage(t *testing.T) {
	f := newFixture(t)
	files := archive("other", "0.3.0", "usr/lib/libfoo.so")
	f.extractor.archives["libfoo"] = files
	plan := f.plan(t, appIndex, "libfoo")

	err := f.installer.Install(context.Background(), plan, f.local)

	require.ErrorIs(t, err, ErrBadMetadata)
	var me *MetadataError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "libfoo", me.Package)
}

// installOldLibfoo records libfoo 0.2.0 as installed and puts its library
// below the root.
func installOldLibfoo(t *testing.T, f *fixture) {
	t.Helper()
	lib := f.rooted("usr/lib/libfoo.so")
	require.NoError(t, os.MkdirAll(filepath.Dir(lib), 0o755))
	require.NoError(t, os.WriteFile(lib, []byte("libfoo 0.2.0"), 0o644))
	_, err := f.local.Insert("libfoo", &pkgdb.Record{
		Version: query.MustParseVersion("0.2.0"),
		SetInfo: pkgdb.Local{Paths: []string{lib}},
	})
	require.NoError(t, err)
}

func TestInstall_Update(t *testing.T) {
	f := newFixture(t)
	installOldLibfoo(t, f)
	f.extractor.archives["libfoo"] = archive("libfoo", "0.3.0", "usr/lib/libfoo.so")
	plan := f.plan(t, appIndex, "libfoo")
	require.Len(t, plan.Steps, 1)
	require.Equal(t, ActionUpdate, plan.Steps[0].Action)

	err := f.installer.Install(context.Background(), plan, f.local)

	require.NoError(t, err)
	rec, err := f.local.Get("libfoo")
	require.NoError(t, err)
	assert.Equal(t, "0.3.0", rec.Version.String())
	data, err := os.ReadFile(f.rooted("usr/lib/libfoo.so"))
	require.NoError(t, err)
	assert.Equal(t, "libfoo payload", string(data))
	assert.NoDirExists(t, f.cfg.BackupPath())
}

func TestInstall_FailedUpdateRestoresReplacedFiles(t *testing.T) {
	f := newFixture(t)
	installOldLibfoo(t, f)
	f.extractor.archives["libfoo"] = archive("libfoo", "0.3.0", "usr/lib/libfoo.so")
	// no archive for app: the step after the update fails
	plan := f.plan(t, appIndex, "app")
	require.Len(t, plan.Steps, 2)
	require.Equal(t, ActionUpdate, plan.Steps[0].Action)

	err := f.installer.Install(context.Background(), plan, f.local)

	require.ErrorIs(t, err, ErrCleanUninstall)
	data, err := os.ReadFile(f.rooted("usr/lib/libfoo.so"))
	require.NoError(t, err)
	assert.Equal(t, "libfoo 0.2.0", string(data))
	rec, err := f.local.Get("libfoo")
	require.NoError(t, err)
	assert.Equal(t, "0.2.0", rec.Version.String())
	assert.False(t, f.local.ContainsName("app"))
}

func TestInstall_SharedPathRestoredOnFailure(t *testing.T) {
	f := newFixture(t)
	fiveArchives(f)
	shared := f.rooted("usr/share/p1/doc")
	require.NoError(t, os.MkdirAll(filepath.Dir(shared), 0o755))
	require.NoError(t, os.WriteFile(shared, []byte("owned elsewhere"), 0o600))
	blockCopy(t, f)
	plan := f.plan(t, fiveIndex, "p1", "p2", "p3")

	err := f.installer.Install(context.Background(), plan, f.local)

	require.ErrorIs(t, err, ErrCleanUninstall)
	data, err := os.ReadFile(shared)
	require.NoError(t, err)
	assert.Equal(t, "owned elsewhere", string(data))
	info, err := os.Stat(shared)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.NoFileExists(t, f.rooted("usr/bin/p1"))
}

func TestInstall_WorkDirIsRecreated(t *testing.T) {
	f := newFixture(t)
	stale := filepath.Join(f.cfg.WorkPath(), "stale.tar.xz")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))
	f.extractor.archives["libfoo"] = archive("libfoo", "0.3.0", "usr/lib/libfoo.so")
	plan := f.plan(t, appIndex, "libfoo")

	err := f.installer.Install(context.Background(), plan, f.local)

	require.NoError(t, err)
	assert.NoFileExists(t, stale)
	assert.NoDirExists(t, f.cfg.CurrPath())
}

func TestInstall_EmptyPlan(t *testing.T) {
	f := newFixture(t)

	err := f.installer.Install(context.Background(), &Plan{}, f.local)

	require.NoError(t, err)
	assert.Empty(t, f.fetcher.urls)
	assert.NoDirExists(t, f.cfg.WorkPath())
}
