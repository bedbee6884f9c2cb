package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// Defaults used when the configuration file omits a key.
const (
	DefaultHome           = "/etc/nbpm"
	DefaultRoot           = "/"
	DefaultRepoURL        = "https://www.nebula.com/repo/x86_64"
	DefaultExtractor      = "tar"
	DefaultFetchTimeout   = 5 * time.Minute
	DefaultExtractTimeout = 5 * time.Minute

	// FileName is the configuration file looked up in DefaultHome.
	FileName = "config.toml"
)

// Names of files and directories below the home directory.
const (
	localDBFile = "local_db.toml"
	indexFile   = "index/index.toml"
	lockFile    = "nbpm.lock"
	workDir     = "work"
	currDir     = "curr"
	backupDir   = "backup"
)

// ErrConfigLoad is returned when a configuration file cannot be read or decoded.
var ErrConfigLoad = zerr.New("cannot load configuration")

// LoadError wraps the failure behind a configuration load.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("cannot load configuration %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() []error { return []error{ErrConfigLoad, e.Err} }

// Duration is a time.Duration written as a string such as "90s" or "5m".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config holds every setting a command needs. Paths derived from Home are
// exposed through methods so tests can point a Config at a temp directory.
type Config struct {
	Home           string   `toml:"nbpm-home" yaml:"nbpm-home"`
	Root           string   `toml:"root-dir" yaml:"root-dir"`
	RepoURL        string   `toml:"repo-url" yaml:"repo-url"`
	Extractor      string   `toml:"extractor" yaml:"extractor"`
	FetchTimeout   Duration `toml:"fetch-timeout" yaml:"fetch-timeout"`
	ExtractTimeout Duration `toml:"extract-timeout" yaml:"extract-timeout"`
	WorkDir        string   `toml:"work-dir" yaml:"work-dir"`
}

// Default returns the configuration used when no file is available.
func Default() *Config {
	return &Config{
		Home:           DefaultHome,
		Root:           DefaultRoot,
		RepoURL:        DefaultRepoURL,
		Extractor:      DefaultExtractor,
		FetchTimeout:   Duration(DefaultFetchTimeout),
		ExtractTimeout: Duration(DefaultExtractTimeout),
	}
}

// DefaultPath is the configuration file read when none is given.
func DefaultPath() string {
	return filepath.Join(DefaultHome, FileName)
}

// Load reads the configuration file at path. Files ending in .yaml or .yml
// are decoded as YAML, anything else as TOML. Keys missing from the file
// keep their default value.
func Load(path string) (*Config, error) {
	//nolint:gosec // Path comes from the command line
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	if err := cfg.validate(); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return cfg, nil
}

// LoadDefault loads DefaultPath. A missing file yields Default with a nil
// error; any other failure yields Default together with the error so the
// caller can warn and carry on.
func LoadDefault() (*Config, error) {
	path := DefaultPath()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	cfg, err := Load(path)
	if err != nil {
		return Default(), err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Home == "":
		return errors.New("nbpm-home must not be empty")
	case c.Root == "":
		return errors.New("root-dir must not be empty")
	case c.RepoURL == "":
		return errors.New("repo-url must not be empty")
	}
	return nil
}

// LocalDBPath is the file holding the Local PkgDb.
func (c *Config) LocalDBPath() string {
	return filepath.Join(c.Home, localDBFile)
}

// IndexPath is the cached copy of the Universe index.
func (c *Config) IndexPath() string {
	return filepath.Join(c.Home, filepath.FromSlash(indexFile))
}

// LockPath is the lock file serializing mutating commands.
func (c *Config) LockPath() string {
	return filepath.Join(c.Home, lockFile)
}

// WorkPath is the scratch directory recreated at the start of every install.
func (c *Config) WorkPath() string {
	if c.WorkDir != "" {
		return c.WorkDir
	}
	return filepath.Join(c.Home, workDir)
}

// CurrPath is the per-package extraction directory inside WorkPath.
func (c *Config) CurrPath() string {
	return filepath.Join(c.WorkPath(), currDir)
}

// BackupPath holds files an install replaced, until the install commits.
func (c *Config) BackupPath() string {
	return filepath.Join(c.WorkPath(), backupDir)
}

// IndexURL is the remote location of the Universe index.
func (c *Config) IndexURL() string {
	return strings.TrimSuffix(c.RepoURL, "/") + "/index.toml"
}

// PackageURL is the remote location of a package archive.
func (c *Config) PackageURL(location, name string) string {
	return strings.TrimSuffix(c.RepoURL, "/") + "/bin/" + strings.Trim(location, "/") + "/" + name + ".tar.xz"
}
