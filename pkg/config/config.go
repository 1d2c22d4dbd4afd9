package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const appName = "linuxenv"

// ReadOnly defines the read-only interface for Config.
// Immutable
type ReadOnly interface {
	GetCacheDir() string
	GetConfigDir() string
	GetStateDir() string
	GetDataDir() string

	GetEnvRoot() string
	GetPrimaryBinDir() string
	GetFallbackBinDir() string
	GetLibDir() string
	GetMarkerFile() string
	GetRecordDir() string
	GetRecipeDir() string

	GetNativeLibDir() string
	GetAssetDir() string
	GetPackageArchive() string
	GetSystemShell() string
	GetHostsFile() string

	GetArch() ArchType
	GetWorkers() int
	Freeze()
	Checkout() Writable
}

// Writable defines the writable interface for Config.
// Mutable
type Writable interface {
	ReadOnly
	SetDataDir(string)
	SetCacheDir(string)
	SetStateDir(string)
	SetConfigDir(string)
	SetNativeLibDir(string)
	SetAssetDir(string)
	SetPackageArchive(string)
	SetSystemShell(string)
	SetHostsFile(string)
	SetArch(ArchType)
	SetWorkers(int)
}

// Config holds the base directories, host paths and system info.
// Mutable
type Config struct {
	cacheDir  string
	configDir string
	stateDir  string
	dataDir   string

	envRoot        string
	primaryBinDir  string
	fallbackBinDir string
	libDir         string
	markerFile     string
	recordDir      string
	recipeDir      string

	nativeLibDir   string
	assetDir       string
	packageArchive string
	systemShell    string
	hostsFile      string

	arch    ArchType
	workers int

	frozen bool
	edited bool
}

var _ ReadOnly = (*Config)(nil)
var _ Writable = (*Config)(nil)

func (c *Config) GetCacheDir() string       { return c.cacheDir }
func (c *Config) GetConfigDir() string      { return c.configDir }
func (c *Config) GetStateDir() string       { return c.stateDir }
func (c *Config) GetDataDir() string        { return c.dataDir }
func (c *Config) GetEnvRoot() string        { return c.envRoot }
func (c *Config) GetPrimaryBinDir() string  { return c.primaryBinDir }
func (c *Config) GetFallbackBinDir() string { return c.fallbackBinDir }
func (c *Config) GetLibDir() string         { return c.libDir }
func (c *Config) GetMarkerFile() string     { return c.markerFile }
func (c *Config) GetRecordDir() string      { return c.recordDir }
func (c *Config) GetRecipeDir() string      { return c.recipeDir }
func (c *Config) GetNativeLibDir() string   { return c.nativeLibDir }
func (c *Config) GetAssetDir() string       { return c.assetDir }
func (c *Config) GetPackageArchive() string { return c.packageArchive }
func (c *Config) GetSystemShell() string    { return c.systemShell }
func (c *Config) GetHostsFile() string      { return c.hostsFile }
func (c *Config) GetArch() ArchType         { return c.arch }
func (c *Config) GetWorkers() int           { return c.workers }

func (c *Config) mustEdit() {
	if c.frozen {
		panic("cannot modify frozen config")
	}
}

func (c *Config) SetDataDir(s string) {
	c.mustEdit()
	c.dataDir = s
	c.updateDerived()
}

func (c *Config) SetCacheDir(s string) {
	c.mustEdit()
	c.cacheDir = s
	c.updateDerived()
}

func (c *Config) SetStateDir(s string) {
	c.mustEdit()
	c.stateDir = s
	c.updateDerived()
}

func (c *Config) SetConfigDir(s string) {
	c.mustEdit()
	c.configDir = s
	c.updateDerived()
}

func (c *Config) SetNativeLibDir(s string)   { c.mustEdit(); c.nativeLibDir = s }
func (c *Config) SetAssetDir(s string)       { c.mustEdit(); c.assetDir = s }
func (c *Config) SetPackageArchive(s string) { c.mustEdit(); c.packageArchive = s }
func (c *Config) SetSystemShell(s string)    { c.mustEdit(); c.systemShell = s }
func (c *Config) SetHostsFile(s string)      { c.mustEdit(); c.hostsFile = s }
func (c *Config) SetArch(a ArchType)         { c.mustEdit(); c.arch = a }

func (c *Config) SetWorkers(n int) {
	c.mustEdit()
	if n < 1 {
		n = 1
	}
	c.workers = n
}

func (c *Config) Freeze() {
	c.frozen = true
}

func (c *Config) Checkout() Writable {
	if c.frozen {
		panic("cannot checkout from frozen config")
	}
	if c.edited {
		panic("config already checked out")
	}
	c.edited = true
	return c
}

func (c *Config) updateDerived() {
	c.envRoot = filepath.Join(c.dataDir, "linux_env")
	c.primaryBinDir = filepath.Join(c.dataDir, "bin")
	c.libDir = filepath.Join(c.dataDir, "lib")
	c.fallbackBinDir = filepath.Join(c.cacheDir, "bin")
	c.markerFile = filepath.Join(c.stateDir, "proot.marker")
	c.recordDir = filepath.Join(c.stateDir, "environments")
	c.recipeDir = filepath.Join(c.configDir, "recipes")
}

// New builds a Config rooted at base, with every directory beneath it.
// Host paths get the platform defaults. Tests use this to stay out of the
// real XDG directories.
func New(base string) *Config {
	arch, _ := ParseArch(runtime.GOARCH)
	c := &Config{
		cacheDir:  filepath.Join(base, "cache"),
		configDir: filepath.Join(base, "config"),
		stateDir:  filepath.Join(base, "state"),
		dataDir:   filepath.Join(base, "data"),
		arch:      arch,
		workers:   4,
	}
	c.applyHostDefaults()
	c.updateDerived()
	return c
}

// Init initializes the configuration using XDG base directories, then
// applies the YAML file at path (or <configDir>/config.yaml when path is
// empty) and LINUXENV_* environment overrides.
func Init(path string) (ReadOnly, error) {
	arch, _ := ParseArch(runtime.GOARCH)

	c := &Config{
		cacheDir:  filepath.Join(xdg.CacheHome, appName),
		configDir: filepath.Join(xdg.ConfigHome, appName),
		stateDir:  filepath.Join(xdg.StateHome, appName),
		dataDir:   filepath.Join(xdg.DataHome, appName),
		arch:      arch,
		workers:   4,
	}
	c.applyHostDefaults()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(c.configDir, "config.yaml")
	}
	fc, err := loadFile(path)
	if err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	} else if err := c.apply(fc); err != nil {
		return nil, err
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}

	c.updateDerived()
	return c, nil
}

func loadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &fc, nil
}

func (c *Config) apply(fc *FileConfig) error {
	setIf(&c.dataDir, fc.DataDir)
	setIf(&c.cacheDir, fc.CacheDir)
	setIf(&c.stateDir, fc.StateDir)
	setIf(&c.nativeLibDir, fc.Host.NativeLibDir)
	setIf(&c.assetDir, fc.Host.AssetDir)
	setIf(&c.packageArchive, fc.Host.PackageArchive)
	setIf(&c.systemShell, fc.Host.SystemShell)
	setIf(&c.hostsFile, fc.Host.HostsFile)
	if fc.Workers > 0 {
		c.workers = fc.Workers
	}
	if fc.Arch != "" {
		a, err := ParseArch(fc.Arch)
		if err != nil {
			return err
		}
		c.arch = a
	}
	return nil
}

func (c *Config) applyEnv() error {
	setIf(&c.dataDir, os.Getenv("LINUXENV_DATA_DIR"))
	setIf(&c.cacheDir, os.Getenv("LINUXENV_CACHE_DIR"))
	setIf(&c.stateDir, os.Getenv("LINUXENV_STATE_DIR"))
	setIf(&c.nativeLibDir, os.Getenv("LINUXENV_NATIVE_LIB_DIR"))
	setIf(&c.assetDir, os.Getenv("LINUXENV_ASSET_DIR"))
	setIf(&c.packageArchive, os.Getenv("LINUXENV_PACKAGE_ARCHIVE"))
	setIf(&c.systemShell, os.Getenv("LINUXENV_SYSTEM_SHELL"))
	setIf(&c.hostsFile, os.Getenv("LINUXENV_HOSTS_FILE"))
	if v := os.Getenv("LINUXENV_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid LINUXENV_WORKERS %q", v)
		}
		c.workers = n
	}
	if v := os.Getenv("LINUXENV_ARCH"); v != "" {
		a, err := ParseArch(v)
		if err != nil {
			return err
		}
		c.arch = a
	}
	return nil
}

// applyHostDefaults picks Android locations when they exist and plain
// Linux ones otherwise. The native library dir defaults to a lib/ next to
// the running executable.
func (c *Config) applyHostDefaults() {
	c.systemShell = firstExisting("/system/bin/sh", "/bin/sh")
	c.hostsFile = firstExisting("/system/etc/hosts", "/etc/hosts")
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		c.nativeLibDir = filepath.Join(dir, "lib")
		c.assetDir = filepath.Join(dir, "assets")
	}
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return paths[len(paths)-1]
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
