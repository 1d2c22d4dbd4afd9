package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewDerivedPaths(t *testing.T) {
	base := t.TempDir()
	c := New(base)

	if got, want := c.GetEnvRoot(), filepath.Join(base, "data", "linux_env"); got != want {
		t.Errorf("env root: got %s want %s", got, want)
	}
	if got, want := c.GetFallbackBinDir(), filepath.Join(base, "cache", "bin"); got != want {
		t.Errorf("fallback bin: got %s want %s", got, want)
	}
	if got, want := c.GetMarkerFile(), filepath.Join(base, "state", "proot.marker"); got != want {
		t.Errorf("marker: got %s want %s", got, want)
	}

	w := c.Checkout()
	w.SetDataDir(filepath.Join(base, "other"))
	if got, want := c.GetPrimaryBinDir(), filepath.Join(base, "other", "bin"); got != want {
		t.Errorf("primary bin after SetDataDir: got %s want %s", got, want)
	}
}

func TestFrozenConfigPanics(t *testing.T) {
	c := New(t.TempDir())
	c.Freeze()
	defer func() {
		if recover() == nil {
			t.Error("expected panic modifying frozen config")
		}
	}()
	c.SetWorkers(2)
}

func TestInitReadsYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `data_dir: ` + filepath.Join(dir, "d") + `
workers: 7
arch: aarch64
host:
  native_lib_dir: /opt/native
  system_shell: /bin/sh
`
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LINUXENV_HOSTS_FILE", "/tmp/hosts")

	ro, err := Init(path)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if ro.GetWorkers() != 7 {
		t.Errorf("workers: got %d", ro.GetWorkers())
	}
	if ro.GetArch() != ArchArm64 {
		t.Errorf("arch: got %s", ro.GetArch())
	}
	if ro.GetNativeLibDir() != "/opt/native" {
		t.Errorf("native lib dir: got %s", ro.GetNativeLibDir())
	}
	if ro.GetHostsFile() != "/tmp/hosts" {
		t.Errorf("hosts file: got %s", ro.GetHostsFile())
	}
	if ro.GetEnvRoot() != filepath.Join(dir, "d", "linux_env") {
		t.Errorf("env root: got %s", ro.GetEnvRoot())
	}
}

func TestInitMissingExplicitFile(t *testing.T) {
	if _, err := Init(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestInitBadWorkersEnv(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("LINUXENV_WORKERS", "zero")
	if _, err := Init(""); err == nil {
		t.Error("expected error for invalid LINUXENV_WORKERS")
	}
}
