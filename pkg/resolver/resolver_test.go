package resolver

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"linuxenv/pkg/common"
	"linuxenv/pkg/config"
)

// testConfig returns a config with host dirs under base and the arch
// pinned so asset names are predictable.
func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	base := t.TempDir()
	c := config.New(base)
	w := c.Checkout()
	w.SetNativeLibDir(filepath.Join(base, "native"))
	w.SetAssetDir(filepath.Join(base, "assets"))
	w.SetPackageArchive(filepath.Join(base, "host.apk"))
	w.SetArch(config.ArchArm64)
	return c, base
}

func writeAsset(t *testing.T, c *config.Config, body string) {
	t.Helper()
	if err := os.MkdirAll(c.GetAssetDir(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(c.GetAssetDir(), "proot-arm64"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveBundled(t *testing.T) {
	c, _ := testConfig(t)
	os.MkdirAll(c.GetNativeLibDir(), 0755)
	bundled := filepath.Join(c.GetNativeLibDir(), "libproot.so")
	os.WriteFile(bundled, []byte("elf"), 0644)

	loc, err := New(c).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if loc.Kind != common.LocationBundled || loc.Path != bundled {
		t.Errorf("got %v", loc)
	}
}

func TestResolveBundledPersistsMarker(t *testing.T) {
	c, _ := testConfig(t)
	os.MkdirAll(c.GetNativeLibDir(), 0755)
	bundled := filepath.Join(c.GetNativeLibDir(), "libproot.so")
	os.WriteFile(bundled, []byte("elf"), 0644)
	// A stale override whose target is gone must not win.
	os.MkdirAll(filepath.Dir(c.GetMarkerFile()), 0755)
	os.WriteFile(c.GetMarkerFile(), []byte("alt-path:/gone/proot"), 0644)

	r := New(c)
	if _, err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m := r.Marker(); m != MarkerBundled {
		t.Errorf("marker %q, want %q", m, MarkerBundled)
	}
	loc, err := r.Resolve(context.Background())
	if err != nil || loc.Kind != common.LocationBundled {
		t.Errorf("second Resolve %v %v", loc, err)
	}
}

func TestResolveExtractsOnceAndIsIdempotent(t *testing.T) {
	c, _ := testConfig(t)
	writeAsset(t, c, "proot-binary")

	r := New(c)
	first, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := filepath.Join(c.GetPrimaryBinDir(), "proot")
	if first.Kind != common.LocationExtracted || first.Path != want {
		t.Fatalf("got %v", first)
	}
	fi, err := os.Stat(want)
	if err != nil || fi.Mode().Perm()&0111 == 0 {
		t.Fatalf("extracted binary not executable: %v %v", fi, err)
	}
	if m := r.Marker(); m != MarkerPrimary {
		t.Errorf("marker %q", m)
	}

	// With the source gone, a second extraction would fail. It must not run.
	os.RemoveAll(c.GetAssetDir())
	second, err := New(c).Resolve(context.Background())
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if second != first {
		t.Errorf("second resolve %v != first %v", second, first)
	}
}

func TestResolveFallsBackWhenPrimaryUnwritable(t *testing.T) {
	c, _ := testConfig(t)
	writeAsset(t, c, "proot-binary")
	// A file where the primary dir should be makes MkdirAll fail.
	os.MkdirAll(filepath.Dir(c.GetPrimaryBinDir()), 0755)
	if err := os.WriteFile(c.GetPrimaryBinDir(), []byte("blocker"), 0644); err != nil {
		t.Fatal(err)
	}

	r := New(c)
	loc, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := filepath.Join(c.GetFallbackBinDir(), "proot")
	if loc.Kind != common.LocationExtractedFallback || loc.Path != want {
		t.Fatalf("got %v", loc)
	}
	if m := r.Marker(); m != "alt-path:"+want {
		t.Errorf("marker %q", m)
	}

	again, err := r.Resolve(context.Background())
	if err != nil || again != loc {
		t.Errorf("second resolve %v %v", again, err)
	}
}

func TestResolveOverrideMarker(t *testing.T) {
	c, base := testConfig(t)
	custom := filepath.Join(base, "custom-proot")
	os.WriteFile(custom, []byte("x"), 0755)
	os.MkdirAll(filepath.Dir(c.GetMarkerFile()), 0755)
	os.WriteFile(c.GetMarkerFile(), []byte("alt-path:"+custom), 0644)

	loc, err := New(c).Resolve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if loc.Kind != common.LocationOverride || loc.Path != custom {
		t.Errorf("got %v", loc)
	}
}

func TestResolveFromPackageArchive(t *testing.T) {
	c, _ := testConfig(t)
	f, err := os.Create(c.GetPackageArchive())
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, _ := zw.Create("lib/aarch64/libproot.so")
	w.Write([]byte("from-package"))
	zw.Close()
	f.Close()

	loc, err := New(c).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b, _ := os.ReadFile(loc.Path)
	if string(b) != "from-package" {
		t.Errorf("content %q", b)
	}
}

func TestResolveNothingAvailable(t *testing.T) {
	c, _ := testConfig(t)
	os.MkdirAll(c.GetNativeLibDir(), 0755)
	os.WriteFile(filepath.Join(c.GetNativeLibDir(), "libother.so"), nil, 0644)

	_, err := New(c).Resolve(context.Background())
	if !errors.Is(err, common.ErrNoExecutable) {
		t.Fatalf("expected NoExecutable, got %v", err)
	}
	msg := err.Error()
	for _, want := range []string{"libother.so", "Expected: " + filepath.Join(c.GetNativeLibDir(), "libproot.so"), "Arch: arm64", "extractError:"} {
		if !strings.Contains(msg, want) {
			t.Errorf("diagnostic missing %q:\n%s", want, msg)
		}
	}
}

func TestSetupLibs(t *testing.T) {
	c, _ := testConfig(t)
	os.MkdirAll(c.GetNativeLibDir(), 0755)
	os.WriteFile(filepath.Join(c.GetNativeLibDir(), "libtalloc.so.2"), []byte("talloc"), 0644)
	os.WriteFile(filepath.Join(c.GetNativeLibDir(), "libproot-loader.so"), []byte("loader"), 0644)

	if err := New(c).SetupLibs(); err != nil {
		t.Fatalf("SetupLibs: %v", err)
	}
	if b, _ := os.ReadFile(filepath.Join(c.GetLibDir(), "libtalloc.so.2")); string(b) != "talloc" {
		t.Errorf("talloc not copied")
	}
	fi, err := os.Stat(filepath.Join(c.GetLibDir(), "proot-loader"))
	if err != nil || fi.Mode().Perm()&0100 == 0 {
		t.Errorf("loader not copied executable: %v %v", fi, err)
	}
}
