package archive

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"linuxenv/pkg/common"
)

func TestExtract(t *testing.T) {
	tempDir := t.TempDir()

	// Test data
	fileName := "test.txt"
	fileContent := "hello world"
	dirName := "subdir"
	subFileName := "sub.txt"
	subFileContent := "hello sub"

	// Helper to create valid archive content
	createContent := func(w func(name string, content []byte) error) error {
		if err := w(fileName, []byte(fileContent)); err != nil {
			return err
		}
		if err := w(filepath.Join(dirName, subFileName), []byte(subFileContent)); err != nil {
			return err
		}
		return nil
	}

	// 1. Test Zip
	zipPath := filepath.Join(tempDir, "test.zip")
	createZip(t, zipPath, createContent)
	testExtraction(t, zipPath, fileContent, subFileContent)

	// 2. Test Tar
	tarPath := filepath.Join(tempDir, "test.tar")
	createTar(t, tarPath, nil, createContent)
	testExtraction(t, tarPath, fileContent, subFileContent)

	// 3. Test Tar.gz
	tgzPath := filepath.Join(tempDir, "test.tar.gz")
	createTar(t, tgzPath, func(w io.Writer) io.WriteCloser {
		return gzip.NewWriter(w)
	}, createContent)
	testExtraction(t, tgzPath, fileContent, subFileContent)

	// 4. Test Tar.zst
	zstPath := filepath.Join(tempDir, "test.tar.zst")
	createTar(t, zstPath, func(w io.Writer) io.WriteCloser {
		e, _ := zstd.NewWriter(w)
		return e
	}, createContent)
	testExtraction(t, zstPath, fileContent, subFileContent)

	// 5. Test Tar.xz
	xzPath := filepath.Join(tempDir, "test.tar.xz")
	createTar(t, xzPath, func(w io.Writer) io.WriteCloser {
		e, _ := xz.NewWriter(w)
		return e
	}, createContent)
	testExtraction(t, xzPath, fileContent, subFileContent)
}

func TestExtractTarGzSkipsTraversal(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "evil.tar.gz")
	writeEntries(t, src, []entry{
		{hdr: tar.Header{Name: "../outside.txt", Typeflag: tar.TypeReg, Mode: 0644}, body: "escaped"},
		{hdr: tar.Header{Name: "/abs.txt", Typeflag: tar.TypeReg, Mode: 0644}, body: "abs"},
		{hdr: tar.Header{Name: "a/../../up.txt", Typeflag: tar.TypeReg, Mode: 0644}, body: "up"},
		{hdr: tar.Header{Name: "./etc/ok.txt", Typeflag: tar.TypeReg, Mode: 0644}, body: "ok"},
	})

	dest := filepath.Join(tempDir, "root")
	if err := ExtractTarGz(context.Background(), src, dest, nil); err != nil {
		t.Fatalf("ExtractTarGz failed: %v", err)
	}

	checkFile(t, filepath.Join(dest, "etc", "ok.txt"), "ok")
	for _, p := range []string{
		filepath.Join(tempDir, "outside.txt"),
		filepath.Join(tempDir, "up.txt"),
		filepath.Join(dest, "abs.txt"),
	} {
		if _, err := os.Stat(p); err == nil {
			t.Errorf("%s should not exist", p)
		}
	}
}

func TestExtractTarLinksAndModes(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "rootfs.tar.gz")
	writeEntries(t, src, []entry{
		{hdr: tar.Header{Name: "bin/", Typeflag: tar.TypeDir, Mode: 0755}},
		{hdr: tar.Header{Name: "bin/busybox", Typeflag: tar.TypeReg, Mode: 0700}, body: "#!/bin/true\n"},
		{hdr: tar.Header{Name: "bin/sh", Typeflag: tar.TypeSymlink, Linkname: "/bin/busybox"}},
		{hdr: tar.Header{Name: "bin/ash", Typeflag: tar.TypeLink, Linkname: "bin/busybox"}},
		{hdr: tar.Header{Name: "etc/motd", Typeflag: tar.TypeReg, Mode: 0644}, body: "hi"},
		// A symlinked dir must not become a way out.
		{hdr: tar.Header{Name: "escape", Typeflag: tar.TypeSymlink, Linkname: tempDir}},
		{hdr: tar.Header{Name: "escape/pwned", Typeflag: tar.TypeReg, Mode: 0644}, body: "x"},
	})

	dest := filepath.Join(tempDir, "root")
	if err := Extract(context.Background(), src, dest, Options{}); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	fi, err := os.Stat(filepath.Join(dest, "bin", "busybox"))
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm()&0111 != 0111 {
		t.Errorf("busybox mode %v, want all exec bits", fi.Mode())
	}
	if link, err := os.Readlink(filepath.Join(dest, "bin", "sh")); err != nil || link != "/bin/busybox" {
		t.Errorf("bin/sh link = %q, %v", link, err)
	}
	checkFile(t, filepath.Join(dest, "bin", "ash"), "#!/bin/true\n")
	if fi, err := os.Stat(filepath.Join(dest, "etc", "motd")); err != nil || fi.Mode().Perm()&0111 != 0 {
		t.Errorf("motd should not be executable: %v %v", fi, err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "pwned")); err == nil {
		t.Errorf("entry written through symlink")
	}
}

func TestExtractTarThroughInRootDirLinks(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "rootfs.tar.gz")
	writeEntries(t, src, []entry{
		{hdr: tar.Header{Name: "usr/lib/", Typeflag: tar.TypeDir, Mode: 0755}},
		{hdr: tar.Header{Name: "usr/lib64", Typeflag: tar.TypeSymlink, Linkname: "lib"}},
		{hdr: tar.Header{Name: "usr/lib64/libc.so", Typeflag: tar.TypeReg, Mode: 0644}, body: "libc"},
		{hdr: tar.Header{Name: "lib", Typeflag: tar.TypeSymlink, Linkname: "/usr/lib"}},
		{hdr: tar.Header{Name: "lib/ld.so", Typeflag: tar.TypeReg, Mode: 0755}, body: "ld"},
		{hdr: tar.Header{Name: "up", Typeflag: tar.TypeSymlink, Linkname: "../.."}},
		{hdr: tar.Header{Name: "up/pwned", Typeflag: tar.TypeReg, Mode: 0644}, body: "x"},
	})

	dest := filepath.Join(tempDir, "a", "root")
	if err := Extract(context.Background(), src, dest, Options{}); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	checkFile(t, filepath.Join(dest, "usr", "lib", "libc.so"), "libc")
	checkFile(t, filepath.Join(dest, "usr", "lib", "ld.so"), "ld")
	if _, err := os.Stat(filepath.Join(tempDir, "pwned")); err == nil {
		t.Error("entry written through escaping link")
	}
}

func TestExtractCancelled(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "a.tar.gz")
	writeEntries(t, src, []entry{
		{hdr: tar.Header{Name: "f", Typeflag: tar.TypeReg, Mode: 0644}, body: "x"},
	})
	flag := new(atomic.Bool)
	flag.Store(true)
	err := ExtractTarGz(context.Background(), src, filepath.Join(tempDir, "out"), flag)
	if !errors.Is(err, common.ErrCancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
}

func TestExtractCorrupt(t *testing.T) {
	src := filepath.Join(t.TempDir(), "bad.tar.gz")
	if err := os.WriteFile(src, []byte("not gzip at all"), 0644); err != nil {
		t.Fatal(err)
	}
	err := ExtractTarGz(context.Background(), src, t.TempDir(), nil)
	if !errors.Is(err, common.ErrExtractionFailed) {
		t.Fatalf("expected ExtractionFailed, got %v", err)
	}
	if IsGzip(src) {
		t.Error("IsGzip true for plain text")
	}
}

func TestExtractBootstrap(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "bootstrap.zip")
	createZip(t, src, func(w func(string, []byte) error) error {
		for name, body := range map[string]string{
			"bin/python3.11":     "py",
			"lib/libpython.so":   "so",
			"etc/profile":        "# profile",
			"SYMLINKS.txt":       "python3.11←./bin/python3\nbad←../../escape\n",
			"share/doc/README":   "doc",
			"../outside/evil.sh": "evil",
		} {
			if err := w(name, []byte(body)); err != nil {
				return err
			}
		}
		return nil
	})

	usr := filepath.Join(tempDir, "root", "usr")
	if err := ExtractBootstrap(context.Background(), src, usr, Options{}); err != nil {
		t.Fatalf("ExtractBootstrap failed: %v", err)
	}

	fi, err := os.Stat(filepath.Join(usr, "bin", "python3.11"))
	if err != nil || fi.Mode().Perm()&0100 == 0 {
		t.Errorf("python3.11 not executable: %v %v", fi, err)
	}
	if link, err := os.Readlink(filepath.Join(usr, "bin", "python3")); err != nil || link != "python3.11" {
		t.Errorf("python3 link = %q, %v", link, err)
	}
	if _, err := os.Lstat(filepath.Join(tempDir, "escape")); err == nil {
		t.Error("symlink escaped usr dir")
	}
	if _, err := os.Stat(filepath.Join(tempDir, "root", "outside")); err == nil {
		t.Error("traversal entry extracted")
	}
	if _, err := os.Stat(filepath.Join(usr, symlinksFile)); err == nil {
		t.Error("SYMLINKS.txt should not be extracted")
	}
}

func TestExtractZipExecPrefixesAndHidden(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "py.zip")
	createZip(t, src, func(w func(string, []byte) error) error {
		if err := w("usr/bin/python3", []byte("py")); err != nil {
			return err
		}
		if err := w("usr/share/x", []byte("x")); err != nil {
			return err
		}
		return w("usr/.hidden", []byte("h"))
	})
	dest := filepath.Join(tempDir, "root")
	opts := Options{ExecPrefixes: []string{"usr/bin/", "bin/"}, SkipHidden: true}
	if err := ExtractZip(context.Background(), src, dest, opts); err != nil {
		t.Fatalf("ExtractZip failed: %v", err)
	}
	if fi, err := os.Stat(filepath.Join(dest, "usr", "bin", "python3")); err != nil || fi.Mode().Perm()&0111 == 0 {
		t.Errorf("python3 not executable: %v %v", fi, err)
	}
	if fi, err := os.Stat(filepath.Join(dest, "usr", "share", "x")); err != nil || fi.Mode().Perm()&0111 != 0 {
		t.Errorf("share/x should not be executable: %v %v", fi, err)
	}
	if _, err := os.Stat(filepath.Join(dest, "usr", ".hidden")); err == nil {
		t.Error("hidden entry extracted")
	}
}

type entry struct {
	hdr  tar.Header
	body string
}

func writeEntries(t *testing.T, path string, entries []entry) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()
	for _, e := range entries {
		h := e.hdr
		h.Size = int64(len(e.body))
		if err := tw.WriteHeader(&h); err != nil {
			t.Fatal(err)
		}
		if e.body != "" {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
}

func createZip(t *testing.T, path string, contentGen func(func(string, []byte) error) error) {
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	defer w.Close()

	err = contentGen(func(name string, content []byte) error {
		f, err := w.Create(name)
		if err != nil {
			return err
		}
		_, err = f.Write(content)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
}

func createTar(t *testing.T, path string, compressor func(io.Writer) io.WriteCloser, contentGen func(func(string, []byte) error) error) {
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var w io.WriteCloser = f
	if compressor != nil {
		w = compressor(f)
		defer w.Close()
	}

	tw := tar.NewWriter(w)
	defer tw.Close()

	err = contentGen(func(name string, content []byte) error {
		hdr := &tar.Header{
			Name: name,
			Mode: 0600,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err := tw.Write(content)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
}

func testExtraction(t *testing.T, archivePath string, expectFile, expectSubFile string) {
	dest := filepath.Join(filepath.Dir(archivePath), "extract_"+filepath.Base(archivePath))
	err := Extract(context.Background(), archivePath, dest, Options{})
	if err != nil {
		t.Fatalf("Extract failed for %s: %v", archivePath, err)
	}

	checkFile(t, filepath.Join(dest, "test.txt"), expectFile)
	checkFile(t, filepath.Join(dest, "subdir", "sub.txt"), expectSubFile)
}

func checkFile(t *testing.T, path, content string) {
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read extracted file %s: %v", path, err)
	}
	if string(b) != content {
		t.Errorf("File %s content mismatch. Want %q, got %q", path, content, string(b))
	}
}
