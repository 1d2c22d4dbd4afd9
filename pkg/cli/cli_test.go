package cli

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"linuxenv/pkg/common"
	"linuxenv/pkg/display"
	"linuxenv/pkg/environment"
)

const fakeProot = `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    -r|-b|-w) shift 2 ;;
    --*|-0) shift ;;
    *) break ;;
  esac
done
exec "$@"
`

type fakeResolver struct{ path string }

func (f fakeResolver) Resolve(context.Context) (common.ExecutableLocation, error) {
	return common.ExecutableLocation{Kind: common.LocationExtracted, Path: f.path}, nil
}

func (fakeResolver) Marker() string { return "extracted-to-primary" }

type staticCatalog common.MirrorList

func (c staticCatalog) Mirrors(context.Context, common.Distro) (common.MirrorList, error) {
	return common.MirrorList(c), nil
}

type nopInstaller struct{}

func (nopInstaller) Install(context.Context, common.Environment, display.Task) error { return nil }

type harness struct {
	base   string
	config string
	opts   []environment.Option
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	base := t.TempDir()
	proot := filepath.Join(base, "proot")
	if err := os.WriteFile(proot, []byte(fakeProot), 0755); err != nil {
		t.Fatal(err)
	}
	rootfs := filepath.Join(base, "alpine.tar.gz")
	writeRootfs(t, rootfs)

	cfgPath := filepath.Join(base, "config.yaml")
	yaml := fmt.Sprintf(`data_dir: %[1]s/data
cache_dir: %[1]s/cache
state_dir: %[1]s/state
workers: 2
host:
  native_lib_dir: %[1]s/lib
  asset_dir: %[1]s/assets
  system_shell: /bin/sh
  hosts_file: /etc/hosts
`, base)
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	return &harness{
		base:   base,
		config: cfgPath,
		opts: []environment.Option{
			environment.WithResolver(fakeResolver{path: proot}),
			environment.WithCatalog(staticCatalog{"file://" + rootfs}),
			environment.WithInstaller(nopInstaller{}),
			environment.WithNetworkCheck(func(context.Context) error { return nil }),
		},
	}
}

func (h *harness) run(t *testing.T, args ...string) (*ExecutionResult, string, string, error) {
	t.Helper()
	return h.runCtx(context.Background(), t, args...)
}

func (h *harness) runCtx(ctx context.Context, t *testing.T, args ...string) (*ExecutionResult, string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	all := append([]string{"--config", h.config}, args...)
	res, err := Run(ctx, all, &stdout, &stderr, h.opts...)
	return res, stdout.String(), stderr.String(), err
}

// install lays out a root that counts as installed without running setup.
func (h *harness) install(t *testing.T, id string) string {
	t.Helper()
	root := filepath.Join(h.base, "data", "linux_env", id)
	for _, d := range []string{"etc", "bin", "tmp"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "etc", "os-release"), []byte("ID=alpine\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "bin", "sh"), []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return root
}

func writeRootfs(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	add := func(name string, mode int64, body []byte) {
		tw.WriteHeader(&tar.Header{Name: name, Mode: mode, Size: int64(len(body)), Typeflag: tar.TypeReg})
		tw.Write(body)
	}
	add("etc/os-release", 0644, []byte("ID=alpine\n"))
	add("bin/busybox", 0755, []byte("#!/bin/sh\n"))
	tw.WriteHeader(&tar.Header{Name: "bin/sh", Linkname: "/bin/busybox", Typeflag: tar.TypeSymlink})
	noise := make([]byte, 4096)
	rand.New(rand.NewSource(3)).Read(noise)
	add("usr/share/noise", 0644, noise)
	tw.Close()
	gz.Close()
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestUsageListsCommands(t *testing.T) {
	var stdout bytes.Buffer
	res, err := Run(context.Background(), nil, &stdout, &bytes.Buffer{})
	if err != nil || res.ExitCode != 0 {
		t.Fatalf("Run: %v %+v", err, res)
	}
	for _, c := range commands() {
		if !strings.Contains(stdout.String(), c.Name) {
			t.Errorf("usage does not mention %q", c.Name)
		}
	}
	if !strings.Contains(stdout.String(), "--jq") {
		t.Error("usage does not list global flags")
	}
}

func TestCommandHelp(t *testing.T) {
	for _, args := range [][]string{{"help", "exec"}, {"exec", "--help"}} {
		var stdout bytes.Buffer
		if _, err := Run(context.Background(), args, &stdout, &bytes.Buffer{}); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		out := stdout.String()
		if !strings.Contains(out, "--timeout") || !strings.Contains(out, "exec [--env id]") {
			t.Errorf("%v: help output %q", args, out)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := Run(context.Background(), []string{"stat"}, &bytes.Buffer{}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), `did you mean "status"`) {
		t.Errorf("got %v", err)
	}
	_, err = Run(context.Background(), []string{"frobnicate"}, &bytes.Buffer{}, &bytes.Buffer{})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("got %v", err)
	}
}

func TestVersionWithJQ(t *testing.T) {
	h := newHarness(t)
	_, out, _, err := h.run(t, "--jq", ".os", "version")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != runtime.GOOS {
		t.Errorf("got %q", out)
	}
}

func TestBadJQFilter(t *testing.T) {
	h := newHarness(t)
	if _, _, _, err := h.run(t, "--jq", ".[", "version"); err == nil {
		t.Error("expected a jq parse error")
	}
}

func TestArgumentErrors(t *testing.T) {
	h := newHarness(t)
	cases := [][]string{
		{"setup"},
		{"setup", "a", "b"},
		{"setup", "--distro", "gentoo", "dev"},
		{"setup", "../escape"},
		{"status"},
		{"exec"},
		{"mirrors", "plan9"},
		{"list", "--bogus"},
	}
	for _, args := range cases {
		if _, _, _, err := h.run(t, args...); err == nil {
			t.Errorf("%v: expected an error", args)
		}
	}
}

func TestListEmpty(t *testing.T) {
	h := newHarness(t)
	_, out, _, err := h.run(t, "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No environments") {
		t.Errorf("got %q", out)
	}
	_, out, _, err = h.run(t, "--json", "list")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("json list %q", out)
	}
}

func TestSetupThenLifecycle(t *testing.T) {
	h := newHarness(t)
	res, out, stderr, err := h.run(t, "setup", "dev")
	if err != nil {
		t.Fatalf("setup: %v\n%s", err, stderr)
	}
	if res.ExitCode != 0 || !strings.Contains(out, "dev") {
		t.Errorf("setup result %+v output %q", res, out)
	}
	if !strings.Contains(stderr, "Environment ready!") {
		t.Errorf("progress output %q", stderr)
	}

	_, out, _, err = h.run(t, "--json", "setup", "dev")
	if err != nil {
		t.Fatal(err)
	}
	var sr struct {
		Success          bool `json:"success"`
		AlreadyInstalled bool `json:"alreadyInstalled"`
	}
	if err := json.Unmarshal([]byte(out), &sr); err != nil || !sr.Success || !sr.AlreadyInstalled {
		t.Errorf("second setup %q (%v)", out, err)
	}

	_, out, _, err = h.run(t, "--jq", ".[].distro", "list")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "alpine" {
		t.Errorf("list distro %q", out)
	}

	res, out, _, err = h.run(t, "status", "dev")
	if err != nil || res.ExitCode != 0 || !strings.Contains(out, "alpine") {
		t.Errorf("status: %v %+v %q", err, res, out)
	}

	if _, _, _, err := h.run(t, "delete", "dev"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, _, err := h.run(t, "status", "dev"); common.KindOf(err) != common.NoEnvironment {
		t.Errorf("status after delete: %v", err)
	}
	if _, _, _, err := h.run(t, "delete", "dev"); err == nil {
		t.Error("second delete succeeded")
	}
}

func TestSetupCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, _, stderr, err := h.runCtx(ctx, t, "setup", "dev")
	if err != nil {
		t.Fatalf("cancelled setup returned %v", err)
	}
	if res.ExitCode != exitCancelled || !strings.Contains(stderr, "stopped") {
		t.Errorf("got %+v %q", res, stderr)
	}
	if _, err := os.Stat(filepath.Join(h.base, "data", "linux_env", "dev")); !os.IsNotExist(err) {
		t.Error("partial root left behind")
	}
}

func TestStatusIncomplete(t *testing.T) {
	h := newHarness(t)
	if err := os.MkdirAll(filepath.Join(h.base, "data", "linux_env", "half"), 0755); err != nil {
		t.Fatal(err)
	}
	res, out, _, err := h.run(t, "status", "half")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 1 || !strings.Contains(out, "half") {
		t.Errorf("got %+v %q", res, out)
	}
}

func TestExecStreamsAndExits(t *testing.T) {
	h := newHarness(t)
	h.install(t, "dev")

	res, out, stderr, err := h.run(t, "exec", "--env", "dev", "--", "echo", "hi;", "echo", "oops", ">&2;", "exit", "3")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit %d", res.ExitCode)
	}
	if strings.TrimSpace(out) != "hi" || !strings.Contains(stderr, "oops") {
		t.Errorf("stdout %q stderr %q", out, stderr)
	}
}

func TestExecDefaultsToInstalledEnv(t *testing.T) {
	h := newHarness(t)
	h.install(t, "only")
	res, out, _, err := h.run(t, "--json", "exec", "pwd")
	if err != nil {
		t.Fatal(err)
	}
	var cr common.CommandResult
	if err := json.Unmarshal([]byte(out), &cr); err != nil {
		t.Fatalf("%q: %v", out, err)
	}
	if res.ExitCode != 0 || cr.ExitCode != 0 || cr.Stdout == "" {
		t.Errorf("got %+v %+v", res, cr)
	}
}

func TestExecTimeout(t *testing.T) {
	h := newHarness(t)
	h.install(t, "dev")
	res, _, stderr, err := h.run(t, "exec", "--env", "dev", "--timeout", "200ms", "--", "sleep", "10")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 255 || !strings.Contains(stderr, "Timed out after 200ms") {
		t.Errorf("got %+v %q", res, stderr)
	}
}

func TestExecNoEnvironment(t *testing.T) {
	h := newHarness(t)
	res, _, stderr, err := h.run(t, "exec", "true")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 255 || !strings.Contains(stderr, "No Linux environment found.") {
		t.Errorf("got %+v %q", res, stderr)
	}
}

func TestShellReturnsInvocation(t *testing.T) {
	h := newHarness(t)
	root := h.install(t, "dev")
	res, _, _, err := h.run(t, "shell", "--env", "dev")
	if err != nil {
		t.Fatal(err)
	}
	if res.Exec == nil || res.Exec.ShellPath != "/bin/sh" {
		t.Fatalf("got %+v", res)
	}
	if !strings.Contains(strings.Join(res.Exec.Args, " "), root) {
		t.Errorf("launch args do not mention the root: %v", res.Exec.Args)
	}

	if _, _, _, err := h.run(t, "shell", "--env", "missing"); common.KindOf(err) != common.NoEnvironment {
		t.Errorf("missing env: %v", err)
	}
}

func TestInfo(t *testing.T) {
	h := newHarness(t)
	h.install(t, "dev")
	_, out, _, err := h.run(t, "--json", "info")
	if err != nil {
		t.Fatal(err)
	}
	var info environment.StorageInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("%q: %v", out, err)
	}
	if !info.ExecutableOK || info.Marker != "extracted-to-primary" || info.TotalSpaceBytes == 0 {
		t.Errorf("got %+v", info)
	}

	_, out, _, err = h.run(t, "info")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Environments") || !strings.Contains(out, "extracted-to-primary") {
		t.Errorf("text info %q", out)
	}
}

func TestMirrors(t *testing.T) {
	h := newHarness(t)
	_, out, _, err := h.run(t, "--jq", ".[0]", "mirrors", "alpine")
	if err != nil {
		t.Fatal(err)
	}
	first := strings.TrimSpace(out)
	if !strings.HasPrefix(first, "https://") || !strings.Contains(first, "alpine-minirootfs") {
		t.Errorf("first mirror %q", first)
	}
}

func TestLastLine(t *testing.T) {
	for in, want := range map[string]string{
		"":                "",
		"one":             "one",
		"a\nb\n":          "b",
		"err\nTimed out": "Timed out",
	} {
		if got := lastLine(in); got != want {
			t.Errorf("lastLine(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLineDisplayThrottles(t *testing.T) {
	var buf bytes.Buffer
	task := newLineDisplay(&buf).StartTask("setup")
	task.Progress(0.10, "Downloading alpine rootfs…")
	task.Progress(0.101, "1.2 MB downloaded")
	task.Progress(0.102, "1.3 MB downloaded")
	task.Progress(0.20, "5.0 MB downloaded")
	task.Progress(0.62, "Extracting rootfs…")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Errorf("got %d lines: %q", len(lines), lines)
	}
}
