package sandbox

import (
	"os/exec"
	"strings"
	"testing"
)

func params(cmd *string) Params {
	return Params{
		ProotPath:    "/data/bin/proot",
		RootPath:     "/data/linux_env/my env",
		NativeLibDir: "/app/lib",
		TmpDir:       "/data/linux_env/my env/tmp",
		HostCwd:      "/data",
		SystemShell:  "/system/bin/sh",
		HostsFile:    "/system/etc/hosts",
		Command:      cmd,
	}
}

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"plain":      "'plain'",
		"it's":       `'it'\''s'`,
		"":           "''",
		"a b; rm -r": "'a b; rm -r'",
	}
	for in, want := range cases {
		if got := ShellQuote(in); got != want {
			t.Errorf("ShellQuote(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestShellQuoteRoundTrip(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no sh")
	}
	in := `it's "quoted" $HOME \n`
	out, err := exec.Command("sh", "-c", "printf %s "+ShellQuote(in)).Output()
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != in {
		t.Errorf("round trip: got %q want %q", out, in)
	}
}

func TestBuildInvocationOneShot(t *testing.T) {
	cmd := "echo 'hi'"
	inv := BuildInvocation(params(&cmd))

	if inv.ShellPath != "/system/bin/sh" || len(inv.Args) != 3 || inv.Args[0] != "/system/bin/sh" || inv.Args[1] != "-c" {
		t.Fatalf("unexpected shape: %+v", inv)
	}
	inline := inv.Args[2]
	want := "export PROOT_NO_SECCOMP=1; export PROOT_TMP_DIR='/data/linux_env/my env/tmp'; " +
		"export PROOT_LOADER='/app/lib/libproot-loader.so'; export PROOT_LOADER_32='/app/lib/libproot-loader32.so'; " +
		"export LD_LIBRARY_PATH='/app/lib'; export LD_PRELOAD=; " +
		"exec '/data/bin/proot' --link2symlink -0 -r '/data/linux_env/my env' " +
		"-b /dev -b /dev/urandom:/dev/random -b /proc -b '/system/etc/hosts:/etc/hosts' " +
		"-b /proc/stat:/proc/stat -b /proc/version:/proc/version -b /sys -w '/' /bin/sh -c 'echo '\\''hi'\\'''"
	if inline != want {
		t.Errorf("inline mismatch\n got: %s\nwant: %s", inline, want)
	}
	if inv.Cwd != "/data" {
		t.Errorf("cwd %s", inv.Cwd)
	}
	if !contains(inv.Env, "PATH="+GuestPath) || !contains(inv.Env, "LD_PRELOAD=") || !contains(inv.Env, "HOME=/root") {
		t.Errorf("env %v", inv.Env)
	}
}

func TestBuildInvocationInteractive(t *testing.T) {
	inv := BuildInvocation(params(nil))
	inline := inv.Args[2]
	if !strings.HasSuffix(inline, "-w '/root' /bin/sh") {
		t.Errorf("interactive inline should end at the shell: %s", inline)
	}
	if strings.Contains(inline, " -c ") {
		t.Errorf("interactive inline has -c: %s", inline)
	}
}

func TestBuildInvocationWorkingDir(t *testing.T) {
	cmd := "pwd"
	p := params(&cmd)
	p.WorkingDir = "/home/user"
	inline := BuildInvocation(p).Args[2]
	if !strings.Contains(inline, "-w '/home/user'") {
		t.Errorf("working dir not honoured: %s", inline)
	}
}

func TestInvocationIsIndependent(t *testing.T) {
	cmd := "ls"
	p := params(&cmd)
	inv := BuildInvocation(p)
	before := inv.Args[2]

	cmd = "rm -rf /"
	p.RootPath = "/elsewhere"
	if inv.Args[2] != before {
		t.Error("invocation changed after params mutation")
	}

	c := inv.Clone()
	c.Env[0] = "X=1"
	if inv.Env[0] == "X=1" {
		t.Error("Clone shares Env")
	}

	ec := inv.Cmd()
	ec.Args[0] = "mutated"
	if inv.Args[0] == "mutated" {
		t.Error("Cmd shares Args")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
