package repair

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	resolvConf = "nameserver 8.8.8.8\nnameserver 1.1.1.1\nnameserver 8.8.4.4\n"
	hostsFile  = "127.0.0.1 localhost\n::1 localhost\n"
)

// Configure writes DNS and hosts files and creates the mount points proot
// binds onto.
func Configure(root string) error {
	if err := os.MkdirAll(filepath.Join(root, "etc"), 0755); err != nil {
		return err
	}
	for name, body := range map[string]string{"etc/resolv.conf": resolvConf, "etc/hosts": hostsFile} {
		p := filepath.Join(root, name)
		// Images ship these as links into /run; replace rather than follow.
		os.Remove(p)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	for _, d := range []string{"tmp", "root", "proc", "sys", "dev"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			return err
		}
	}
	return os.Chmod(filepath.Join(root, "tmp"), 0777|os.ModeSticky)
}
