package bootstrap

import (
	"log/slog"
	"os"
	"path/filepath"
)

type link struct {
	path   string // relative to the root
	target string
}

// dirLinks make the Termux usr tree reachable at the usual top-level paths.
var dirLinks = []link{
	{"bin", "usr/bin"},
	{"lib", "usr/lib"},
	{"lib64", "usr/lib"},
	{"sbin", "usr/bin"},
}

var pythonLinks = []link{
	{"usr/bin/python3", "python3.11"},
	{"usr/bin/python", "python3"},
	{"usr/bin/pip", "pip3"},
	{"usr/bin/python3.10", "python3"},
	{"usr/local/bin/python3", "../../../usr/bin/python3"},
}

// linkAll creates each link that does not exist yet, dangling or not.
func linkAll(root string, links []link) {
	for _, l := range links {
		p := filepath.Join(root, l.path)
		if _, err := os.Lstat(p); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			slog.Debug("Cannot create link parent", "path", l.path, "error", err)
			continue
		}
		if err := os.Symlink(l.target, p); err != nil {
			slog.Debug("Cannot create link", "path", l.path, "error", err)
		}
	}
}
