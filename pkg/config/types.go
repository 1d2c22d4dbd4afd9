// Package config manages application-wide settings and directory structures.
// It follows XDG specifications for storing cache, data, configuration, and state,
// and layers an optional YAML file and LINUXENV_* variables on top.
package config

import (
	"linuxenv/pkg/common"
)

// ArchType represents a target CPU architecture.
type ArchType = common.ArchType

const (
	ArchArm64   ArchType = common.ArchArm64
	ArchArm     ArchType = common.ArchArm
	ArchX64     ArchType = common.ArchX64
	ArchX86     ArchType = common.ArchX86
	ArchUnknown ArchType = common.ArchUnknown
)

// ParseArch converts a string representation of a CPU architecture into an ArchType.
func ParseArch(arch string) (ArchType, error) {
	return common.ParseArch(arch)
}

// FileConfig is the on-disk YAML shape. Empty fields keep their defaults.
type FileConfig struct {
	// DataDir holds environments, the primary launcher copy and support libraries.
	DataDir string `yaml:"data_dir"`
	// CacheDir holds the fallback launcher copy and downloads.
	CacheDir string `yaml:"cache_dir"`
	// StateDir holds the launcher marker and environment records.
	StateDir string `yaml:"state_dir"`

	Host HostConfig `yaml:"host"`

	// Workers bounds concurrently running setup/exec requests.
	Workers int `yaml:"workers"`
	// Arch overrides the detected architecture.
	Arch string `yaml:"arch"`
}

// HostConfig describes where the host packaging put things.
type HostConfig struct {
	// NativeLibDir is the always-executable directory holding libproot.so
	// and its loader helpers.
	NativeLibDir string `yaml:"native_lib_dir"`
	// AssetDir holds the bundled proot-<arch> asset.
	AssetDir string `yaml:"asset_dir"`
	// PackageArchive is the host application's own package (a zip) scanned
	// for ABI library entries when no asset is present.
	PackageArchive string `yaml:"package_archive"`
	// SystemShell is the privileged shell allowed to exec from noexec tiers.
	SystemShell string `yaml:"system_shell"`
	// HostsFile is bind-mounted over /etc/hosts inside the sandbox.
	HostsFile string `yaml:"hosts_file"`
}
