package common

import (
	"fmt"
	"strings"
)

// ArchType represents a host CPU architecture.
type ArchType string

const (
	// ArchArm64 represents the AArch64/ARM64 architecture.
	ArchArm64 ArchType = "arm64"
	// ArchArm represents 32-bit ARM.
	ArchArm ArchType = "arm"
	// ArchX64 represents the x86_64/AMD64 architecture.
	ArchX64 ArchType = "x64"
	// ArchX86 represents 32-bit x86.
	ArchX86 ArchType = "x86"
	// ArchUnknown is used when the architecture cannot be determined.
	ArchUnknown ArchType = "unknown"
)

// ParseArch converts a string representation of a CPU architecture into an ArchType.
func ParseArch(arch string) (ArchType, error) {
	switch strings.ToLower(arch) {
	case "arm64", "aarch64", "arm64-v8a":
		return ArchArm64, nil
	case "arm", "armv7", "armv7l", "armeabi-v7a":
		return ArchArm, nil
	case "amd64", "x64", "x86_64":
		return ArchX64, nil
	case "386", "x86", "i686":
		return ArchX86, nil
	case "unknown":
		return ArchUnknown, nil
	default:
		return ArchUnknown, fmt.Errorf("unsupported architecture: %s", arch)
	}
}

// String returns the string representation of the ArchType.
func (a ArchType) String() string {
	return string(a)
}

// Machine returns the uname-style machine name used in rootfs and
// bootstrap file names (e.g. "aarch64").
func (a ArchType) Machine() string {
	switch a {
	case ArchArm64:
		return "aarch64"
	case ArchArm:
		return "arm"
	case ArchX64:
		return "x86_64"
	case ArchX86:
		return "i686"
	default:
		return string(a)
	}
}

// ABIs returns the native library directory names a host package may use
// for this architecture, most specific first.
func (a ArchType) ABIs() []string {
	switch a {
	case ArchArm64:
		return []string{"arm64-v8a", "aarch64"}
	case ArchArm:
		return []string{"armeabi-v7a", "arm"}
	case ArchX64:
		return []string{"x86_64"}
	case ArchX86:
		return []string{"x86"}
	default:
		return nil
	}
}
