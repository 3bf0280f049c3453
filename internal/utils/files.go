package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// IsSqf reports whether path names a squashfs container image.
func IsSqf(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".sqsh") || strings.HasSuffix(lower, ".sqf") || strings.HasSuffix(lower, ".squashfs")
}

// FileExists checks if a regular file exists at the given path.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// EnsureDir creates the directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
